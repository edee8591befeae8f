package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicechatllm/voicechat/internal/audio"
	"github.com/voicechatllm/voicechat/internal/chat"
	"github.com/voicechatllm/voicechat/internal/observability"
	"github.com/voicechatllm/voicechat/internal/speech"
)

// State is the conversation loop's position in the turn pipeline.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateGenerating   State = "generating"
	StateSynthesizing State = "synthesizing"
	StatePlaying      State = "playing"
	StateError        State = "error"
	StateStopped      State = "stopped"
)

// Hooks let the presentation layer observe loop progress. All callbacks are
// optional and are invoked from the goroutine running RunTurn.
type Hooks struct {
	OnState      func(State)
	OnTranscript func(text string)
	OnReplyDelta func(delta string)
	OnReply      func(turn *chat.Turn)
}

// Config assembles one session's conversation loop.
type Config struct {
	Capturer    Capturer
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Player      Player

	History  *chat.History
	Trim     chat.TrimPolicy
	Language string

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Hooks   Hooks
}

// Loop drives one voice turn end to end: capture, transcribe, generate,
// synthesize, play. It owns the session's history and must not be run
// concurrently for the same session.
type Loop struct {
	capturer    Capturer
	transcriber Transcriber
	generator   Generator
	synthesizer Synthesizer
	player      Player

	history  *chat.History
	trim     chat.TrimPolicy
	language string

	metrics *observability.Metrics
	log     zerolog.Logger
	hooks   Hooks

	mu      sync.Mutex
	state   State
	stopped bool
}

func New(cfg Config) *Loop {
	history := cfg.History
	if history == nil {
		history = chat.NewHistory("")
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	return &Loop{
		capturer:    cfg.Capturer,
		transcriber: cfg.Transcriber,
		generator:   cfg.Generator,
		synthesizer: cfg.Synthesizer,
		player:      cfg.Player,
		history:     history,
		trim:        cfg.Trim,
		language:    lang,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		hooks:       cfg.Hooks,
		state:       StateIdle,
	}
}

// History exposes the session's conversation record for display.
func (l *Loop) History() *chat.History { return l.history }

// State returns the loop's current pipeline state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stop moves the session to its terminal state. Any in-flight turn should
// additionally be cancelled through its context; RunTurn refuses to start
// new turns afterwards.
func (l *Loop) Stop() {
	l.mu.Lock()
	already := l.stopped
	l.stopped = true
	l.state = StateStopped
	l.mu.Unlock()
	if !already && l.hooks.OnState != nil {
		l.hooks.OnState(StateStopped)
	}
}

// Stopped reports whether the session reached its terminal state.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// RunTurn drives one complete voice turn. It returns the populated Turn, or
// ErrNoSpeech when nothing usable was said (nothing is appended to history),
// or a *StepError naming the failed stage. A context cancellation mid-turn
// rolls history back to its state before the turn started.
func (l *Loop) RunTurn(ctx context.Context) (*chat.Turn, error) {
	if l.Stopped() {
		return nil, ErrStopped
	}

	turn := &chat.Turn{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	checkpoint := l.history.Checkpoint()
	turnStart := time.Now()

	l.setState(StateListening)
	stageStart := time.Now()
	utterance, err := l.capturer.CaptureUtterance(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			return nil, l.skipTurn()
		}
		return nil, l.fail(StageCapture, checkpoint, err)
	}
	l.observeStage(StageCapture, stageStart)

	l.setState(StateTranscribing)
	stageStart = time.Now()
	text, err := l.transcriber.Transcribe(ctx, utterance)
	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			return nil, l.skipTurn()
		}
		return nil, l.fail(StageTranscribe, checkpoint, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// An unintelligible utterance is a valid outcome, not a failure.
		return nil, l.skipTurn()
	}
	l.observeStage(StageTranscribe, stageStart)

	return l.finishTurn(ctx, turn, checkpoint, text, turnStart)
}

// RunTextTurn drives one turn from typed input, skipping capture and
// transcription.
func (l *Loop) RunTextTurn(ctx context.Context, text string) (*chat.Turn, error) {
	if l.Stopped() {
		return nil, ErrStopped
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, l.skipTurn()
	}
	turn := &chat.Turn{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	return l.finishTurn(ctx, turn, l.history.Checkpoint(), text, time.Now())
}

func (l *Loop) finishTurn(ctx context.Context, turn *chat.Turn, checkpoint int, text string, turnStart time.Time) (*chat.Turn, error) {
	turn.UserText = text
	l.history.AppendUser(text)
	if l.hooks.OnTranscript != nil {
		l.hooks.OnTranscript(text)
	}

	l.setState(StateGenerating)
	contextMessages := l.history.Window(l.trim)
	stageStart := time.Now()
	reply, err := l.generator.Generate(ctx, contextMessages, func(delta string) error {
		if l.hooks.OnReplyDelta != nil {
			l.hooks.OnReplyDelta(delta)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, l.fail(StageGenerate, checkpoint, err)
	}
	l.observeStage(StageGenerate, stageStart)

	reply = strings.TrimSpace(reply)
	turn.ReplyText = reply

	if reply != "" {
		if err := l.speak(ctx, turn, reply, checkpoint); err != nil {
			return nil, err
		}
	}

	l.history.AppendAssistant(reply)
	turn.CompletedAt = time.Now().UTC()
	l.countTurn("completed")
	if l.metrics != nil {
		l.metrics.ObserveTurnLatency(time.Since(turnStart))
	}
	l.setState(StateIdle)
	if l.hooks.OnReply != nil {
		l.hooks.OnReply(turn)
	}
	return turn, nil
}

// speak synthesizes the reply one sentence chunk at a time and plays each
// chunk before synthesizing the next, so long replies start sounding early.
// checkpoint is the history position at turn start, so a cancellation here
// still unwinds the whole turn.
func (l *Loop) speak(ctx context.Context, turn *chat.Turn, reply string, checkpoint int) error {
	chunks := speech.ChunkText(speech.Sanitize(reply), l.language)
	var segments [][]byte

	for _, chunk := range chunks {
		if chunk.Speech == "" {
			continue
		}

		l.setState(StateSynthesizing)
		stageStart := time.Now()
		clip, err := l.synthesizer.Synthesize(ctx, chunk.Speech)
		if err != nil {
			return l.fail(StageSynthesize, checkpoint, err)
		}
		l.observeStage(StageSynthesize, stageStart)
		if len(clip) == 0 {
			continue
		}
		segments = append(segments, clip)

		l.setState(StatePlaying)
		stageStart = time.Now()
		if err := l.player.Play(ctx, clip); err != nil {
			return l.fail(StagePlay, checkpoint, err)
		}
		l.observeStage(StagePlay, stageStart)
	}

	turn.ReplyAudio, turn.AudioFormat = joinSegments(segments)
	return nil
}

// joinSegments merges per-chunk clips into the Turn's reply audio. WAV clips
// are re-wrapped as one container; anything else is concatenated as-is.
func joinSegments(segments [][]byte) ([]byte, string) {
	switch len(segments) {
	case 0:
		return nil, ""
	case 1:
		return segments[0], "wav"
	}

	var pcm []byte
	sampleRate := 0
	for _, seg := range segments {
		data, rate, err := audio.DecodeWAVPCM16LE(seg)
		if err != nil || (sampleRate != 0 && rate != sampleRate) {
			return flatten(segments), "raw"
		}
		sampleRate = rate
		pcm = append(pcm, data...)
	}
	joined, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return flatten(segments), "raw"
	}
	return joined, "wav"
}

func flatten(segments [][]byte) []byte {
	var out []byte
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out
}

// skipTurn records a no-speech outcome and returns the loop to idle without
// touching history.
func (l *Loop) skipTurn() error {
	l.countTurn("no_speech")
	l.setState(StateIdle)
	return ErrNoSpeech
}

func (l *Loop) fail(stage Stage, checkpoint int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A stopped or barged-in turn is discarded wholesale; history must
		// read as if the turn never started.
		l.history.Rollback(checkpoint)
		l.countTurn("cancelled")
		l.setState(StateIdle)
		return err
	}

	step := &StepError{Stage: stage, Err: err}
	l.countTurn("failed")
	if l.metrics != nil {
		l.metrics.StageErrors.WithLabelValues(string(stage)).Inc()
	}
	l.log.Error().Err(err).Str("stage", string(stage)).Msg("turn failed")

	l.setState(StateError)
	if IsFatal(err) {
		l.Stop()
	} else {
		l.setState(StateIdle)
	}
	return step
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	changed := l.state != s
	l.state = s
	l.mu.Unlock()
	if changed && l.hooks.OnState != nil {
		l.hooks.OnState(s)
	}
}

func (l *Loop) countTurn(outcome string) {
	if l.metrics != nil {
		l.metrics.TurnOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (l *Loop) observeStage(stage Stage, start time.Time) {
	if l.metrics != nil {
		l.metrics.ObserveTurnStage(string(stage), time.Since(start))
	}
}
