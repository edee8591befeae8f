package convo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voicechatllm/voicechat/internal/chat"
)

func newTestLoop(cfg Config) *Loop {
	if cfg.History == nil {
		cfg.History = chat.NewHistory("")
	}
	return New(cfg)
}

func TestRunTurnHappyPath(t *testing.T) {
	capturer := &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}}
	transcriber := &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}}
	generator := &ScriptedGenerator{Replies: []string{"Hi there."}}
	synth := &ScriptedSynthesizer{Clips: map[string][]byte{"Hi there.": []byte("A1")}}
	player := &RecordingPlayer{}

	var states []State
	var transcript, reply string
	loop := newTestLoop(Config{
		Capturer:    capturer,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: synth,
		Player:      player,
		Hooks: Hooks{
			OnState:      func(s State) { states = append(states, s) },
			OnTranscript: func(text string) { transcript = text },
			OnReply:      func(turn *chat.Turn) { reply = turn.ReplyText },
		},
	})

	turn, err := loop.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if turn.UserText != "hello" || turn.ReplyText != "Hi there." {
		t.Fatalf("unexpected turn texts: %q / %q", turn.UserText, turn.ReplyText)
	}
	if !bytes.Equal(turn.ReplyAudio, []byte("A1")) || turn.AudioFormat != "wav" {
		t.Fatalf("unexpected reply audio %q format %q", turn.ReplyAudio, turn.AudioFormat)
	}
	if turn.ID == "" || turn.CompletedAt.Before(turn.StartedAt) {
		t.Fatalf("turn timestamps/id not populated: %+v", turn)
	}

	if len(player.Played) != 1 || !bytes.Equal(player.Played[0], []byte("A1")) {
		t.Fatalf("player got %v", player.Played)
	}
	if transcript != "hello" || reply != "Hi there." {
		t.Fatalf("hooks saw transcript=%q reply=%q", transcript, reply)
	}

	msgs := loop.History().Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "Hi there." {
		t.Fatalf("second message = %+v", msgs[1])
	}

	want := []State{StateListening, StateTranscribing, StateGenerating, StateSynthesizing, StatePlaying, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("state sequence = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestRunTurnNoSpeechLeavesHistoryEmpty(t *testing.T) {
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{},
		Transcriber: &ScriptedTranscriber{},
		Generator:   &ScriptedGenerator{},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	if _, err := loop.RunTurn(context.Background()); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if n := loop.History().Len(); n != 0 {
		t.Fatalf("history length = %d, want 0", n)
	}
	if s := loop.State(); s != StateIdle {
		t.Fatalf("state = %s, want idle", s)
	}
}

func TestRunTurnEmptyTranscriptSkips(t *testing.T) {
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("noise")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"noise": "   "}},
		Generator:   &ScriptedGenerator{},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	if _, err := loop.RunTurn(context.Background()); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if n := loop.History().Len(); n != 0 {
		t.Fatalf("history length = %d, want 0", n)
	}
}

func TestRunTurnGenerationErrorKeepsUserEntry(t *testing.T) {
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   &ScriptedGenerator{Err: errors.New("model overloaded")},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	_, err := loop.RunTurn(context.Background())
	var step *StepError
	if !errors.As(err, &step) || step.Stage != StageGenerate {
		t.Fatalf("err = %v, want StepError at generate", err)
	}

	msgs := loop.History().Messages()
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("history after failure = %v", msgs)
	}
	if loop.Stopped() {
		t.Fatal("transient failure must not stop the loop")
	}
	if s := loop.State(); s != StateIdle {
		t.Fatalf("state = %s, want idle", s)
	}
}

func TestRunTurnCancelledRollsBackHistory(t *testing.T) {
	generator := &ScriptedGenerator{Block: make(chan struct{})}
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   generator,
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loop.RunTurn(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for generator.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("generator never invoked")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTurn did not return after cancel")
	}

	if n := loop.History().Len(); n != 0 {
		t.Fatalf("history length after cancel = %d, want 0", n)
	}
}

func TestRunTurnCancelledDuringSynthesisRollsBack(t *testing.T) {
	synth := &ScriptedSynthesizer{Block: make(chan struct{})}
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   &ScriptedGenerator{Replies: []string{"Hi there."}},
		Synthesizer: synth,
		Player:      &RecordingPlayer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loop.RunTurn(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for synth.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("synthesizer never invoked")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTurn did not return after cancel")
	}

	if n := loop.History().Len(); n != 0 {
		t.Fatalf("history length after cancel = %d, want 0", n)
	}
}

func TestCancelledTurnAfterTrimKeepsCompletedTurns(t *testing.T) {
	capturer := &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1"), []byte("audio-2")}}
	transcriber := &ScriptedTranscriber{Results: map[string]string{
		"audio-1": "hello",
		"audio-2": "second question",
	}}
	generator := &ScriptedGenerator{Replies: []string{"Hi there."}}
	loop := newTestLoop(Config{
		Capturer:    capturer,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
		Trim:        chat.TrimPolicy{MaxMessages: 2},
	})

	if _, err := loop.RunTurn(context.Background()); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	generator.Block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loop.RunTurn(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for generator.CallCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("generator never invoked for second turn")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTurn did not return after cancel")
	}

	// The cancelled turn vanishes; the completed first turn survives intact.
	msgs := loop.History().Messages()
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Content != "Hi there." {
		t.Fatalf("history after cancelled turn = %v", msgs)
	}
}

func TestSecondTurnSeesPriorContext(t *testing.T) {
	capturer := &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1"), []byte("audio-2")}}
	transcriber := &ScriptedTranscriber{Results: map[string]string{
		"audio-1": "hello",
		"audio-2": "how are you",
	}}
	generator := &ScriptedGenerator{Replies: []string{"Hi there.", "Doing well."}}
	loop := newTestLoop(Config{
		Capturer:    capturer,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	for i := 0; i < 2; i++ {
		if _, err := loop.RunTurn(context.Background()); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
	}

	ctx := generator.Call(1)
	wantRoles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleUser}
	wantContent := []string{"hello", "Hi there.", "how are you"}
	if len(ctx) != len(wantRoles) {
		t.Fatalf("second context = %v", ctx)
	}
	for i := range wantRoles {
		if ctx[i].Role != wantRoles[i] || ctx[i].Content != wantContent[i] {
			t.Fatalf("context[%d] = %+v, want %s %q", i, ctx[i], wantRoles[i], wantContent[i])
		}
	}
	if n := loop.History().Len(); n != 4 {
		t.Fatalf("history length after two turns = %d, want 4", n)
	}
}

func TestTrimWindowsGenerateContext(t *testing.T) {
	capturer := &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1"), []byte("audio-2")}}
	transcriber := &ScriptedTranscriber{Results: map[string]string{
		"audio-1": "hello",
		"audio-2": "how are you",
	}}
	generator := &ScriptedGenerator{Replies: []string{"Hi there.", "Doing well."}}
	loop := newTestLoop(Config{
		Capturer:    capturer,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
		Trim:        chat.TrimPolicy{MaxMessages: 2},
	})

	for i := 0; i < 2; i++ {
		if _, err := loop.RunTurn(context.Background()); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
	}

	ctx := generator.Call(1)
	if len(ctx) != 1 || ctx[0].Content != "how are you" {
		t.Fatalf("trimmed context = %v", ctx)
	}
	// Windowing bounds the model context only; the stored record keeps every
	// turn.
	if n := loop.History().Len(); n != 4 {
		t.Fatalf("history length after two turns = %d, want 4", n)
	}
}

func TestRunTurnMultiChunkPlaysInOrder(t *testing.T) {
	synth := &ScriptedSynthesizer{}
	player := &RecordingPlayer{}
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   &ScriptedGenerator{Replies: []string{"I am fine. How are you today?"}},
		Synthesizer: synth,
		Player:      player,
	})

	turn, err := loop.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	wantChunks := []string{"I am fine.", "How are you today?"}
	if len(synth.Calls) != len(wantChunks) {
		t.Fatalf("synth calls = %v", synth.Calls)
	}
	for i, want := range wantChunks {
		if synth.Calls[i] != want {
			t.Fatalf("synth call[%d] = %q, want %q", i, synth.Calls[i], want)
		}
	}
	if len(player.Played) != 2 {
		t.Fatalf("player got %d clips, want 2", len(player.Played))
	}
	// Scripted clips are not WAV, so the joined turn audio degrades to a
	// raw concatenation.
	if turn.AudioFormat != "raw" {
		t.Fatalf("audio format = %q, want raw", turn.AudioFormat)
	}
	if want := "I am fine.How are you today?"; string(turn.ReplyAudio) != want {
		t.Fatalf("joined audio = %q, want %q", turn.ReplyAudio, want)
	}
}

func TestRunTurnPlaybackErrorKeepsUserEntryOnly(t *testing.T) {
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   &ScriptedGenerator{Replies: []string{"Hi there."}},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{Err: errors.New("device busy")},
	})

	_, err := loop.RunTurn(context.Background())
	var step *StepError
	if !errors.As(err, &step) || step.Stage != StagePlay {
		t.Fatalf("err = %v, want StepError at play", err)
	}
	msgs := loop.History().Messages()
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser {
		t.Fatalf("history after playback failure = %v", msgs)
	}
}

func TestRunTurnFatalErrorStopsLoop(t *testing.T) {
	loop := newTestLoop(Config{
		Capturer:    &ScriptedCapturer{Utterances: [][]byte{[]byte("audio-1"), []byte("audio-1")}},
		Transcriber: &ScriptedTranscriber{Results: map[string]string{"audio-1": "hello"}},
		Generator:   &ScriptedGenerator{Err: fmt.Errorf("chat backend gone: %w", ErrUnavailable)},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	_, err := loop.RunTurn(context.Background())
	var step *StepError
	if !errors.As(err, &step) || !IsFatal(err) {
		t.Fatalf("err = %v, want fatal StepError", err)
	}
	if !loop.Stopped() || loop.State() != StateStopped {
		t.Fatal("loop must stop after a fatal collaborator error")
	}
	if _, err := loop.RunTurn(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err after stop = %v, want ErrStopped", err)
	}
}

func TestRunTextTurnSkipsCaptureAndTranscription(t *testing.T) {
	capturer := &ScriptedCapturer{}
	transcriber := &ScriptedTranscriber{}
	loop := newTestLoop(Config{
		Capturer:    capturer,
		Transcriber: transcriber,
		Generator:   &ScriptedGenerator{Replies: []string{"Typed reply."}},
		Synthesizer: &ScriptedSynthesizer{},
		Player:      &RecordingPlayer{},
	})

	turn, err := loop.RunTextTurn(context.Background(), "typed hello")
	if err != nil {
		t.Fatalf("RunTextTurn: %v", err)
	}
	if turn.UserText != "typed hello" || turn.ReplyText != "Typed reply." {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if len(transcriber.Calls) != 0 {
		t.Fatal("transcriber must not run for typed input")
	}
	if n := loop.History().Len(); n != 2 {
		t.Fatalf("history length = %d, want 2", n)
	}
}
