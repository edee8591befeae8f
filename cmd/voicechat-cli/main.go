// Command voicechat-cli runs the conversation loop against local audio
// devices: microphone in, speaker out, with the same STT/LLM/TTS providers
// the server uses.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicechatllm/voicechat/internal/audio"
	"github.com/voicechatllm/voicechat/internal/brain"
	"github.com/voicechatllm/voicechat/internal/chat"
	"github.com/voicechatllm/voicechat/internal/config"
	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/stt"
	"github.com/voicechatllm/voicechat/internal/tts"
)

type options struct {
	sttMode  string
	sttURL   string
	sttKey   string
	sttModel string

	llmMode  string
	llmURL   string
	llmKey   string
	llmModel string

	ttsMode  string
	ttsURL   string
	ttsVoice string

	language  string
	system    string
	maxTokens int
	temp      float64

	sampleRate   int
	threshold    float64
	silenceHold  time.Duration
	maxUtterance time.Duration

	turns       int
	listDevices bool
	verbose     bool
}

func main() {
	base, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat-cli: %v\n", err)
		os.Exit(2)
	}
	cfg := parseFlags(base)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	if !cfg.verbose {
		log = log.Level(zerolog.WarnLevel)
	}

	if cfg.listDevices {
		if err := listCaptureDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "voicechat-cli: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "voicechat-cli: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(base config.Config) options {
	var cfg options
	var silenceHoldMS, maxUtteranceMS int

	flag.StringVar(&cfg.sttMode, "stt-mode", base.STTMode, "stt provider: auto|http|mock")
	flag.StringVar(&cfg.sttURL, "stt-url", base.STTURL, "whisper-compatible transcription URL")
	flag.StringVar(&cfg.sttKey, "stt-key", base.STTAPIKey, "transcription API key")
	flag.StringVar(&cfg.sttModel, "stt-model", base.STTModel, "transcription model")
	flag.StringVar(&cfg.llmMode, "llm-mode", base.LLMMode, "llm provider: auto|http|mock")
	flag.StringVar(&cfg.llmURL, "llm-url", base.LLMURL, "chat-completions base URL")
	flag.StringVar(&cfg.llmKey, "llm-key", base.LLMAPIKey, "llm API key")
	flag.StringVar(&cfg.llmModel, "llm-model", base.LLMModel, "llm model name")
	flag.StringVar(&cfg.ttsMode, "tts-mode", base.TTSMode, "tts provider: auto|http|mock")
	flag.StringVar(&cfg.ttsURL, "tts-url", base.TTSURL, "speech synthesis URL")
	flag.StringVar(&cfg.ttsVoice, "tts-voice", base.TTSVoice, "synthesis voice")
	flag.StringVar(&cfg.language, "language", base.Language, "conversation language")
	flag.StringVar(&cfg.system, "system", base.SystemMessage, "system message")
	flag.IntVar(&cfg.sampleRate, "sample-rate", base.CaptureSampleRate, "capture sample rate in Hz")
	flag.Float64Var(&cfg.threshold, "threshold", 0.015, "speech onset level (0..1)")
	flag.IntVar(&silenceHoldMS, "silence-hold-ms", int(base.CaptureSilenceHold.Milliseconds()), "silence that ends an utterance, in milliseconds")
	flag.IntVar(&maxUtteranceMS, "max-utterance-ms", int(base.CaptureMaxUtterance.Milliseconds()), "utterance length cap in milliseconds")
	flag.IntVar(&cfg.turns, "turns", 0, "number of turns to run (0 = until interrupted)")
	flag.BoolVar(&cfg.listDevices, "list-devices", false, "list capture devices and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "log state transitions")
	flag.Parse()

	cfg.silenceHold = time.Duration(silenceHoldMS) * time.Millisecond
	cfg.maxUtterance = time.Duration(maxUtteranceMS) * time.Millisecond
	cfg.maxTokens = base.LLMMaxTokens
	cfg.temp = base.LLMTemperature
	return cfg
}

func listCaptureDevices() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		fmt.Printf("%s  %s\n", hex.EncodeToString(d.ID[:]), d.Name())
	}
	return nil
}

func run(cfg options, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriber, err := stt.NewTranscriber(stt.Config{
		Mode:     cfg.sttMode,
		URL:      cfg.sttURL,
		APIKey:   cfg.sttKey,
		Model:    cfg.sttModel,
		Language: cfg.language,
	})
	if err != nil {
		return fmt.Errorf("stt init: %w", err)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:   cfg.llmMode,
		URL:    cfg.llmURL,
		APIKey: cfg.llmKey,
		Model:  cfg.llmModel,
	})
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	synthesizer, err := tts.NewSynthesizer(tts.Config{
		Mode:  cfg.ttsMode,
		URL:   cfg.ttsURL,
		Voice: cfg.ttsVoice,
	})
	if err != nil {
		return fmt.Errorf("tts init: %w", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	mic, err := newMicCapturer(mctx, cfg.sampleRate, cfg.threshold, cfg.silenceHold, cfg.maxUtterance)
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	defer mic.Close()

	loop := convo.New(convo.Config{
		Capturer:    mic,
		Transcriber: transcriber,
		Generator:   brain.NewGenerator(adapter, uuid.NewString(), cfg.maxTokens, cfg.temp),
		Synthesizer: synthesizer,
		Player:      &speakerPlayer{mctx: mctx, fallbackRate: cfg.sampleRate},
		History:     chat.NewHistory(cfg.system),
		Language:    cfg.language,
		Logger:      log,
		Hooks: convo.Hooks{
			OnState: func(s convo.State) {
				if s == convo.StateListening {
					fmt.Println("(listening...)")
				}
			},
			OnTranscript: func(text string) {
				fmt.Printf("you: %s\n", text)
				fmt.Print("assistant: ")
			},
			OnReplyDelta: func(delta string) {
				fmt.Print(delta)
			},
			OnReply: func(*chat.Turn) {
				fmt.Println()
			},
		},
	})

	for i := 0; cfg.turns == 0 || i < cfg.turns; i++ {
		_, err := loop.RunTurn(ctx)
		switch {
		case err == nil:
		case errors.Is(err, convo.ErrNoSpeech):
			continue
		case errors.Is(err, convo.ErrStopped):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			log.Error().Err(err).Msg("turn failed")
			if loop.Stopped() {
				return err
			}
		}
	}
	return nil
}

// micCapturer keeps a capture device running and hands out endpointed
// utterances, WAV-encoded, one per CaptureUtterance call. Frames arriving
// while no call is waiting are discarded.
type micCapturer struct {
	device     *malgo.Device
	sampleRate int

	mu        sync.Mutex
	capturing bool
	endpoint  *audio.Endpointer
	segments  chan []byte
}

func newMicCapturer(mctx *malgo.AllocatedContext, sampleRate int, threshold float64, silenceHold, maxUtterance time.Duration) (*micCapturer, error) {
	c := &micCapturer{
		sampleRate: sampleRate,
		endpoint:   audio.NewEndpointer(sampleRate, threshold, silenceHold, maxUtterance),
		segments:   make(chan []byte, 1),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, frame []byte, _ uint32) {
			c.feed(frame)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, err
	}
	c.device = device
	return c, nil
}

func (c *micCapturer) feed(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capturing {
		return
	}
	segment, done := c.endpoint.Feed(frame)
	if !done {
		return
	}
	c.capturing = false
	select {
	case c.segments <- segment:
	default:
	}
}

func (c *micCapturer) CaptureUtterance(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	c.endpoint.Reset()
	c.capturing = true
	c.mu.Unlock()

	// Drop a segment left over from a cancelled call.
	select {
	case <-c.segments:
	default:
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		c.capturing = false
		c.mu.Unlock()
		return nil, ctx.Err()
	case segment := <-c.segments:
		if len(segment) == 0 {
			return nil, convo.ErrNoSpeech
		}
		return audio.EncodeWAVPCM16LE(segment, c.sampleRate)
	}
}

func (c *micCapturer) Close() {
	c.device.Stop()
	c.device.Uninit()
}

// speakerPlayer plays one clip at a time on the default output device.
// The device is opened per clip so each clip's sample rate is honored.
type speakerPlayer struct {
	mctx         *malgo.AllocatedContext
	fallbackRate int
}

func (p *speakerPlayer) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return nil
	}
	pcm, rate, err := audio.DecodeWAVPCM16LE(clip)
	if errors.Is(err, audio.ErrNotWAV) {
		pcm, rate = clip, p.fallbackRate
	} else if err != nil {
		return fmt.Errorf("decode clip: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		offset int
	)
	done := make(chan struct{})

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(rate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(out, pcm[offset:])
			offset += n
			finished := offset >= len(pcm)
			mu.Unlock()
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if finished {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		},
	}
	device, err := malgo.InitDevice(p.mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("open playback device: %w", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	// Let the last buffered frames drain before tearing the device down.
	tail := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate) / 10
	if tail < 50*time.Millisecond {
		tail = 50 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		device.Stop()
		return ctx.Err()
	case <-done:
		time.Sleep(tail)
	}
	device.Stop()
	return nil
}
