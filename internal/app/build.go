package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voicechatllm/voicechat/internal/brain"
	"github.com/voicechatllm/voicechat/internal/chat"
	"github.com/voicechatllm/voicechat/internal/config"
	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/httpapi"
	"github.com/voicechatllm/voicechat/internal/observability"
	"github.com/voicechatllm/voicechat/internal/session"
	"github.com/voicechatllm/voicechat/internal/stt"
	"github.com/voicechatllm/voicechat/internal/transcript"
	"github.com/voicechatllm/voicechat/internal/tts"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build assembles the service: shared STT/LLM/TTS collaborators, the session
// manager, the transcript store, and a loop factory that stamps out one
// conversation loop per websocket connection.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	transcriber, err := stt.NewTranscriber(stt.Config{
		Mode:     cfg.STTMode,
		URL:      cfg.STTURL,
		APIKey:   cfg.STTAPIKey,
		Model:    cfg.STTModel,
		Language: cfg.Language,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("stt init failed: %w", err)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:        cfg.LLMMode,
		URL:         cfg.LLMURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	newLoop := func(p httpapi.LoopParams) *convo.Loop {
		voice := cfg.TTSVoice
		if p.Session.Voice != "" {
			voice = p.Session.Voice
		}
		synthesizer, err := tts.NewSynthesizer(tts.Config{
			Mode:  cfg.TTSMode,
			URL:   cfg.TTSURL,
			Voice: voice,
		})
		if err != nil {
			log.Error().Err(err).Msg("tts init failed, using mock synthesizer")
			synthesizer = tts.NewMockSynthesizer()
		}

		language := cfg.Language
		if p.Session.Language != "" {
			language = p.Session.Language
		}

		return convo.New(convo.Config{
			Capturer:    p.Capturer,
			Transcriber: transcriber,
			Generator:   brain.NewGenerator(adapter, p.Session.ID, cfg.LLMMaxTokens, cfg.LLMTemperature),
			Synthesizer: synthesizer,
			Player:      p.Player,
			History:     chat.NewHistory(cfg.SystemMessage),
			Trim:        chat.TrimPolicy{MaxMessages: cfg.HistoryMaxMessages},
			Language:    language,
			Metrics:     metrics,
			Logger:      log.With().Str("session_id", p.Session.ID).Logger(),
			Hooks:       p.Hooks,
		})
	}

	api := httpapi.New(cfg, sessions, newLoop, store, metrics, log)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
