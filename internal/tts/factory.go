package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voicechatllm/voicechat/internal/convo"
)

// Config controls synthesizer construction.
type Config struct {
	Mode  string
	URL   string
	Voice string
}

func NewSynthesizer(cfg Config) (convo.Synthesizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewPiperClient(cfg.URL, cfg.Voice), nil
		}
		return NewMockSynthesizer(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("tts url is required for http mode")
		}
		return NewPiperClient(cfg.URL, cfg.Voice), nil
	case "mock":
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
