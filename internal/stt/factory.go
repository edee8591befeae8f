package stt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voicechatllm/voicechat/internal/convo"
)

// Config controls transcriber construction.
type Config struct {
	Mode     string
	URL      string
	APIKey   string
	Model    string
	Language string
}

func NewTranscriber(cfg Config) (convo.Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewWhisperClient(cfg.URL, cfg.APIKey, cfg.Model, cfg.Language), nil
		}
		return NewMockTranscriber(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("stt url is required for http mode")
		}
		return NewWhisperClient(cfg.URL, cfg.APIKey, cfg.Model, cfg.Language), nil
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
