package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one chat-completion message in provider wire form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to the language model.
type Request struct {
	SessionID   string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the final response after streaming deltas.
type Response struct {
	Text string
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the conversation loop with a language model backend.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode        string
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPAdapter(cfg.URL, cfg.APIKey, cfg.Model), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("llm url is required for http mode")
		}
		return NewHTTPAdapter(cfg.URL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}
