package brain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/voicechatllm/voicechat/internal/chat"
	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/reliability"
)

// Generator adapts an Adapter to the conversation loop's Generator interface,
// retrying transient failures as long as no delta reached the caller yet.
type Generator struct {
	adapter     Adapter
	sessionID   string
	maxTokens   int
	temperature float64
	attempts    int
}

func NewGenerator(adapter Adapter, sessionID string, maxTokens int, temperature float64) *Generator {
	return &Generator{
		adapter:     adapter,
		sessionID:   sessionID,
		maxTokens:   maxTokens,
		temperature: temperature,
		attempts:    3,
	}
}

func (g *Generator) Generate(ctx context.Context, messages []chat.Message, onDelta convo.DeltaHandler) (string, error) {
	req := Request{
		SessionID:   g.sessionID,
		Messages:    toWire(messages),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	var (
		text       string
		deltaSeen  atomic.Bool
		forwarding DeltaHandler
	)
	if onDelta != nil {
		forwarding = func(delta string) error {
			deltaSeen.Store(true)
			return onDelta(delta)
		}
	} else {
		forwarding = func(string) error {
			deltaSeen.Store(true)
			return nil
		}
	}

	err := reliability.Retry(ctx, g.attempts, 200*time.Millisecond, 2*time.Second, func() (error, bool) {
		res, err := g.adapter.StreamResponse(ctx, req, forwarding)
		if err != nil {
			// A turn that already streamed text to the user cannot be
			// replayed transparently.
			return err, retryable(err) && !deltaSeen.Load()
		}
		text = res.Text
		return nil, false
	})
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func toWire(messages []chat.Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return reliability.IsRetryableHTTPStatus(status.Code)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify maps transport-level failures onto the loop's error vocabulary so
// a dead backend ends the session instead of looping on errors.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var status *StatusError
	if errors.As(err, &status) {
		if reliability.IsUnavailableHTTPStatus(status.Code) {
			return fmt.Errorf("%v: %w", err, convo.ErrUnavailable)
		}
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%v: %w", err, convo.ErrUnavailable)
	}
	return err
}
