package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no model backend is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

func buildMockReply(req Request) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you say: %s.", strings.TrimRight(last, ".!?"))
}
