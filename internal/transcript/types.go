package transcript

import (
	"context"
	"time"
)

// Line is one persisted user or assistant utterance.
type Line struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversation transcripts.
type Store interface {
	SaveLine(ctx context.Context, line Line) error
	SessionLines(ctx context.Context, sessionID string, limit int) ([]Line, error)
	Close() error
}
