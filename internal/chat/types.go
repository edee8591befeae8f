package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the conversation context.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one completed user-utterance/assistant-reply exchange.
// It is fully populated by the conversation loop and immutable afterwards.
type Turn struct {
	ID          string    `json:"turn_id"`
	UserText    string    `json:"user_text"`
	ReplyText   string    `json:"reply_text"`
	ReplyAudio  []byte    `json:"-"`
	AudioFormat string    `json:"audio_format"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
