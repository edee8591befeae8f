package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientUtterance MessageType = "client_utterance"
	TypeClientText      MessageType = "client_text"
	TypeClientControl   MessageType = "client_control"
	TypeState           MessageType = "state"
	TypeTranscript      MessageType = "transcript"
	TypeReplyDelta      MessageType = "reply_delta"
	TypeReply           MessageType = "reply"
	TypeReplyAudio      MessageType = "reply_audio"
	TypeSystemEvent     MessageType = "system_event"
	TypeErrorEvent      MessageType = "error_event"
)

// Control actions a client may send.
const (
	ActionStop      = "stop"
	ActionInterrupt = "interrupt"
	ActionReset     = "reset"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientUtterance carries one complete recorded utterance for a turn.
type ClientUtterance struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioBase64 string      `json:"audio_base64"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

// ClientText is a typed message that bypasses capture and transcription.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// StateEvent announces a loop state transition.
type StateEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	TSMs      int64       `json:"ts_ms"`
}

// Transcript carries the recognized user text for the current turn.
type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// ReplyDelta streams incremental assistant text as it is generated.
type ReplyDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TextDelta string      `json:"text_delta"`
}

// Reply is the completed assistant turn. ContextLoad is the approximate
// token count of the history that will back the next turn.
type Reply struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Text        string      `json:"text"`
	ContextLoad int         `json:"context_load,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// ReplyAudio carries the synthesized assistant speech.
type ReplyAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Stage     string      `json:"stage,omitempty"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one client-originated payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientUtterance:
		var msg ClientUtterance
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_utterance")
		}
		if msg.Format == "" {
			msg.Format = "wav"
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStop, ActionInterrupt, ActionReset:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
