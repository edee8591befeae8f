package chat

import (
	"sync"
	"time"
	"unicode/utf8"
)

// TrimPolicy bounds the history supplied to the language model. MaxMessages
// counts user/assistant entries only; the pinned system message is exempt.
// Zero disables trimming.
type TrimPolicy struct {
	MaxMessages int
}

// History is the append-only conversation record owned by one session's
// conversation loop. The loop is the only writer; the presentation layer
// reads snapshots for display.
type History struct {
	mu       sync.RWMutex
	system   string
	messages []Message
}

// NewHistory returns an empty history. A non-empty systemMessage is pinned
// ahead of all turns and survives trimming.
func NewHistory(systemMessage string) *History {
	return &History{system: systemMessage}
}

// Reset clears all turns and replaces the pinned system message.
func (h *History) Reset(systemMessage string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.system = systemMessage
	h.messages = nil
}

// Clear drops all turns but keeps the pinned system message, starting a
// fresh conversation with the same instructions.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// AppendUser records a transcribed user utterance.
func (h *History) AppendUser(text string) {
	h.append(RoleUser, text)
}

// AppendAssistant records a completed assistant reply.
func (h *History) AppendAssistant(text string) {
	h.append(RoleAssistant, text)
}

func (h *History) append(role Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, Message{
		Role:      role,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})
}

// Len reports the number of user/assistant entries, excluding the system
// message.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Messages returns the full ordered context for the language model: the
// system message (if any) followed by every user/assistant entry. The
// returned slice is a copy.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, 0, len(h.messages)+1)
	if h.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}
	out = append(out, h.messages...)
	return out
}

// Checkpoint captures the current entry count so an in-flight turn can be
// rolled back if the session is stopped mid-turn.
func (h *History) Checkpoint() int {
	return h.Len()
}

// Rollback discards entries appended after the given checkpoint. Used only
// to discard a cancelled partial turn; completed turns are never removed.
func (h *History) Rollback(checkpoint int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if checkpoint < 0 || checkpoint >= len(h.messages) {
		return
	}
	h.messages = h.messages[:checkpoint]
}

// Window returns the context for the language model under the policy: the
// system message (if any) followed by the newest entries, cut at a user
// boundary so the model never sees an orphaned reply. The stored record is
// not modified, so rollback checkpoints stay valid and the full transcript
// remains available for display.
func (h *History) Window(policy TrimPolicy) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.messages
	if policy.MaxMessages > 0 && len(msgs) > policy.MaxMessages {
		msgs = msgs[len(msgs)-policy.MaxMessages:]
	}
	for len(msgs) > 0 && msgs[0].Role == RoleAssistant {
		msgs = msgs[1:]
	}
	out := make([]Message, 0, len(msgs)+1)
	if h.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}
	return append(out, msgs...)
}

// ContextLoad estimates the token count of the current context. Four
// characters per token is a rough heuristic but stable enough for a gauge.
func (h *History) ContextLoad() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runes := utf8.RuneCountInString(h.system)
	for _, m := range h.messages {
		runes += utf8.RuneCountInString(m.Content)
	}
	return runes / 4
}
