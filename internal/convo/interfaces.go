package convo

import (
	"context"

	"github.com/voicechatllm/voicechat/internal/chat"
)

// Capturer acquires one recorded user utterance. The start/stop policy
// (push-to-talk, silence detection) belongs to the implementation.
// A silent or empty recording is reported as ErrNoSpeech.
type Capturer interface {
	CaptureUtterance(ctx context.Context) ([]byte, error)
}

// Transcriber converts a recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// DeltaHandler receives streaming reply fragments as they arrive.
type DeltaHandler func(delta string) error

// Generator produces the assistant reply for the full ordered conversation
// context. onDelta may be nil when streaming display is not needed.
type Generator interface {
	Generate(ctx context.Context, history []chat.Message, onDelta DeltaHandler) (string, error)
}

// Synthesizer converts reply text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player hands synthesized audio to the playback device or client.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}
