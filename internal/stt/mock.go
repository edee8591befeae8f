package stt

import (
	"context"
	"fmt"

	"github.com/voicechatllm/voicechat/internal/convo"
)

// MockTranscriber is a local fallback used when no transcription backend is
// configured. It produces a deterministic transcript derived from the audio
// size so the rest of the pipeline can be exercised end to end.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(audio) == 0 {
		return "", convo.ErrNoSpeech
	}
	return fmt.Sprintf("simulated utterance of %d bytes", len(audio)), nil
}
