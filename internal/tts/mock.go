package tts

import (
	"context"
	"strings"
	"time"

	"github.com/voicechatllm/voicechat/internal/audio"
)

// MockSynthesizer produces a silent WAV clip whose length tracks the text, so
// playback timing behaves roughly like real speech without any backend.
type MockSynthesizer struct {
	sampleRate int
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{sampleRate: 16000}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	// Roughly 60ms of silence per word.
	words := len(strings.Fields(text))
	dur := time.Duration(words) * 60 * time.Millisecond
	samples := int(dur.Seconds() * float64(m.sampleRate))
	if samples < m.sampleRate/10 {
		samples = m.sampleRate / 10
	}
	return audio.EncodeWAVPCM16LE(make([]byte, 2*samples), m.sampleRate)
}
