package convo

import (
	"context"
	"sync"

	"github.com/voicechatllm/voicechat/internal/chat"
)

// ScriptedCapturer returns one scripted utterance per call, then ErrNoSpeech.
type ScriptedCapturer struct {
	mu         sync.Mutex
	Utterances [][]byte
	next       int
}

func (c *ScriptedCapturer) CaptureUtterance(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.Utterances) {
		return nil, ErrNoSpeech
	}
	u := c.Utterances[c.next]
	c.next++
	if len(u) == 0 {
		return nil, ErrNoSpeech
	}
	return u, nil
}

// ScriptedTranscriber maps audio bytes to a fixed transcript.
type ScriptedTranscriber struct {
	mu      sync.Mutex
	Results map[string]string
	Err     error
	Calls   [][]byte
}

func (t *ScriptedTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, audio)
	if t.Err != nil {
		return "", t.Err
	}
	return t.Results[string(audio)], nil
}

// ScriptedGenerator replies with scripted completions in order and records the
// message context it was handed on each call. When Block is set the generator
// parks on it until the channel yields or the context is cancelled, which lets
// tests interrupt a turn mid-generation.
type ScriptedGenerator struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Block   chan struct{}
	Calls   [][]chat.Message
	next    int
}

func (g *ScriptedGenerator) Generate(ctx context.Context, messages []chat.Message, onDelta DeltaHandler) (string, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, messages)
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	reply := ""
	if g.next < len(g.Replies) {
		reply = g.Replies[g.next]
		g.next++
	}
	if onDelta != nil && reply != "" {
		if err := onDelta(reply); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// CallCount reports how many times Generate was invoked.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Call returns the message context handed to the i-th Generate invocation.
func (g *ScriptedGenerator) Call(i int) []chat.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Calls[i]
}

// ScriptedSynthesizer maps chunk text to canned audio; unmapped text gets its
// own bytes back so playback still has something to record. When Block is set
// it parks like ScriptedGenerator does, which lets tests interrupt a turn
// mid-synthesis.
type ScriptedSynthesizer struct {
	mu    sync.Mutex
	Clips map[string][]byte
	Err   error
	Block chan struct{}
	Calls []string
}

func (s *ScriptedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Calls = append(s.Calls, text)
	block := s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if clip, ok := s.Clips[text]; ok {
		return clip, nil
	}
	return []byte(text), nil
}

// CallCount reports how many times Synthesize was invoked.
func (s *ScriptedSynthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// RecordingPlayer captures every clip handed to it.
type RecordingPlayer struct {
	mu     sync.Mutex
	Err    error
	Played [][]byte
}

func (p *RecordingPlayer) Play(ctx context.Context, clip []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Played = append(p.Played, append([]byte(nil), clip...))
	return nil
}
