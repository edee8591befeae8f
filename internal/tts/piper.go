package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/reliability"
)

// PiperClient synthesizes speech through a piper-style HTTP server: the
// chunk text is posted as the request body and the response body is a WAV
// clip.
type PiperClient struct {
	url      string
	voice    string
	client   *http.Client
	attempts int
}

func NewPiperClient(endpoint, voice string) *PiperClient {
	return &PiperClient{
		url:   strings.TrimSpace(endpoint),
		voice: voice,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		attempts: 3,
	}
}

func (c *PiperClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var clip []byte
	err := reliability.Retry(ctx, c.attempts, 200*time.Millisecond, 2*time.Second, func() (error, bool) {
		got, err := c.synthesizeOnce(ctx, text)
		if err != nil {
			return err, retryable(err)
		}
		clip = got
		return nil, false
	})
	if err != nil {
		return nil, classify(err)
	}
	return clip, nil
}

func (c *PiperClient) synthesizeOnce(ctx context.Context, text string) ([]byte, error) {
	endpoint := c.url
	if c.voice != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "voice=" + url.QueryEscape(c.voice)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "audio/wav")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	clip, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(clip) == 0 {
		return nil, errors.New("empty audio response")
	}
	return clip, nil
}

// StatusError reports a non-200 synthesis response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tts http status %d: %s", e.Code, e.Body)
}

func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return reliability.IsRetryableHTTPStatus(status.Code)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

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
