package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/reliability"
)

// WhisperClient sends recorded utterances to a whisper-style transcription
// endpoint (OpenAI audio API shape, also served by faster-whisper and
// speaches) and returns the recognized text.
type WhisperClient struct {
	url      string
	apiKey   string
	model    string
	language string
	client   *http.Client
	attempts int
}

func NewWhisperClient(url, apiKey, model, language string) *WhisperClient {
	return &WhisperClient{
		url:      strings.TrimSpace(url),
		apiKey:   apiKey,
		model:    model,
		language: language,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		attempts: 3,
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", convo.ErrNoSpeech
	}

	var text string
	err := reliability.Retry(ctx, c.attempts, 200*time.Millisecond, 2*time.Second, func() (error, bool) {
		got, err := c.transcribeOnce(ctx, audio)
		if err != nil {
			return err, retryable(err)
		}
		text = got
		return nil, false
	})
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func (c *WhisperClient) transcribeOnce(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	writer.WriteField("model", c.model)
	writer.WriteField("response_format", "json")
	if c.language != "" {
		writer.WriteField("language", c.language)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return parsed.Text, nil
}

// StatusError reports a non-200 transcription response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stt http status %d: %s", e.Code, e.Body)
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
