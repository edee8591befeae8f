package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter speaks the OpenAI-compatible streaming chat completions
// protocol, which llama.cpp, vLLM, Ollama and most hosted providers expose.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPAdapter(baseURL, apiKey, model string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm http status %d: %s", e.Code, e.Body)
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	payload, err := json.Marshal(chatPayload{
		Model:       a.model,
		Messages:    req.Messages,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		return consumeSSE(res.Body, onDelta)
	}
	return consumeJSON(res.Body, onDelta)
}

func consumeSSE(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: out.String()}, nil
}

// consumeJSON handles providers that ignore the stream flag and return one
// complete completion object.
func consumeJSON(body io.Reader, onDelta DeltaHandler) (Response, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var event chatStreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(event.Choices) == 0 {
		return Response{}, nil
	}
	text := event.Choices[0].Message.Content
	if text == "" {
		text = event.Choices[0].Delta.Content
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}
