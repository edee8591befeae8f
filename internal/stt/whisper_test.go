package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/voicechatllm/voicechat/internal/convo"
)

func TestWhisperClientTranscribes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		file.Close()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"hello world"}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1", "en")
	text, err := c.Transcribe(context.Background(), []byte("fake-wav"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
}

func TestWhisperClientEmptyAudio(t *testing.T) {
	c := NewWhisperClient("http://127.0.0.1:1", "", "whisper-1", "")
	if _, err := c.Transcribe(context.Background(), nil); !errors.Is(err, convo.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestWhisperClientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"text":"second try"}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "", "whisper-1", "")
	text, err := c.Transcribe(context.Background(), []byte("fake-wav"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "second try" || calls.Load() != 2 {
		t.Fatalf("text = %q calls = %d", text, calls.Load())
	}
}

func TestWhisperClientMapsGatewayDownToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "", "whisper-1", "")
	if _, err := c.Transcribe(context.Background(), []byte("fake-wav")); !errors.Is(err, convo.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewTranscriberModes(t *testing.T) {
	if _, err := NewTranscriber(Config{Mode: "http"}); err == nil {
		t.Fatal("http mode without url must fail")
	}
	tr, err := NewTranscriber(Config{})
	if err != nil {
		t.Fatalf("NewTranscriber() error = %v", err)
	}
	if _, ok := tr.(*MockTranscriber); !ok {
		t.Fatalf("auto without url = %T, want *MockTranscriber", tr)
	}
}
