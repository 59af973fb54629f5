package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Complete(t *testing.T) {
	var received chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "key"})
	got, err := c.Complete(context.Background(), CompletionRequest{
		Model:    "m",
		Messages: []Message{System("s"), User("u")},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected 'hello', got %q", got)
	}
	if received.Stream || received.Model != "m" || len(received.Messages) != 2 {
		t.Errorf("Unexpected request body: %+v", received)
	}
	if received.ResponseFormat == nil || received.ResponseFormat.Type != "json_object" {
		t.Error("Expected json_object response format")
	}
}

func TestClient_CompleteEmpty(t *testing.T) {
	for _, body := range []string{`{"choices":[]}`, `{"choices":[{"message":{"content":""}}]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		c := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
		if !errors.Is(err, ErrEmptyCompletion) {
			t.Errorf("body %s: expected ErrEmptyCompletion, got %v", body, err)
		}
		srv.Close()
	}
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Stream(context.Background(), CompletionRequest{Model: "m"})

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", perr.StatusCode)
	}
}

func TestClient_StreamRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, deltaEvent("he"))
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, deltaEvent("llo"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, RPS: 100, Burst: 1})
	body, err := c.Stream(context.Background(), CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	defer body.Close()

	var out bytes.Buffer
	var full string
	if err := RelayStream(context.Background(), body, &out, func(s string) { full = s }); err != nil {
		t.Fatalf("RelayStream error: %v", err)
	}
	if out.String() != "hello" || full != "hello" {
		t.Errorf("Expected 'hello', got out=%q full=%q", out.String(), full)
	}
}
