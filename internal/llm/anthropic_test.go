package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-cognition/internal/config"
)

func newTestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("unexpected api key %q", got)
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewAnthropicCompleterRequiresKey(t *testing.T) {
	_, err := NewAnthropicCompleter(config.LLMConfig{}, nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCompleteReturnsText(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "Disk pressure on node-3."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`, &seen)

	c, err := NewAnthropicCompleter(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-test"}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new completer: %v", err)
	}
	text, err := c.Complete(context.Background(), "why is latency high?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Disk pressure on node-3." {
		t.Fatalf("unexpected text %q", text)
	}
	if seen["model"] != "claude-test" {
		t.Fatalf("unexpected model in request: %v", seen["model"])
	}
	if seen["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("expected default max tokens, got %v", seen["max_tokens"])
	}
}

func TestCompleteRejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{
		"id": "msg_2",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 12, "output_tokens": 0}
	}`, nil)

	c, err := NewAnthropicCompleter(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new completer: %v", err)
	}
	if _, err := c.Complete(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error for empty response")
	}
}

func TestCompletePropagatesAPIError(t *testing.T) {
	srv := newTestServer(t, http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad prompt"}}`, nil)

	c, err := NewAnthropicCompleter(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("new completer: %v", err)
	}
	_, err = c.Complete(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "anthropic messages") {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}
