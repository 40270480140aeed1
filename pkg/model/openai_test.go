package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chihyuyeh/coda/pkg/api"
)

func TestOpenAIBackendComplete(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "The answer is 4."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
		}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIBackend: %v", err)
	}
	defer b.Close()

	comp, err := b.Complete(context.Background(), &Request{
		Model:        "gpt-5-mini",
		Instructions: "You are a code agent.",
		Messages: []Message{
			{Role: "user", Content: "what is 2+2?"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if comp.Text != "The answer is 4." {
		t.Errorf("text = %q", comp.Text)
	}
	if comp.Usage.TotalTokens != 18 {
		t.Errorf("usage = %+v", comp.Usage)
	}

	// The system instructions must be the first message.
	if len(gotBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "You are a code agent." {
		t.Errorf("unexpected system message: %+v", gotBody.Messages[0])
	}
	if gotBody.Stream {
		t.Error("request must not enable streaming")
	}
}

func TestOpenAIBackendErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason api.ModelCallReason
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, api.ReasonAuth},
		{"forbidden", http.StatusForbidden, "", api.ReasonAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, api.ReasonRateLimit},
		{"server error", http.StatusBadGateway, "", api.ReasonNetwork},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"unknown model"}}`, api.ReasonMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b, _ := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL})
			_, err := b.Complete(context.Background(), &Request{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})

			var mcErr *api.ModelCallError
			if !errors.As(err, &mcErr) {
				t.Fatalf("expected *api.ModelCallError, got %T: %v", err, err)
			}
			if mcErr.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", mcErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestOpenAIBackendMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	b, _ := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL})
	_, err := b.Complete(context.Background(), &Request{Model: "m"})

	var mcErr *api.ModelCallError
	if !errors.As(err, &mcErr) {
		t.Fatalf("expected *api.ModelCallError, got %T", err)
	}
	if mcErr.Reason != api.ReasonMalformedResponse {
		t.Errorf("reason = %q, want %q", mcErr.Reason, api.ReasonMalformedResponse)
	}
}

func TestOpenAIBackendConnectionRefused(t *testing.T) {
	// Point at a closed port.
	b, _ := NewOpenAIBackend(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := b.Complete(context.Background(), &Request{Model: "m"})

	var mcErr *api.ModelCallError
	if !errors.As(err, &mcErr) {
		t.Fatalf("expected *api.ModelCallError, got %T", err)
	}
	if mcErr.Reason != api.ReasonNetwork {
		t.Errorf("reason = %q, want %q", mcErr.Reason, api.ReasonNetwork)
	}
}

func TestOpenAIBackendEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	b, _ := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL})
	_, err := b.Complete(context.Background(), &Request{Model: "m"})

	var mcErr *api.ModelCallError
	if !errors.As(err, &mcErr) || mcErr.Reason != api.ReasonMalformedResponse {
		t.Fatalf("expected malformed_response error, got %v", err)
	}
}

func TestNewOpenAIBackendRequiresBaseURL(t *testing.T) {
	if _, err := NewOpenAIBackend(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing BaseURL")
	}
}
