// Package model abstracts the language-model backend behind a narrow
// adapter interface. An adapter is stateless per call: it receives the
// full conversation context, makes exactly one backend call, and reports
// the outcome honestly. Retry policy belongs to the caller.
package model

import (
	"context"

	"github.com/chihyuyeh/coda/pkg/api"
)

// Backend is the model backend adapter consumed by the agent loop.
//
// Implementations must be safe for concurrent use by multiple goroutines;
// independent sessions call Complete in parallel.
type Backend interface {
	// Name returns the adapter identifier (e.g., "openai", "litellm").
	Name() string

	// Complete performs one inference call with the given context and
	// returns the completion text. Failures are reported as
	// *api.ModelCallError with the reason classified.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Close releases backend resources (HTTP clients, connections).
	Close() error
}

// Message is one context entry serialized for the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the serialized conversation context plus the fixed
// per-deployment generation settings.
type Request struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	Instructions string
	Messages     []Message
}

// Completion is the raw result of one backend call.
type Completion struct {
	Text  string
	Usage api.Usage
}
