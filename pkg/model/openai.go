package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/debug"
)

// OpenAIBackend calls an OpenAI-compatible Chat Completions endpoint.
// It works against the OpenAI API itself as well as proxies that speak
// the same protocol (LiteLLM, vLLM, Ollama's /v1 surface).
type OpenAIBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	name       string
}

var _ Backend = (*OpenAIBackend)(nil)

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	// BaseURL is the backend root, e.g. "https://api.openai.com" or a
	// proxy endpoint. Required.
	BaseURL string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// Timeout bounds each Complete call at the HTTP layer.
	// Defaults to 120s.
	Timeout time.Duration

	// Name overrides the adapter identifier reported in logs and
	// metrics. Defaults to "openai".
	Name string
}

// NewOpenAIBackend creates a backend adapter for an OpenAI-compatible
// Chat Completions endpoint.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model: BaseURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIBackend{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		name:       name,
	}, nil
}

// Name returns the adapter identifier.
func (b *OpenAIBackend) Name() string {
	return b.name
}

// Close releases the underlying HTTP client's idle connections.
func (b *OpenAIBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// chatRequest is the Chat Completions request body. Only the fields the
// agent uses are carried.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the non-streaming Chat Completions response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatErrorResponse is the error body OpenAI-compatible backends return.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one non-streaming call against /v1/chat/completions.
func (b *OpenAIBackend) Complete(ctx context.Context, req *Request) (*Completion, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		body.MaxTokens = &n
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewModelCallError(api.ReasonMalformedResponse, "marshal request: %s", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, api.NewModelCallError(api.ReasonNetwork, "create request: %s", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	debug.Log("model", "request", "method", "POST",
		"url", b.baseURL+"/v1/chat/completions", "model", req.Model, "messages", len(messages))
	debug.Raw("model", string(payload))

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, api.NewModelCallError(api.ReasonNetwork, "backend connection error: %s", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewModelCallError(api.ReasonMalformedResponse, "decode backend response: %s", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, api.NewModelCallError(api.ReasonMalformedResponse, "backend returned no choices")
	}

	completion := &Completion{Text: chatResp.Choices[0].Message.Content}
	if chatResp.Usage != nil {
		completion.Usage = api.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		}
	}
	return completion, nil
}

// mapHTTPError classifies a non-2xx backend status onto the model call
// error taxonomy.
func mapHTTPError(resp *http.Response) *api.ModelCallError {
	message := extractErrorMessage(resp.Body)
	if message == "" {
		message = fmt.Sprintf("backend returned HTTP %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return api.NewModelCallError(api.ReasonAuth, "%s", message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return api.NewModelCallError(api.ReasonRateLimit, "%s", message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return api.NewModelCallError(api.ReasonNetwork, "%s", message)
	default:
		return api.NewModelCallError(api.ReasonMalformedResponse, "%s", message)
	}
}

// extractErrorMessage tries to parse the response body as the standard
// error envelope and returns the message if found.
func extractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var errResp chatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}
