// Command mock-backend runs a deterministic Chat Completions server for
// exercising the agent loop without a real model. It inspects the
// conversation and replays scripted multi-round scenarios: code that
// succeeds, code that fails once and is corrected, and plain text
// answers.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Handler ---

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	if req.Stream {
		http.Error(w, `{"error":{"message":"streaming is not supported","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	text := scriptReply(&req)

	slog.Info("completion", "messages", len(req.Messages), "feedback_rounds", countFeedback(&req))

	resp := makeTextResponse(text)
	resp.Model = req.Model
	if resp.Model == "" {
		resp.Model = "mock-model"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// scriptReply picks the scripted response for the current round. The
// round is inferred from how many execution results are already in the
// conversation, so the mock stays stateless across requests.
func scriptReply(req *chatRequest) string {
	question := strings.ToLower(lastUserQuestion(req))
	round := countFeedback(req)

	switch {
	case strings.Contains(question, "fail once"):
		// Self-correction scenario: round 0 emits broken code, round 1
		// reads the traceback and fixes it, round 2 answers.
		switch round {
		case 0:
			return "Let me try.\n```python\nprint(undefined_variable)\n```"
		case 1:
			return "That name was undefined. Correcting:\n```python\nprint(40 + 2)\n```"
		default:
			return "The answer is 42."
		}
	case strings.Contains(question, "never finish"):
		// Round-limit scenario: always returns another code block.
		return fmt.Sprintf("Still working, round %d.\n```python\nprint(%d)\n```", round, round)
	case strings.Contains(question, "compute") || strings.Contains(question, "calculate"):
		switch round {
		case 0:
			return "I'll compute that.\n```python\nprint(2 + 2)\n```"
		default:
			return "The answer is 4."
		}
	default:
		// Plain conversational reply, terminates the loop immediately.
		return "Hello! Ask me to compute something and I will write code for it."
	}
}

func makeTextResponse(text string) chatResponse {
	return chatResponse{
		ID:     "chatcmpl-mock-text",
		Object: "chat.completion",
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMsg{
					Role:    "assistant",
					Content: text,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "coda-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

func lastUserQuestion(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role == "user" && !strings.HasPrefix(msg.Content, "Execution result:") {
			return msg.Content
		}
	}
	return ""
}

// countFeedback counts execution results fed back since the last real
// user message.
func countFeedback(req *chatRequest) int {
	count := 0
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if msg.Role == "user" {
			if strings.HasPrefix(msg.Content, "Execution result:") {
				count++
			} else {
				break
			}
		}
	}
	return count
}
