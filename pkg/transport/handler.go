package transport

import (
	"context"

	"github.com/chihyuyeh/coda/pkg/api"
)

// MessageHandler processes one user message against a session. The
// implementation runs the agent loop and reports progress through the
// EventWriter: streamed turn events for SSE clients, or one final
// result for plain JSON clients.
type MessageHandler interface {
	HandleMessage(ctx context.Context, req *MessageRequest, w EventWriter) error
}

// MessageHandlerFunc adapts an ordinary function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, req *MessageRequest, w EventWriter) error

// HandleMessage calls f(ctx, req, w).
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, req *MessageRequest, w EventWriter) error {
	return f(ctx, req, w)
}

// MessageRequest is the decoded body of a session message post. The
// session ID comes from the URL path, not the body.
type MessageRequest struct {
	SessionID string `json:"-"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream,omitempty"`
}

// MessageResult is the final outcome of one loop invocation, returned
// as the JSON body for non-streaming requests and as the payload of the
// answer.final event for streaming ones.
type MessageResult struct {
	SessionID  string `json:"session_id"`
	Answer     string `json:"answer"`
	RoundCount int    `json:"round_count"`
	Terminated bool   `json:"terminated"`
}

// EventType names the SSE event kinds of the message stream.
type EventType string

const (
	// EventTurnUser echoes the accepted user turn.
	EventTurnUser EventType = "turn.user"

	// EventTurnAssistant carries one model reply, code blocks included.
	EventTurnAssistant EventType = "turn.assistant"

	// EventTurnTool carries one sandbox execution result.
	EventTurnTool EventType = "turn.tool"

	// EventAnswerFinal is the terminal event of a successful invocation.
	EventAnswerFinal EventType = "answer.final"

	// EventError is the terminal event of a failed invocation.
	EventError EventType = "error"
)

// StreamEvent is one SSE event on the message stream. Exactly one of
// Turn, Result, and Error is set, matching the event type.
type StreamEvent struct {
	Type   EventType      `json:"type"`
	Turn   *api.Turn      `json:"turn,omitempty"`
	Result *MessageResult `json:"result,omitempty"`
	Error  *api.ErrorBody `json:"error,omitempty"`
}

// EventForTurn maps a history turn to its stream event.
func EventForTurn(turn api.Turn) StreamEvent {
	var typ EventType
	switch turn.Role {
	case api.RoleAssistant:
		typ = EventTurnAssistant
	case api.RoleTool:
		typ = EventTurnTool
	default:
		typ = EventTurnUser
	}
	return StreamEvent{Type: typ, Turn: &turn}
}

// EventWriter abstracts streaming and non-streaming output. WriteEvent
// and WriteResult are mutually exclusive on one writer: a streaming
// response emits events ending in answer.final or error, a plain
// response emits exactly one result.
type EventWriter interface {
	// WriteEvent sends one streaming event. Returns an error when called
	// after a terminal event or after WriteResult.
	WriteEvent(ctx context.Context, event StreamEvent) error

	// WriteResult sends the complete non-streaming result. Returns an
	// error when streaming has already started.
	WriteResult(ctx context.Context, result *MessageResult) error

	// Flush pushes buffered data to the client.
	Flush() error
}

// ListOptions controls pagination and ordering for session listing.
type ListOptions struct {
	After string // cursor: return sessions after this ID
	Limit int    // maximum number of sessions (default 20, max 100)
	Order string // "asc" or "desc" by creation time (default "desc")
}

// SessionList holds one page of stored sessions.
type SessionList struct {
	Object  string             `json:"object"`
	Data    []*api.SessionView `json:"data"`
	HasMore bool               `json:"has_more"`
	FirstID string             `json:"first_id,omitempty"`
	LastID  string             `json:"last_id,omitempty"`
}

// SessionStore persists session snapshots so conversations survive
// process restarts. Implementations exist for memory and PostgreSQL.
type SessionStore interface {
	// SaveSession upserts a session snapshot. Returns
	// storage.ErrConflict when the session exists under a different
	// owning subject.
	SaveSession(ctx context.Context, view *api.SessionView) error

	// GetSession retrieves a session by ID. Returns storage.ErrNotFound
	// when absent or owned by another subject.
	GetSession(ctx context.Context, id string) (*api.SessionView, error)

	// DeleteSession removes a session by ID.
	DeleteSession(ctx context.Context, id string) error

	// ListSessions returns one page of sessions, scoped to the subject
	// in the context when one is set.
	ListSessions(ctx context.Context, opts ListOptions) (*SessionList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}
