package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chihyuyeh/coda/pkg/agent"
	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
	"github.com/chihyuyeh/coda/pkg/transport"
)

// LoopHandler bridges the transport layer to the agent loop: it resolves
// the target session, runs one loop invocation, persists the resulting
// snapshot, and reports the outcome through the EventWriter.
type LoopHandler struct {
	manager *agent.Manager
	runner  *agent.Runner
	store   transport.SessionStore // nil disables persistence
	logger  *slog.Logger
}

var _ transport.MessageHandler = (*LoopHandler)(nil)

// NewLoopHandler wires a loop handler. The store is optional; without
// one, sessions live only in process memory. A nil logger selects
// slog.Default().
func NewLoopHandler(manager *agent.Manager, runner *agent.Runner, store transport.SessionStore, logger *slog.Logger) *LoopHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopHandler{
		manager: manager,
		runner:  runner,
		store:   store,
		logger:  logger,
	}
}

// HandleMessage runs the agent loop for one user message. For streaming
// requests every appended turn goes out as an SSE event followed by a
// terminal answer.final; plain requests get one JSON result.
func (h *LoopHandler) HandleMessage(ctx context.Context, req *transport.MessageRequest, w transport.EventWriter) error {
	sess, err := h.resolveSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	var obs agent.TurnObserver
	if req.Stream {
		obs = agent.TurnObserverFunc(func(sessionID string, turn api.Turn) {
			event := transport.EventForTurn(turn)
			if writeErr := w.WriteEvent(ctx, event); writeErr != nil {
				h.logger.WarnContext(ctx, "dropping stream event",
					"session", sessionID, "event", event.Type, "error", writeErr)
			}
		})
	}

	answer, runErr := h.runner.Run(ctx, sess, req.Message, obs)

	// Persist whatever the run appended, including the user turn of a
	// failed round, so the session survives a restart mid-conversation.
	h.persist(ctx, sess)

	if runErr != nil {
		return runErr
	}

	result := &transport.MessageResult{
		SessionID:  sess.ID(),
		Answer:     answer,
		RoundCount: sess.RoundCount(),
		Terminated: sess.Terminated(),
	}

	if req.Stream {
		return w.WriteEvent(ctx, transport.StreamEvent{
			Type:   transport.EventAnswerFinal,
			Result: result,
		})
	}
	return w.WriteResult(ctx, result)
}

// resolveSession finds or creates the session, restoring it from the
// store when the process has no live copy, and enforces subject
// ownership.
func (h *LoopHandler) resolveSession(ctx context.Context, id string) (*agent.Session, error) {
	subject := storage.GetSubject(ctx)

	sess, ok := h.manager.Get(id)
	if !ok && h.store != nil {
		view, err := h.store.GetSession(ctx, id)
		switch {
		case err == nil:
			sess = h.manager.Adopt(*view)
			ok = true
		case errors.Is(err, storage.ErrNotFound):
			// Fresh session.
		default:
			return nil, fmt.Errorf("restoring session %s: %w", id, err)
		}
	}
	if !ok {
		sess, _ = h.manager.GetOrCreate(id)
	}

	owner := sess.Subject()
	switch {
	case owner == "" && subject != "":
		sess.SetSubject(subject)
	case owner != "" && owner != subject:
		return nil, storage.ErrConflict
	}
	return sess, nil
}

// persist saves the session snapshot. Store failures do not fail the
// request; the live session remains authoritative.
func (h *LoopHandler) persist(ctx context.Context, sess *agent.Session) {
	if h.store == nil {
		return
	}
	// The request context may already be cancelled (client gone, stream
	// cancelled); the snapshot should still be saved.
	ctx = context.WithoutCancel(ctx)
	view := sess.View()
	if err := h.store.SaveSession(ctx, &view); err != nil {
		h.logger.ErrorContext(ctx, "persisting session failed",
			"session", sess.ID(), "error", err)
	}
}
