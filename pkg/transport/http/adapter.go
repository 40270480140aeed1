package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chihyuyeh/coda/pkg/agent"
	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
	"github.com/chihyuyeh/coda/pkg/transport"
)

// Adapter serves the session API over HTTP. It routes requests to the
// message handler and the session store and serializes responses.
type Adapter struct {
	handler  transport.MessageHandler
	store    transport.SessionStore // nil if in-memory-only
	manager  *agent.Manager
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter with the given message handler and
// options. The SessionStore is optional; when nil, reads fall back to
// the live session registry only. Middleware is applied to the handler
// in the given order.
func NewAdapter(handler transport.MessageHandler, store transport.SessionStore, manager *agent.Manager, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		handler = transport.Chain(middlewares...)(handler)
	}

	a := &Adapter{
		handler:  handler,
		store:    store,
		manager:  manager,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/sessions/{id}/messages", a.handlePostMessage)
	a.mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	a.mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDeleteSession)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to
// integrate with an http.Server or test with httptest. The returned
// handler includes HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header. If present
// in the request, it is forwarded to the response. After the handler
// runs, it checks the context for a request ID (set by the
// transport-level RequestID middleware) and adds it to the response
// headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handlePostMessage handles POST /v1/sessions/{id}/messages.
func (a *Adapter) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteErrorBody(w, http.StatusBadRequest, api.ErrorBody{
			Type:    "invalid_request",
			Message: "malformed session ID",
		})
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorBody(w, http.StatusUnsupportedMediaType, api.ErrorBody{
			Type:    "invalid_request",
			Message: "Content-Type must be application/json",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req transport.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorBody(w, http.StatusRequestEntityTooLarge, api.ErrorBody{
				Type:    "invalid_request",
				Message: fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize),
			})
			return
		}
		transport.WriteErrorBody(w, http.StatusBadRequest, api.ErrorBody{
			Type:    "invalid_request",
			Message: "invalid JSON: " + err.Error(),
		})
		return
	}
	req.SessionID = id

	// Register streaming and plain invocations alike, so a DELETE on
	// the session can cancel either. A session that is already running
	// keeps its original entry; the duplicate request fails fast with a
	// busy error and is not separately cancellable.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if a.inflight.Register(id, cancel) {
		defer a.inflight.Remove(id)
	}

	rw := newSSEEventWriter(w)
	if err := a.handler.HandleMessage(ctx, &req, rw); err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleGetSession handles GET /v1/sessions/{id}. The live registry is
// consulted first; a session mid-run is newer than its last snapshot.
func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteErrorBody(w, http.StatusBadRequest, api.ErrorBody{
			Type:    "invalid_request",
			Message: "malformed session ID",
		})
		return
	}

	subject := storage.GetSubject(r.Context())
	if sess, ok := a.manager.Get(id); ok {
		if owner := sess.Subject(); owner != "" && owner != subject {
			transport.WriteError(w, storage.ErrNotFound)
			return
		}
		writeJSON(w, sess.View())
		return
	}

	if a.store == nil {
		transport.WriteError(w, storage.ErrNotFound)
		return
	}

	view, err := a.store.GetSession(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, view)
}

// handleListSessions handles GET /v1/sessions.
func (a *Adapter) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorBody(w, http.StatusNotImplemented, api.ErrorBody{
			Type:    "invalid_request",
			Message: "session listing is not available (no store configured)",
		})
		return
	}

	opts, errBody := parseListOptions(r)
	if errBody != nil {
		transport.WriteErrorBody(w, http.StatusBadRequest, *errBody)
		return
	}

	result, err := a.store.ListSessions(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, result)
}

// handleDeleteSession handles DELETE /v1/sessions/{id}. A running
// invocation is cancelled first; the session is then removed from both
// the live registry and the store.
func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteErrorBody(w, http.StatusBadRequest, api.ErrorBody{
			Type:    "invalid_request",
			Message: "malformed session ID",
		})
		return
	}

	cancelled := a.inflight.Cancel(id)
	removed := a.manager.Remove(id)

	if a.store != nil {
		err := a.store.DeleteSession(r.Context(), id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			transport.WriteError(w, err)
			return
		}
		if err == nil {
			removed = true
		}
	}

	if !cancelled && !removed {
		transport.WriteError(w, storage.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealthz reports process liveness.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness, including store connectivity.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			transport.WriteErrorBody(w, http.StatusServiceUnavailable, api.ErrorBody{
				Type:    "server_error",
				Message: "store unavailable: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// parseListOptions extracts pagination parameters from the query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.ErrorBody) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After: q.Get("after"),
		Order: q.Get("order"),
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, &api.ErrorBody{
			Type:    "invalid_request",
			Message: "order must be 'asc' or 'desc'",
		}
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, &api.ErrorBody{
				Type:    "invalid_request",
				Message: "limit must be a positive integer",
			}
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeHandlerError reports a handler error. If streaming has already
// started, the status line is gone, so the error goes out as a terminal
// SSE event. Otherwise it is a standard JSON error response.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, rw *sseEventWriter, err error) {
	if rw.hasStartedStreaming() {
		_, body := transport.ClassifyError(err)
		rw.WriteEvent(context.Background(), transport.StreamEvent{
			Type:  transport.EventError,
			Error: &body,
		})
		return
	}
	transport.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
