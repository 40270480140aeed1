// Package transport defines the handler interfaces and middleware chain
// between the HTTP layer and the agent loop.
//
// The transport layer deserializes incoming session messages, dispatches
// them to a MessageHandler, and serializes the outcome back to the
// client either as a single JSON document or as a live SSE stream of
// turns. The EventWriter interface abstracts over those two output
// modes so the handler never touches the wire protocol.
//
// Middleware wraps MessageHandler with cross-cutting concerns: panic
// recovery, request ID assignment (X-Request-ID), and structured logging
// via log/slog.
package transport
