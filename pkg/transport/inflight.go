package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running loop invocations by session ID so a
// DELETE on the session can cancel a run that is still in progress.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]context.CancelFunc)}
}

// Register records an in-flight invocation for the session. When one is
// already registered it is kept and Register returns false: sessions are
// single-flight, so the duplicate request fails fast with a busy error
// and must not displace the running invocation's cancel func.
func (r *InFlightRegistry) Register(sessionID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; ok {
		return false
	}
	r.entries[sessionID] = cancel
	return true
}

// Cancel cancels the session's in-flight invocation. Returns false when
// nothing is running for that session.
func (r *InFlightRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, sessionID)
	return true
}

// Remove drops the entry without cancelling, called when an invocation
// completes normally.
func (r *InFlightRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}
