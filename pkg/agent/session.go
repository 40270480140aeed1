package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/observability"
)

// ErrSessionBusy is returned when a message arrives for a session that
// is still processing a previous message. A session runs one loop
// invocation at a time; callers should retry after the current one
// finishes.
var ErrSessionBusy = errors.New("session is already processing a message")

// Session is one conversation: an append-only history plus the loop
// state of the current invocation. Sessions are safe for concurrent
// reads (View) while a run is in progress; only the run that holds the
// single-flight lock appends.
type Session struct {
	id        string
	createdAt time.Time

	// runMu is the single-flight guard, held for the full duration of
	// one Runner.Run invocation.
	runMu sync.Mutex

	mu         sync.RWMutex
	subject    string
	history    History
	roundCount int
	maxRounds  int
	terminated bool
}

// NewSession creates an empty session. A maxRounds of zero selects
// DefaultMaxRounds.
func NewSession(id string, maxRounds int) *Session {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		maxRounds: maxRounds,
	}
}

// RestoreSession rebuilds a live session from its persisted view, used
// when a session survives a process restart through the store.
func RestoreSession(view api.SessionView) *Session {
	s := NewSession(view.ID, view.MaxRounds)
	s.subject = view.Subject
	s.roundCount = view.RoundCount
	s.terminated = view.Terminated
	if view.CreatedAt > 0 {
		s.createdAt = time.Unix(view.CreatedAt, 0).UTC()
	}
	for _, t := range view.Turns {
		s.history.Append(t)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SetSubject records the identity of the caller that owns the session.
func (s *Session) SetSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
}

// Subject returns the owning identity, if any.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// RoundCount returns the number of completed rounds in the current
// invocation.
func (s *Session) RoundCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roundCount
}

// MaxRounds returns the session's round limit.
func (s *Session) MaxRounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRounds
}

// Terminated reports whether the last invocation ran to completion.
// A terminated session accepts a fresh user message, which starts a new
// invocation over the accumulated history.
func (s *Session) Terminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminated
}

// View returns a point-in-time snapshot for the HTTP API and stores.
func (s *Session) View() api.SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.SessionView{
		ID:         s.id,
		Subject:    s.subject,
		Turns:      s.history.All(),
		RoundCount: s.roundCount,
		MaxRounds:  s.maxRounds,
		Terminated: s.terminated,
		CreatedAt:  s.createdAt.Unix(),
	}
}

// beginRun acquires the single-flight lock without blocking and resets
// the per-invocation loop state.
func (s *Session) beginRun() error {
	if !s.runMu.TryLock() {
		return ErrSessionBusy
	}
	s.mu.Lock()
	s.roundCount = 0
	s.terminated = false
	s.mu.Unlock()
	return nil
}

func (s *Session) endRun() {
	s.runMu.Unlock()
}

// setMaxRounds aligns the session's limit with the bound the runner is
// applying to the current invocation.
func (s *Session) setMaxRounds(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRounds = n
}

func (s *Session) append(t api.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(t)
}

// completeRound increments the round counter and returns the new count.
func (s *Session) completeRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roundCount++
	return s.roundCount
}

func (s *Session) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
}

// contextWindow snapshots the turns to serialize for the next model
// call.
func (s *Session) contextWindow(max int) []api.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Window(max)
}

// Manager keeps the live sessions of one process, keyed by the
// caller-supplied session ID.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	maxRounds int
}

// NewManager creates an empty session registry. maxRounds is applied to
// every session it creates.
func NewManager(maxRounds int) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		maxRounds: maxRounds,
	}
}

// Get returns the live session with the given ID, if present.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the live session with the given ID, creating it
// when absent. The second return reports whether a new session was
// created.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := NewSession(id, m.maxRounds)
	m.sessions[id] = s
	observability.ActiveSessions.Set(float64(len(m.sessions)))
	return s, true
}

// Adopt registers a session restored from the store. When a live
// session with the same ID already exists it wins, so an in-flight run
// is never displaced by stale persisted state.
func (m *Manager) Adopt(view api.SessionView) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[view.ID]; ok {
		return s
	}
	s := RestoreSession(view)
	m.sessions[view.ID] = s
	observability.ActiveSessions.Set(float64(len(m.sessions)))
	return s
}

// Remove drops the live session with the given ID and reports whether
// it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	observability.ActiveSessions.Set(float64(len(m.sessions)))
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
