// Package memory provides an in-memory implementation of
// transport.SessionStore for testing and single-node deployments.
// Sessions are lost when the process restarts. Optional LRU eviction
// bounds memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
	"github.com/chihyuyeh/coda/pkg/transport"
)

// entry holds a stored session snapshot and its metadata.
type entry struct {
	view    *api.SessionView
	subject string
	lruElem *list.Element
}

// Store is an in-memory SessionStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently saved
	maxSize int        // 0 = unlimited
}

var _ transport.SessionStore = (*Store)(nil)

// New creates an in-memory store. If maxSize is 0 the store grows
// without limit; otherwise the least recently saved session is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveSession upserts a session snapshot. A save touching a session
// owned by a different subject returns storage.ErrConflict.
func (s *Store) SaveSession(ctx context.Context, view *api.SessionView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject := storage.GetSubject(ctx)

	if e, ok := s.entries[view.ID]; ok {
		if subject != "" && e.subject != "" && e.subject != subject {
			return storage.ErrConflict
		}
		e.view = copyView(view)
		s.lruList.MoveToFront(e.lruElem)
		return nil
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[view.ID] = &entry{
		view:    copyView(view),
		subject: subject,
		lruElem: s.lruList.PushFront(view.ID),
	}
	return nil
}

// GetSession retrieves a session by ID, scoped to the subject when one
// is present in the context.
func (s *Store) GetSession(ctx context.Context, id string) (*api.SessionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if subject := storage.GetSubject(ctx); subject != "" && e.subject != subject {
		return nil, storage.ErrNotFound
	}
	return copyView(e.view), nil
}

// DeleteSession removes a session by ID.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if subject := storage.GetSubject(ctx); subject != "" && e.subject != subject {
		return storage.ErrNotFound
	}

	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// ListSessions returns one page of sessions ordered by creation time,
// scoped to the subject when one is present.
func (s *Store) ListSessions(ctx context.Context, opts transport.ListOptions) (*transport.SessionList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject := storage.GetSubject(ctx)

	var matches []*api.SessionView
	for _, e := range s.entries {
		if subject != "" && e.subject != subject {
			continue
		}
		matches = append(matches, e.view)
	}

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if asc {
			if matches[i].CreatedAt != matches[j].CreatedAt {
				return matches[i].CreatedAt < matches[j].CreatedAt
			}
			return matches[i].ID < matches[j].ID
		}
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].ID > matches[j].ID
	})

	if opts.After != "" {
		idx := -1
		for i, v := range matches {
			if v.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	}

	limit := clampLimit(opts.Limit)
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	out := make([]*api.SessionView, len(matches))
	for i, v := range matches {
		out[i] = copyView(v)
	}

	result := &transport.SessionList{
		Object:  "list",
		Data:    out,
		HasMore: hasMore,
	}
	if len(out) > 0 {
		result.FirstID = out[0].ID
		result.LastID = out[len(out)-1].ID
	}
	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently saved entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// copyView clones the snapshot so callers and the store never share a
// turns slice.
func copyView(v *api.SessionView) *api.SessionView {
	out := *v
	out.Turns = make([]api.Turn, len(v.Turns))
	copy(out.Turns, v.Turns)
	return &out
}
