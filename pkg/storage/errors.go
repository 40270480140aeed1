package storage

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a session does not exist or belongs
	// to a different subject.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a save collides with a session owned
	// by a different subject.
	ErrConflict = errors.New("session owned by another subject")
)
