package storage

import "context"

// subjectKey is a private type for the subject context key, preventing
// collisions with other packages.
type subjectKey struct{}

// SetSubject injects the authenticated subject into the context. Stores
// scope reads and writes to it when present.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// GetSubject extracts the subject from the context. Returns an empty
// string when no subject is set (unauthenticated or single-user mode).
func GetSubject(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey{}).(string); ok {
		return v
	}
	return ""
}
