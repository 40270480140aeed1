// Package storage provides utilities shared across session store
// implementations: sentinel errors and subject context helpers.
//
// Store adapters (memory, postgres) implement the transport.SessionStore
// interface defined in pkg/transport/handler.go. This package contains
// only shared types and helpers, not the interface itself.
package storage
