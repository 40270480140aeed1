// Package api defines the core conversation types for the coda agent:
// Turns, code blocks, execution results, the session wire format, and
// the error taxonomy shared by all components.
//
// The package has zero external dependencies (Go standard library only)
// and performs no I/O. Turns are immutable value types: once appended to
// a session history they are never mutated, only read.
package api
