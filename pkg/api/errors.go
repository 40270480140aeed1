package api

import "fmt"

// ModelCallReason categorizes why a model backend call failed.
type ModelCallReason string

const (
	ReasonAuth              ModelCallReason = "auth"
	ReasonRateLimit         ModelCallReason = "rate_limit"
	ReasonNetwork           ModelCallReason = "network"
	ReasonMalformedResponse ModelCallReason = "malformed_response"
)

// ModelCallError reports a failed model backend call. It is the only
// error class that escapes the agent loop to the caller: sandbox-level
// failures are converted to ExecutionResult data before they reach the
// loop. The adapter makes one call and reports the outcome honestly;
// retries, if any, are the caller's decision.
type ModelCallError struct {
	Reason  ModelCallReason `json:"reason"`
	Message string          `json:"message"`
}

// Error implements the error interface.
func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed (%s): %s", e.Reason, e.Message)
}

// NewModelCallError creates a ModelCallError with the given reason.
func NewModelCallError(reason ModelCallReason, format string, args ...any) *ModelCallError {
	return &ModelCallError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// Retryable reports whether the failure class is worth retrying from the
// caller's side. Auth and malformed-response failures are not transient.
func (e *ModelCallError) Retryable() bool {
	return e.Reason == ReasonRateLimit || e.Reason == ReasonNetwork
}

// ErrorResponse wraps an error message for JSON serialization as the
// top-level error body of the HTTP API.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error type and message on the wire.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
