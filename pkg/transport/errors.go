package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chihyuyeh/coda/pkg/agent"
	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
)

// ClassifyError maps a handler error to an HTTP status code and wire
// error body. Model backend failures keep their reason-specific status:
// the gateway is at fault only transitively, so rate limits surface as
// 429 and upstream outages as 502/504 rather than a generic 500.
func ClassifyError(err error) (int, api.ErrorBody) {
	var mce *api.ModelCallError
	switch {
	case errors.As(err, &mce):
		return statusForModelError(mce), api.ErrorBody{
			Type:    "model_error",
			Message: mce.Error(),
		}
	case errors.Is(err, agent.ErrSessionBusy):
		return http.StatusConflict, api.ErrorBody{
			Type:    "session_busy",
			Message: err.Error(),
		}
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest, api.ErrorBody{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, api.ErrorBody{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, api.ErrorBody{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, api.ErrorBody{
			Type:    "timeout",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, api.ErrorBody{
			Type:    "server_error",
			Message: err.Error(),
		}
	}
}

func statusForModelError(e *api.ModelCallError) int {
	switch e.Reason {
	case api.ReasonRateLimit:
		return http.StatusTooManyRequests
	case api.ReasonNetwork:
		return http.StatusGatewayTimeout
	default:
		// auth and malformed_response: the upstream backend misbehaved
		// or rejected our credentials.
		return http.StatusBadGateway
	}
}

// WriteError serializes a handler error as the JSON error body with the
// status derived by ClassifyError.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ClassifyError(err)
	WriteErrorBody(w, status, body)
}

// WriteErrorBody writes a JSON error response with the given status.
func WriteErrorBody(w http.ResponseWriter, status int, body api.ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: body})
}
