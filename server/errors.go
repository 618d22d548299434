package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/erikhoward/kirogw/core"
)

// StatusFor maps an error to the HTTP status returned to the client.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrModelRequired),
		errors.Is(err, core.ErrNoMessages),
		errors.Is(err, core.ErrEmptyConversation),
		errors.Is(err, core.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAuth), errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrFrameIntegrity), errors.Is(err, core.ErrDecode):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrUpstreamUnavailable), errors.Is(err, core.ErrServer), errors.Is(err, core.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode returns the provider error code, or a code derived from the status.
func errorCode(err error, status int) string {
	var pe *core.ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return ""
	}
}
