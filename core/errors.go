package core

import (
	"errors"
	"fmt"
)

// Builder validation errors.
var (
	ErrModelRequired = errors.New("model required")
	ErrNoMessages    = errors.New("no messages")
)

// Sentinel errors classify failures. Match them with errors.Is; a
// *ProviderError unwraps to exactly one of them.
var (
	// ErrValidation marks a malformed incoming request.
	ErrValidation = errors.New("invalid request")
	// ErrEmptyConversation marks a conversation with nothing left to send.
	ErrEmptyConversation = errors.New("empty conversation")
	// ErrAuth marks a credential that could not be issued or was rejected twice.
	ErrAuth = errors.New("authentication failed")
	// ErrBadRequest marks a non-retryable 4xx from the backend.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized marks a single 401/403 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited marks a 429 response.
	ErrRateLimited = errors.New("rate limited")
	// ErrServer marks a 5xx response.
	ErrServer = errors.New("server error")
	// ErrNetwork marks a connection level failure or timeout.
	ErrNetwork = errors.New("network error")
	// ErrDecode marks a response body that could not be decoded.
	ErrDecode = errors.New("decode error")
	// ErrUpstreamUnavailable marks exhausted retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrFrameIntegrity marks a corrupt or truncated event stream.
	ErrFrameIntegrity = errors.New("frame integrity")
	// ErrNotFound marks an unknown model or resource.
	ErrNotFound = errors.New("not found")
)

// ProviderError carries the details of a failed provider call.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	// Body is the raw backend error body, kept for diagnostics.
	Body []byte
	Err  error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err belongs to a transient class.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServer), errors.Is(err, ErrNetwork):
		return true
	default:
		return false
	}
}
