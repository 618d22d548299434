package kiro

import (
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

const providerID = "kiro"

var errInvalidJSON = errors.New("response body is not valid JSON")

// normalizeError converts a backend error response to a ProviderError with
// the appropriate sentinel. The raw body is kept for diagnostics.
func normalizeError(status int, body []byte) error {
	message := http.StatusText(status)
	code := "unknown_error"
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		if m := firstString(root, "message", "Message", "error.message"); m != "" {
			message = m
		}
		if c := firstString(root, "reason", "__type", "error.code"); c != "" {
			code = c
		}
	} else if len(body) > 0 {
		message = string(body)
	}

	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = core.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		sentinel = core.ErrRateLimited
	case status >= 500:
		sentinel = core.ErrServer
	default:
		sentinel = core.ErrBadRequest
	}

	return &core.ProviderError{
		Provider: providerID,
		Status:   status,
		Code:     code,
		Message:  message,
		Body:     body,
		Err:      sentinel,
	}
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// newNetworkError creates a ProviderError for network-related failures.
func newNetworkError(err error) error {
	return &core.ProviderError{
		Provider: providerID,
		Code:     "network_error",
		Message:  err.Error(),
		Err:      core.ErrNetwork,
	}
}

// newDecodeError creates a ProviderError for undecodable response bodies.
func newDecodeError(err error) error {
	return &core.ProviderError{
		Provider: providerID,
		Code:     "decode_error",
		Message:  err.Error(),
		Err:      core.ErrDecode,
	}
}

// newAuthError wraps a credential failure. cause may be a rejected backend
// response or an issuer error.
func newAuthError(cause error) error {
	pe := &core.ProviderError{
		Provider: providerID,
		Code:     "auth_error",
		Message:  cause.Error(),
		Err:      core.ErrAuth,
	}
	var upstream *core.ProviderError
	if errors.As(cause, &upstream) {
		pe.Status = upstream.Status
		pe.Body = upstream.Body
		pe.Message = upstream.Message
	}
	return pe
}

// newUnavailableError reports exhausted retries; last is the final transient failure.
func newUnavailableError(last error) error {
	pe := &core.ProviderError{
		Provider: providerID,
		Code:     "upstream_unavailable",
		Message:  "retries exhausted: " + last.Error(),
		Err:      core.ErrUpstreamUnavailable,
	}
	var upstream *core.ProviderError
	if errors.As(last, &upstream) {
		pe.Status = upstream.Status
		pe.Body = upstream.Body
	}
	return pe
}

// newFrameError wraps a decoder integrity failure.
func newFrameError(err error) error {
	return &core.ProviderError{
		Provider: providerID,
		Code:     "frame_integrity",
		Message:  err.Error(),
		Err:      core.ErrFrameIntegrity,
	}
}

// newBackendException reports an exception frame received before any output.
func newBackendException(ev eventstream.ErrorEvent) error {
	sentinel := core.ErrServer
	switch ev.Kind {
	case "ThrottlingException":
		sentinel = core.ErrRateLimited
	case "ValidationException":
		sentinel = core.ErrBadRequest
	case "AccessDeniedException":
		sentinel = core.ErrAuth
	}
	return &core.ProviderError{
		Provider: providerID,
		Code:     ev.Kind,
		Message:  ev.Message,
		Err:      sentinel,
	}
}

var errEmptyConversation = &core.ProviderError{
	Provider: providerID,
	Code:     "empty_conversation",
	Message:  "no user or assistant message to send",
	Err:      core.ErrEmptyConversation,
}
