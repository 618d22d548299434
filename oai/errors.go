package oai

import "net/http"

// NewError builds an error envelope for an HTTP status.
func NewError(status int, code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Message: message,
		Type:    errorType(status),
		Code:    code,
	}}
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}
