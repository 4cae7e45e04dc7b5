package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets a source failure for the retry policy: rate limits and
// server-side errors are worth retrying, auth and validation failures are
// not.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindServerError  Kind = "server_error"
	KindUnauthorized Kind = "unauthorized"
	KindBadRequest   Kind = "bad_request"
	KindTransport    Kind = "transport"
)

// Error is a classified source failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("source %s: %s", e.Kind, e.Message)
}

// Retryable reports whether retrying the same request can succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTransport:
		return true
	}
	return false
}

// IsRetryable classifies any error from this package; unknown errors are
// treated as non-retryable so misconfigurations fail fast.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

func errorFromStatus(status int, message string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: status, Message: message}
	case status >= 500:
		return &Error{Kind: KindServerError, StatusCode: status, Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, StatusCode: status, Message: message}
	default:
		return &Error{Kind: KindBadRequest, StatusCode: status, Message: message}
	}
}
