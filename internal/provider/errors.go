package provider

import (
	"errors"
	"net/http"
	"strings"
)

// FailReason categorizes why a provider request failed, driving retry
// decisions in the adapters.
type FailReason string

const (
	// FailAuth indicates authentication failure (HTTP 401, 403).
	FailAuth FailReason = "auth"

	// FailRateLimit indicates upstream rate limiting (HTTP 429).
	FailRateLimit FailReason = "rate_limit"

	// FailTimeout indicates a request timeout.
	FailTimeout FailReason = "timeout"

	// FailServerError indicates upstream server issues (HTTP 5xx).
	FailServerError FailReason = "server_error"

	// FailInvalidRequest indicates a malformed request (HTTP 400).
	FailInvalidRequest FailReason = "invalid_request"

	// FailUnknown indicates an unclassified error.
	FailUnknown FailReason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case FailRateLimit, FailTimeout, FailServerError:
		return true
	default:
		return false
	}
}

// Error is a structured error from an upstream provider.
type Error struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, "["+string(e.Reason)+"]", e.Provider)
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WrapError builds a classified provider error from a raw upstream error.
func WrapError(provider, model string, cause error) *Error {
	return &Error{
		Reason:   ClassifyError(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// ClassifyError inspects an error's text and returns a FailReason. Provider
// SDKs surface upstream failures inconsistently, so this falls back to
// pattern matching.
func ClassifyError(err error) FailReason {
	if err == nil {
		return FailUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return FailTimeout
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return FailRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailAuth
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "overloaded"):
		return FailServerError
	case strings.Contains(errStr, "invalid request"),
		strings.Contains(errStr, "400"):
		return FailInvalidRequest
	default:
		return FailUnknown
	}
}

// ClassifyStatus returns a FailReason for an HTTP status code.
func ClassifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailAuth
	case status == http.StatusTooManyRequests:
		return FailRateLimit
	case status == http.StatusBadRequest:
		return FailInvalidRequest
	case status >= 500:
		return FailServerError
	default:
		return FailUnknown
	}
}

// IsRetryable checks whether an error should be retried.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
