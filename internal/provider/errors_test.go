package provider

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailReason
	}{
		{"timeout", errors.New("context deadline exceeded"), FailTimeout},
		{"rate limit", errors.New("429 too many requests"), FailRateLimit},
		{"auth", errors.New("401 unauthorized"), FailAuth},
		{"server", errors.New("500 internal server error"), FailServerError},
		{"overloaded", errors.New("overloaded_error: try again"), FailServerError},
		{"unknown", errors.New("something odd"), FailUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := WrapError("anthropic", "m", errors.New("rate limit exceeded"))
	if !IsRetryable(retryable) {
		t.Error("rate limit should be retryable")
	}
	fatal := WrapError("anthropic", "m", errors.New("invalid api key"))
	if IsRetryable(fatal) {
		t.Error("auth failure should not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := WrapError("openai", "gpt-4o", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
}
