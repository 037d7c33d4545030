package provider

import (
	"context"
	"time"
)

// base holds shared retry configuration for adapters.
type base struct {
	maxRetries int
	retryDelay time.Duration
}

func newBase(maxRetries int, retryDelay time.Duration) base {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return base{maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry executes op with linear backoff while isRetryable returns true.
func (b *base) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}
