// Package ratelimit provides fixed-window admission control for generation
// requests. Counters live in the usage store so limits survive restarts and
// are shared across processes; the window never slides, it resets when the
// elapsed time since its start reaches the configured size.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/store"
)

// ErrQuotaExceeded indicates the subject has used its full window quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Tier determines the subject's ceiling.
type Tier string

const (
	// TierGuest is an anonymous visitor, identified by a device key.
	TierGuest Tier = "guest"
	// TierUser is a signed-in account.
	TierUser Tier = "user"
	// TierPro is a paying account; admission is unlimited.
	TierPro Tier = "pro"
)

// Subject identifies who is asking for admission.
type Subject struct {
	// Key is the stable identifier the counter is stored under: user id for
	// accounts, device key for guests.
	Key  string
	Tier Tier
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Remaining is the number of slots left in the window after this
	// decision. -1 means unlimited.
	Remaining int
	// ResetAt is when the current window expires. Zero for unlimited.
	ResetAt time.Time
}

// Config configures the limiter ceilings and window.
type Config struct {
	GuestLimit int
	UserLimit  int
	Window     time.Duration
}

// Limiter performs fixed-window admission control over a UsageStore.
type Limiter struct {
	usage   store.UsageStore
	config  Config
	metrics *observability.Metrics

	// now is injectable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter backed by the given usage store.
func NewLimiter(usage store.UsageStore, config Config, metrics *observability.Metrics) *Limiter {
	return &Limiter{
		usage:   usage,
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the limiter's time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Admit checks and consumes one slot for the subject.
//
// Pro subjects bypass counting entirely and are never recorded. A guest
// with an empty key cannot be tracked and is rejected outright. On
// rejection the counter is untouched and the decision carries the window's
// reset time so callers can tell the user when to come back.
func (l *Limiter) Admit(ctx context.Context, subject Subject) (Decision, error) {
	if subject.Tier == TierPro {
		l.record(subject.Tier, true)
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	if subject.Key == "" {
		if subject.Tier == TierGuest {
			l.record(subject.Tier, false)
			return Decision{}, fmt.Errorf("%w: guest has no device key", ErrQuotaExceeded)
		}
		return Decision{}, errors.New("ratelimit: subject key is required")
	}

	ceiling := l.ceiling(subject.Tier)
	now := l.now()

	window, allowed, err := l.usage.ConsumeWindow(ctx, subject.Key, l.config.Window, ceiling, now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume window: %w", err)
	}

	resetAt := window.WindowStart.Add(l.config.Window)
	l.record(subject.Tier, allowed)
	if !allowed {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt},
			fmt.Errorf("%w: limit %d per %s, resets %s", ErrQuotaExceeded, ceiling, l.config.Window, resetAt.Format(time.RFC3339))
	}
	return Decision{Allowed: true, Remaining: ceiling - window.Count, ResetAt: resetAt}, nil
}

// Refund returns one slot to the subject, used when an admitted request
// fails before producing anything of value. Pro subjects have nothing to
// refund.
func (l *Limiter) Refund(ctx context.Context, subject Subject) error {
	if subject.Tier == TierPro || subject.Key == "" {
		return nil
	}
	if err := l.usage.RefundWindow(ctx, subject.Key); err != nil {
		return fmt.Errorf("refund window: %w", err)
	}
	return nil
}

// Remaining reports the subject's unused slots without consuming one.
func (l *Limiter) Remaining(ctx context.Context, subject Subject) (int, error) {
	if subject.Tier == TierPro {
		return -1, nil
	}
	ceiling := l.ceiling(subject.Tier)

	window, err := l.usage.GetWindow(ctx, subject.Key)
	if errors.Is(err, store.ErrNotFound) {
		return ceiling, nil
	}
	if err != nil {
		return 0, err
	}
	if l.now().Sub(window.WindowStart) >= l.config.Window {
		return ceiling, nil
	}
	remaining := ceiling - window.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) ceiling(tier Tier) int {
	if tier == TierGuest {
		return l.config.GuestLimit
	}
	return l.config.UserLimit
}

func (l *Limiter) record(tier Tier, allowed bool) {
	if l.metrics != nil {
		l.metrics.RecordAdmission(string(tier), allowed)
	}
}
