package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/store"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiter(store.NewMemoryStore(), Config{
		GuestLimit: 2,
		UserLimit:  4,
		Window:     5 * time.Hour,
	}, nil)
	limiter.SetClock(func() time.Time { return now })
	return limiter, &now
}

func TestAdmitCountsUpToCeiling(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "guest-1", Tier: TierGuest}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Admit(ctx, subject)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("Admit %d: not allowed", i)
		}
	}

	decision, err := limiter.Admit(ctx, subject)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if decision.Allowed {
		t.Error("decision allowed after ceiling")
	}
	if decision.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", decision.Remaining)
	}
}

func TestAdmitWindowResets(t *testing.T) {
	limiter, now := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "guest-1", Tier: TierGuest}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Admit(ctx, subject); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := limiter.Admit(ctx, subject); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	// One second short of expiry still rejects.
	*now = now.Add(5*time.Hour - time.Second)
	if _, err := limiter.Admit(ctx, subject); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded just before reset, got %v", err)
	}

	*now = now.Add(time.Second)
	decision, err := limiter.Admit(ctx, subject)
	if err != nil {
		t.Fatalf("Admit after reset: %v", err)
	}
	if decision.Remaining != 1 {
		t.Errorf("remaining = %d, want 1 after reset", decision.Remaining)
	}
}

func TestAdmitRejectionDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "guest-1", Tier: TierGuest}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Admit(ctx, subject); err != nil {
			t.Fatal(err)
		}
	}
	// Repeated rejections must not grow the counter past the ceiling.
	for i := 0; i < 5; i++ {
		if _, err := limiter.Admit(ctx, subject); !errors.Is(err, ErrQuotaExceeded) {
			t.Fatal(err)
		}
	}
	if err := limiter.Refund(ctx, subject); err != nil {
		t.Fatal(err)
	}
	decision, err := limiter.Admit(ctx, subject)
	if err != nil {
		t.Fatalf("Admit after refund: %v", err)
	}
	if !decision.Allowed {
		t.Error("refunded slot not usable")
	}
}

func TestAdmitProBypasses(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "pro-1", Tier: TierPro}

	for i := 0; i < 100; i++ {
		decision, err := limiter.Admit(ctx, subject)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !decision.Allowed || decision.Remaining != -1 {
			t.Fatalf("decision = %+v, want unlimited", decision)
		}
	}
	// Pro requests are never recorded against the store.
	if _, err := limiter.usage.GetWindow(ctx, "pro-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("pro subject has a usage record: %v", err)
	}
}

func TestAdmitGuestWithoutKeyRejected(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	_, err := limiter.Admit(context.Background(), Subject{Tier: TierGuest})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestUserCeilingHigherThanGuest(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "user-1", Tier: TierUser}

	for i := 0; i < 4; i++ {
		if _, err := limiter.Admit(ctx, subject); err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
	}
	if _, err := limiter.Admit(ctx, subject); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded at user ceiling", err)
	}
}

func TestRemaining(t *testing.T) {
	limiter, now := newTestLimiter(t)
	ctx := context.Background()
	subject := Subject{Key: "user-1", Tier: TierUser}

	remaining, err := limiter.Remaining(ctx, subject)
	if err != nil || remaining != 4 {
		t.Fatalf("Remaining = %d, %v; want 4", remaining, err)
	}

	if _, err := limiter.Admit(ctx, subject); err != nil {
		t.Fatal(err)
	}
	remaining, err = limiter.Remaining(ctx, subject)
	if err != nil || remaining != 3 {
		t.Fatalf("Remaining = %d, %v; want 3", remaining, err)
	}

	*now = now.Add(6 * time.Hour)
	remaining, err = limiter.Remaining(ctx, subject)
	if err != nil || remaining != 4 {
		t.Fatalf("Remaining after expiry = %d, %v; want 4", remaining, err)
	}
}
