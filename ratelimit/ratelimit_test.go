package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestSpacing != 200*time.Millisecond {
		t.Errorf("RequestSpacing = %v, want 200ms", cfg.RequestSpacing)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
	if cfg.MaxSpacing != 30*time.Second {
		t.Errorf("MaxSpacing = %v, want 30s", cfg.MaxSpacing)
	}
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	l := New(nil)

	if l.Spacing() != 200*time.Millisecond {
		t.Errorf("Spacing = %v, want default 200ms", l.Spacing())
	}
}

func TestThrottledWidensSpacing(t *testing.T) {
	l := New(&Config{
		RequestSpacing:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxSpacing:        time.Second,
	})

	if got := l.Throttled(); got != 200*time.Millisecond {
		t.Errorf("first Throttled = %v, want 200ms", got)
	}
	if got := l.Throttled(); got != 400*time.Millisecond {
		t.Errorf("second Throttled = %v, want 400ms", got)
	}
}

func TestThrottledCapsAtMaxSpacing(t *testing.T) {
	l := New(&Config{
		RequestSpacing:    100 * time.Millisecond,
		BackoffMultiplier: 10.0,
		MaxSpacing:        500 * time.Millisecond,
	})

	for i := 0; i < 5; i++ {
		l.Throttled()
	}
	if got := l.Spacing(); got != 500*time.Millisecond {
		t.Errorf("Spacing = %v, want capped 500ms", got)
	}
}

func TestSuccessResetsSpacing(t *testing.T) {
	l := New(&Config{
		RequestSpacing:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxSpacing:        time.Second,
	})

	l.Throttled()
	l.Throttled()
	l.Success()

	if got := l.Spacing(); got != 100*time.Millisecond {
		t.Errorf("Spacing after Success = %v, want 100ms", got)
	}

	// Backoff restarts from the beginning after a reset.
	if got := l.Throttled(); got != 200*time.Millisecond {
		t.Errorf("Throttled after reset = %v, want 200ms", got)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := New(&Config{
		RequestSpacing:    time.Hour,
		BackoffMultiplier: 2.0,
		MaxSpacing:        time.Hour,
	})

	// Drain the single burst token.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected Wait to fail once context expires")
	}
}
