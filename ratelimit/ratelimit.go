// Package ratelimit paces outbound calls to the reporting portal.
//
// The portal gives no structured Retry-After on throttling, so the
// limiter combines a token bucket for steady spacing with a capped
// exponential slowdown that kicks in after each throttled response and
// resets after the next success.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter configuration.
type Config struct {
	RequestSpacing    time.Duration // steady-state gap between calls
	BackoffMultiplier float64
	MaxSpacing        time.Duration
}

// DefaultConfig returns the limiter defaults used for the portal.
func DefaultConfig() *Config {
	return &Config{
		RequestSpacing:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxSpacing:        30 * time.Second,
	}
}

// Limiter spaces requests and slows down after throttled responses.
type Limiter struct {
	limiter *rate.Limiter
	config  *Config

	mu             sync.Mutex
	throttledCount int
	currentSpacing time.Duration
}

// New creates a limiter; a nil cfg uses DefaultConfig.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{
		limiter:        rate.NewLimiter(spacingToRate(cfg.RequestSpacing), 1),
		currentSpacing: cfg.RequestSpacing,
		config:         cfg,
	}
}

// Wait blocks until the next request is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Throttled records a throttled response and widens the spacing,
// returning the new spacing.
func (l *Limiter) Throttled() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttledCount++
	spacing := time.Duration(math.Min(
		float64(l.config.RequestSpacing)*math.Pow(l.config.BackoffMultiplier, float64(l.throttledCount)),
		float64(l.config.MaxSpacing),
	))
	if spacing > l.currentSpacing {
		l.currentSpacing = spacing
		l.limiter.SetLimit(spacingToRate(spacing))
	}
	return l.currentSpacing
}

// Success resets the limiter to its steady-state spacing.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.throttledCount == 0 {
		return
	}
	l.throttledCount = 0
	l.currentSpacing = l.config.RequestSpacing
	l.limiter.SetLimit(spacingToRate(l.config.RequestSpacing))
}

// Spacing returns the current gap between requests.
func (l *Limiter) Spacing() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSpacing
}

func spacingToRate(spacing time.Duration) rate.Limit {
	return rate.Limit(float64(time.Second) / float64(spacing))
}
