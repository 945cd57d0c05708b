package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls to remote price APIs. It wraps a token bucket
// that refills at perMinute/60 tokens per second with a burst of one.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed now without waiting.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}
