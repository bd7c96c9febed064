package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound REST calls with a token bucket and keeps
// simple usage counters for the status endpoint.
type RateLimiter struct {
	limiter *rate.Limiter

	mu        sync.RWMutex
	requests  int
	throttled int
	waited    time.Duration
}

// NewRateLimiter allows perSecond requests with the given burst.
// A non-positive perSecond disables throttling.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}
	waited := time.Since(start)

	rl.mu.Lock()
	rl.requests++
	if waited > time.Millisecond {
		rl.throttled++
		rl.waited += waited
	}
	rl.mu.Unlock()
	return nil
}

// Usage reports request count, how many were delayed, and the total delay.
func (rl *RateLimiter) Usage() (requests, throttled int, waited time.Duration) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.requests, rl.throttled, rl.waited
}
