package papersources

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter for controlling request rates
// to external APIs. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second.
// burst is the maximum burst size.
//
// Example configurations:
//   - Semantic Scholar without a key: NewRateLimiter(1, 1)
//   - OpenAlex polite pool: NewRateLimiter(10, 10)
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// JitterLimiter spaces consecutive requests by a random interval in
// [min, max]. Search engines that block regular request patterns are queried
// through it.
type JitterLimiter struct {
	limiter *rate.Limiter
	spread  time.Duration

	mu    sync.Mutex
	first bool
	rand  func(n int64) int64
}

// NewJitterLimiter creates a limiter with the given spacing bounds. A max
// below min is treated as min.
func NewJitterLimiter(min, max time.Duration) *JitterLimiter {
	if max < min {
		max = min
	}
	limit := rate.Inf
	if min > 0 {
		limit = rate.Every(min)
	}
	return &JitterLimiter{
		limiter: rate.NewLimiter(limit, 1),
		spread:  max - min,
		first:   true,
		rand:    rand.Int64N,
	}
}

// Wait blocks until the next request may be sent. The first call never
// sleeps for jitter.
func (j *JitterLimiter) Wait(ctx context.Context) error {
	if err := j.limiter.Wait(ctx); err != nil {
		return err
	}

	j.mu.Lock()
	first := j.first
	j.first = false
	var extra time.Duration
	if !first && j.spread > 0 {
		extra = time.Duration(j.rand(int64(j.spread) + 1))
	}
	j.mu.Unlock()

	if extra == 0 {
		return nil
	}
	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
