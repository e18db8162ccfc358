package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Each worker pool owns one so that pools spend their exchange quota independently.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	pausedTill time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		now := time.Now()
		var wait time.Duration
		switch {
		case now.Before(r.pausedTill):
			wait = r.pausedTill.Sub(now)
		case r.tokens >= 1:
			r.tokens--
			r.mu.Unlock()
			return nil
		default:
			wait = time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		}
		r.mu.Unlock()

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if time.Now().Before(r.pausedTill) {
		return false
	}
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Pause stops handing out tokens for d, e.g. after the exchange returned Retry-After.
func (r *RateLimiter) Pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(r.pausedTill) {
		r.pausedTill = until
	}
	r.tokens = 0
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}
