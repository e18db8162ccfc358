package infra

import (
	"context"
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry count.
// Logic: baseDelay * 2^retryCount, capped at maxDelay.
// If retryCount is negative, it returns baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	return ScaledBackoff(baseDelay, maxDelay, retryCount)
}

// ScaledBackoff is CalculateBackoff with explicit bounds.
func ScaledBackoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		return base
	}
	// 2^30 * base is far past any sane cap
	if retryCount > 30 {
		return max
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
