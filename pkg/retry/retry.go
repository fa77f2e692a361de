// Package retry provides bounded retry with exponential backoff and jitter
// for phase operations.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines configuration for retry behavior.
type Policy struct {
	MaxRetries     int           // Maximum number of retry attempts before giving up
	InitialDelay   time.Duration // Delay before the first retry
	MaxDelay       time.Duration // Cap on the backoff growth
	JitterFraction float64       // Upper bound of the uniform jitter, as a fraction of the delay
}

// DefaultPolicy provides reasonable defaults for retry behavior.
var DefaultPolicy = Policy{
	MaxRetries:     3,
	InitialDelay:   2 * time.Second,
	MaxDelay:       5 * time.Minute,
	JitterFraction: 0.2,
}

// Delay returns the backoff delay for the given 1-based attempt number:
// min(initial * 2^(n-1), cap) plus U(0, jitterFraction) * delay. The result
// is non-decreasing in n up to the cap and never exceeds cap * (1 + jitter).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	capped := float64(p.MaxDelay)
	if capped > 0 && delay > capped {
		delay = capped
	}

	jitter := rand.Float64() * p.JitterFraction * delay //nolint:gosec // Jitter does not need crypto randomness
	return time.Duration(delay + jitter)
}

// BaseDelay returns the deterministic part of Delay, without jitter.
// Exposed for tests and for logging upcoming wait times.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	capped := float64(p.MaxDelay)
	if capped > 0 && delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// Exhausted reports whether the given retry count has reached the limit.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Sleep waits for the backoff delay of the given attempt, returning early
// with the context error if a shutdown request fires first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	return Wait(ctx, p.Delay(attempt))
}

// Wait sleeps for d unless the context is cancelled first. A shutdown
// request must short-circuit any pending sleep immediately.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
