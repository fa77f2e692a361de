package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseDelayDoubles(t *testing.T) {
	policy := Policy{
		MaxRetries:     5,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Minute,
		JitterFraction: 0.2,
	}

	assert.Equal(t, time.Second, policy.BaseDelay(1))
	assert.Equal(t, 2*time.Second, policy.BaseDelay(2))
	assert.Equal(t, 4*time.Second, policy.BaseDelay(3))
	assert.Equal(t, 8*time.Second, policy.BaseDelay(4))
}

func TestBaseDelayNonDecreasingAndCapped(t *testing.T) {
	policy := Policy{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}

	prev := time.Duration(0)
	for n := 1; n <= 20; n++ {
		d := policy.BaseDelay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, 30*time.Second, "attempt %d", n)
		prev = d
	}
}

func TestDelayNeverExceedsCapPlusJitter(t *testing.T) {
	policy := Policy{
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.2,
	}

	limit := time.Duration(float64(policy.MaxDelay) * 1.2)
	for n := 1; n <= 50; n++ {
		d := policy.Delay(n)
		assert.LessOrEqual(t, d, limit, "attempt %d", n)
		assert.GreaterOrEqual(t, d, policy.BaseDelay(n), "attempt %d", n)
	}
}

func TestDelayClampsAttempt(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, MaxDelay: time.Minute}
	assert.GreaterOrEqual(t, policy.Delay(0), time.Second)
	assert.GreaterOrEqual(t, policy.Delay(-3), time.Second)
}

func TestExhausted(t *testing.T) {
	policy := Policy{MaxRetries: 3}
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(4))
}

func TestWaitCancelledImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Wait(ctx, 10*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancelled wait must return immediately")
}

func TestWaitCompletes(t *testing.T) {
	err := Wait(context.Background(), 5*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitZeroDuration(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
}
