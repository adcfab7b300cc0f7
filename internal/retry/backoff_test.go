package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func TestExponentialBackoff_Defaults(t *testing.T) {
	b := NewExponentialBackoff(3)

	assert.Equal(t, 3, b.MaxAttempts())
	assert.Equal(t, pgtenant.DefaultRetryInitialDelay, b.initialDelay)
	assert.Equal(t, pgtenant.DefaultRetryMaxDelay, b.maxDelay)
	assert.Equal(t, 2.0, b.multiplier)
	assert.Equal(t, 0.1, b.jitter)
}

func TestExponentialBackoff_NextDelayWithoutJitter(t *testing.T) {
	b := NewExponentialBackoff(10, WithJitter(0), WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
		{5000, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_JitterBounds(t *testing.T) {
	low := NewExponentialBackoff(1, WithJitter(0.1), WithRandom(func() float64 { return 0 }))
	high := NewExponentialBackoff(1, WithJitter(0.1), WithRandom(func() float64 { return 0.999999 }))
	mid := NewExponentialBackoff(1, WithJitter(0.1), WithRandom(func() float64 { return 0.5 }))

	assert.Equal(t, 90*time.Millisecond, low.NextDelay(0))
	assert.InDelta(t, float64(110*time.Millisecond), float64(high.NextDelay(0)), float64(time.Microsecond))
	assert.Equal(t, 100*time.Millisecond, mid.NextDelay(0))
}

func TestExponentialBackoff_JitterIsClamped(t *testing.T) {
	b := NewExponentialBackoff(1, WithJitter(5))
	assert.Equal(t, 1.0, b.jitter)

	b = NewExponentialBackoff(1, WithJitter(-1))
	assert.Equal(t, 0.0, b.jitter)
}

func TestExponentialBackoff_CustomMultiplier(t *testing.T) {
	b := NewExponentialBackoff(3, WithJitter(0), WithMultiplier(3), WithMaxDelay(time.Minute))

	assert.Equal(t, 100*time.Millisecond, b.NextDelay(0))
	assert.Equal(t, 300*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 900*time.Millisecond, b.NextDelay(2))
}
