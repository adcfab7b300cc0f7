package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ExponentialBackoff grows the delay by multiplier on every attempt, caps it at
// maxDelay and spreads it by +/- jitter.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	maxAttempts  int     // -1 = unlimited, 0 = no retries
	jitter       float64 // fraction in [0,1]; 0.1 means +/- 10%
	random       func() float64
}

var _ pgtenant.BackoffStrategy = (*ExponentialBackoff)(nil)

// BackoffOption configures an ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.initialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.maxDelay = d }
}

// WithMultiplier sets the growth factor between attempts.
func WithMultiplier(m float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.multiplier = m }
}

// WithJitter sets the jitter fraction. Values outside [0,1] are clamped.
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitter = math.Max(0, math.Min(1, j)) }
}

// WithRandom replaces the [0,1) random source, for deterministic tests.
func WithRandom(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.random = f }
}

// NewExponentialBackoff returns a strategy using the pgtenant retry defaults
// (100ms initial delay, 5s cap, factor 2, 10% jitter).
func NewExponentialBackoff(maxAttempts int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: pgtenant.DefaultRetryInitialDelay,
		maxDelay:     pgtenant.DefaultRetryMaxDelay,
		multiplier:   2.0,
		maxAttempts:  maxAttempts,
		jitter:       0.1,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextDelay returns the wait before retry number attempt (zero-indexed).
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) || math.IsInf(delay, 0) {
		delay = float64(b.maxDelay)
	}
	if b.jitter > 0 {
		// map [0,1) onto [-1,1)
		offset := (b.random() - 0.5) * 2
		delay *= 1 + b.jitter*offset
	}
	return time.Duration(delay)
}

// MaxAttempts returns the retry budget.
func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}
