package retry

import (
	"context"
	"time"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// RetryHook observes a retry before the executor sleeps.
type RetryHook func(attempt int, err error, delay time.Duration)

// Executor runs operations under a classifier and a backoff strategy.
type Executor struct {
	classifier pgtenant.ErrorClassifier
	strategy   pgtenant.BackoffStrategy
	onRetry    RetryHook
	sleep      func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithOnRetry registers a hook called before every retry.
func WithOnRetry(hook RetryHook) ExecutorOption {
	return func(e *Executor) { e.onRetry = hook }
}

// WithLogger reports retries through a pgtenant.Logger at verbose level.
func WithLogger(logger pgtenant.Logger, operation string) ExecutorOption {
	return WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Verbose("%s: attempt %d failed (%v), retrying in %s", operation, attempt+1, err, delay)
	})
}

// NewExecutor creates an executor. It panics when classifier or strategy is nil.
func NewExecutor(classifier pgtenant.ErrorClassifier, strategy pgtenant.BackoffStrategy, opts ...ExecutorOption) *Executor {
	if classifier == nil {
		panic("retry: classifier cannot be nil")
	}
	if strategy == nil {
		panic("retry: strategy cannot be nil")
	}
	e := &Executor{classifier: classifier, strategy: strategy, sleep: sleepContext}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Default returns the executor used for tenant connection probes.
func Default(logger pgtenant.Logger, operation string) *Executor {
	return NewExecutor(
		NewPostgreSQLErrorClassifier(),
		NewExponentialBackoff(pgtenant.DefaultRetryMaxAttempts),
		WithLogger(logger, operation),
	)
}

// Execute runs op until it succeeds, fails with a non-transient error, the
// retry budget is exhausted or ctx is done. The last error is returned.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	maxAttempts := e.strategy.MaxAttempts()

	for attempt := 0; err != nil && e.classifier.IsTransient(err); attempt++ {
		if maxAttempts >= 0 && attempt >= maxAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		delay := e.strategy.NextDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		err = op(ctx)
	}
	return err
}

// Value is Execute for operations that produce a result.
func Value[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
