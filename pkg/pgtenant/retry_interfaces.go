package pgtenant

import "time"

// ErrorClassifier decides whether a failed connect, probe or DDL statement is
// worth another attempt.
type ErrorClassifier interface {
	IsTransient(err error) bool
}

// BackoffStrategy spaces out retries of tenant pool probes and registry
// connects. Attempts are counted from zero; MaxAttempts of 0 disables
// retries and -1 retries until the context ends.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}
