package pgtenant

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error types using errors.Is().
//
// Example usage:
//
//	snap, engine, err := resolver.Acquire(ctx, slug)
//	if errors.Is(err, pgtenant.ErrConnectionFailed) {
//	    // respond 503, other tenants are unaffected
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrValidation indicates a malformed slug or SQL identifier.
	// Raised before any database call is made.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the tenant or its credentials are absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate slug/database name, an illegal status
	// transition, or an attempt to delete an active tenant.
	ErrConflict = errors.New("conflict")

	// ErrForbidden indicates the tenant exists but its status denies access.
	ErrForbidden = errors.New("access denied")

	// ErrConnectionFailed indicates a pool build or provisioning network failure.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrDecryption indicates an authentication-tag mismatch (tampering or wrong key)
	// or a malformed ciphertext.
	ErrDecryption = errors.New("decryption failed")

	// ErrApprovalDenied indicates the operator denied a destructive operation.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrUnsupportedAuthMethod indicates the requested authentication method is not supported.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")
)

// StatusError reports that a tenant exists but is not active.
// It matches ErrForbidden with errors.Is.
type StatusError struct {
	Slug   string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tenant %q: %s", e.Slug, e.Reason())
}

// Reason returns the status-specific rejection reason.
func (e *StatusError) Reason() string {
	switch e.Status {
	case StatusSuspended:
		return "access revoked: tenant is suspended"
	case StatusPending:
		return "tenant is not yet provisioned"
	case StatusArchived:
		return "tenant has been archived"
	default:
		return fmt.Sprintf("tenant status %q does not allow access", e.Status)
	}
}

func (e *StatusError) Is(target error) bool {
	return target == ErrForbidden
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnsupportedAuthMethod):
		return ExitConfigError
	case errors.Is(err, ErrConnectionFailed):
		return ExitConnectionError
	case errors.Is(err, ErrApprovalDenied):
		return ExitApprovalDenied
	case errors.Is(err, ErrValidation):
		return ExitValidationError
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrForbidden):
		return ExitConflict
	case errors.Is(err, ErrDecryption):
		return ExitDecryptionError
	}

	errStr := err.Error()
	for _, p := range usageErrorPatterns {
		if strings.Contains(errStr, p) {
			return ExitUsageError
		}
	}

	if strings.Contains(errStr, "failed to connect") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return ExitConnectionError
	}

	return ExitGeneralError
}

// cobra does not expose typed usage errors, so they are matched by message.
var usageErrorPatterns = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"required flag",
	"invalid argument",
	"missing required argument",
}
