package pgtenant_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, pgtenant.ExitSuccess},
		{"unknown flag", errors.New("unknown flag --foo"), pgtenant.ExitUsageError},
		{"accepts args", errors.New("accepts 1 arg(s), received 0"), pgtenant.ExitUsageError},
		{"required flag", errors.New("required flag \"slug\" not set"), pgtenant.ExitUsageError},
		{"missing argument", errors.New("missing required argument: <slug>"), pgtenant.ExitUsageError},
		{"general error", errors.New("something went wrong"), pgtenant.ExitGeneralError},
		{"connection failed", pgtenant.ErrConnectionFailed, pgtenant.ExitConnectionError},
		{"wrapped validation", fmt.Errorf("slug %q: %w", "A!", pgtenant.ErrValidation), pgtenant.ExitValidationError},
		{"not found", fmt.Errorf("tenant acme: %w", pgtenant.ErrNotFound), pgtenant.ExitNotFound},
		{"conflict", pgtenant.ErrConflict, pgtenant.ExitConflict},
		{"status gate", &pgtenant.StatusError{Slug: "acme", Status: pgtenant.StatusSuspended}, pgtenant.ExitConflict},
		{"decryption", pgtenant.ErrDecryption, pgtenant.ExitDecryptionError},
		{"config", pgtenant.ErrInvalidConfig, pgtenant.ExitConfigError},
		{"approval denied", pgtenant.ErrApprovalDenied, pgtenant.ExitApprovalDenied},
		{"refused by message", errors.New("dial tcp: connection refused"), pgtenant.ExitConnectionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pgtenant.ExitCodeForError(tt.err); got != tt.want {
				t.Errorf("ExitCodeForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError_ReasonPerStatus(t *testing.T) {
	tests := []struct {
		status pgtenant.Status
		want   string
	}{
		{pgtenant.StatusSuspended, "access revoked: tenant is suspended"},
		{pgtenant.StatusPending, "tenant is not yet provisioned"},
		{pgtenant.StatusArchived, "tenant has been archived"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := &pgtenant.StatusError{Slug: "acme", Status: tt.status}
			if err.Reason() != tt.want {
				t.Errorf("Reason() = %q, want %q", err.Reason(), tt.want)
			}
			if !errors.Is(err, pgtenant.ErrForbidden) {
				t.Error("StatusError should match ErrForbidden")
			}
			if errors.Is(err, pgtenant.ErrNotFound) {
				t.Error("StatusError must be distinguishable from ErrNotFound")
			}
		})
	}
}
