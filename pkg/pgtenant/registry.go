package pgtenant

import (
	"context"

	"github.com/google/uuid"
)

// Registry is the shared metadata store holding tenant rows, encrypted
// credentials and the audit log. Lookups of absent rows return ErrNotFound;
// unique-key violations return ErrConflict.
type Registry interface {
	// Ping verifies the registry is reachable.
	Ping(ctx context.Context) error

	// GetBySlug loads a tenant together with its credentials. creds is nil
	// when the tenant has no stored password yet.
	GetBySlug(ctx context.Context, slug string) (t *Tenant, creds *Credentials, err error)

	// List returns tenants ordered by slug, optionally filtered by status.
	List(ctx context.Context, statuses ...Status) ([]Tenant, error)

	// Snapshots returns tenants with their credentials projected into snapshots,
	// optionally filtered by status.
	Snapshots(ctx context.Context, statuses ...Status) ([]Snapshot, error)

	// Create inserts a new tenant row.
	Create(ctx context.Context, t *Tenant) error

	// UpdateStatus sets the status of a tenant and bumps updated_at.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error

	// SaveCredentials inserts or replaces the encrypted password of a tenant.
	SaveCredentials(ctx context.Context, creds Credentials) error

	// Delete removes a tenant; credentials and audit entries cascade.
	Delete(ctx context.Context, id uuid.UUID) error

	// AppendAudit records a mutation. Entries are never updated.
	AppendAudit(ctx context.Context, entry AuditLogEntry) error

	// AuditLog returns the newest entries of a tenant first.
	AuditLog(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditLogEntry, error)
}
