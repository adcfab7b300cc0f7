// Package registry implements pgtenant.Registry on the shared registry
// database using pgx.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const pgUniqueViolation = "23505"

// Querier is the subset of *pgxpool.Pool used by Store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store is safe for concurrent use when q is.
type Store struct {
	q   Querier
	now func() time.Time
}

var _ pgtenant.Registry = (*Store)(nil)

// New creates a store on q, typically the registry *pgxpool.Pool.
func New(q Querier) *Store {
	return &Store{q: q, now: time.Now}
}

const tenantColumns = `t.id, t.slug, t.name, t.database_name, t.database_user, t.status, t.plan,
	t.max_users, t.max_projects, t.admin_email, t.company_name, t.settings, t.organization_id,
	t.required_group_ids, t.group_membership_mode, t.created_at, t.updated_at`

const credentialColumns = `c.tenant_id, c.encrypted_password, c.password_updated_at`

func statusFilter(statuses []pgtenant.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.q.Ping(ctx); err != nil {
		return fmt.Errorf("registry unreachable: %w: %w", pgtenant.ErrConnectionFailed, err)
	}
	return nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (*pgtenant.Tenant, *pgtenant.Credentials, error) {
	row := s.q.QueryRow(ctx, `SELECT `+tenantColumns+`, `+credentialColumns+`
		FROM tenants t LEFT JOIN tenant_credentials c ON c.tenant_id = t.id
		WHERE t.slug = $1`, slug)

	t, creds, err := scanTenantWithCredentials(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("tenant %q: %w", slug, pgtenant.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tenant %q: %w", slug, err)
	}
	return t, creds, nil
}

func (s *Store) List(ctx context.Context, statuses ...pgtenant.Status) ([]pgtenant.Tenant, error) {
	rows, err := s.q.Query(ctx, `SELECT `+tenantColumns+` FROM tenants t
		WHERE cardinality($1::text[]) = 0 OR t.status = ANY($1)
		ORDER BY t.slug`, statusFilter(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []pgtenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) Snapshots(ctx context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error) {
	rows, err := s.q.Query(ctx, `SELECT `+tenantColumns+`, `+credentialColumns+`
		FROM tenants t LEFT JOIN tenant_credentials c ON c.tenant_id = t.id
		WHERE cardinality($1::text[]) = 0 OR t.status = ANY($1)
		ORDER BY t.slug`, statusFilter(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []pgtenant.Snapshot
	for rows.Next() {
		t, creds, err := scanTenantWithCredentials(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pgtenant.NewSnapshot(t, creds))
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, t *pgtenant.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	settings := t.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}
	groups, err := json.Marshal(nonNil(t.RequiredGroupIDs))
	if err != nil {
		return fmt.Errorf("failed to encode required group ids: %w", err)
	}

	_, err = s.q.Exec(ctx, `INSERT INTO tenants (id, slug, name, database_name, database_user, status, plan,
			max_users, max_projects, admin_email, company_name, settings, organization_id,
			required_group_ids, group_membership_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
		t.ID, t.Slug, t.Name, t.DatabaseName, t.DatabaseUser, string(t.Status), t.Plan,
		t.MaxUsers, t.MaxProjects, t.AdminEmail, t.CompanyName, []byte(settings), t.OrganizationID,
		groups, string(t.GroupMembershipMode), now)
	if err != nil {
		return mapWriteError(fmt.Sprintf("create tenant %q", t.Slug), err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status pgtenant.Status) error {
	tag, err := s.q.Exec(ctx, `UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), s.now().UTC())
	if err != nil {
		return mapWriteError("update tenant status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, pgtenant.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveCredentials(ctx context.Context, creds pgtenant.Credentials) error {
	if creds.PasswordUpdatedAt.IsZero() {
		creds.PasswordUpdatedAt = s.now().UTC()
	}
	_, err := s.q.Exec(ctx, `INSERT INTO tenant_credentials (tenant_id, encrypted_password, password_updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET encrypted_password = EXCLUDED.encrypted_password, password_updated_at = EXCLUDED.password_updated_at`,
		creds.TenantID, creds.EncryptedPassword, creds.PasswordUpdatedAt)
	if err != nil {
		return mapWriteError("save credentials", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, pgtenant.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e pgtenant.AuditLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	_, err := s.q.Exec(ctx, `INSERT INTO tenant_audit_log (id, tenant_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, e.ID, e.TenantID, e.Action, e.Actor, []byte(details), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry %q: %w", e.Action, err)
	}
	return nil
}

func (s *Store) AuditLog(ctx context.Context, tenantID uuid.UUID, limit int) ([]pgtenant.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `SELECT id, tenant_id, action, actor, details, created_at
		FROM tenant_audit_log WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer rows.Close()

	var out []pgtenant.AuditLogEntry
	for rows.Next() {
		var e pgtenant.AuditLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Details = details
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

type tenantRow struct {
	t        pgtenant.Tenant
	status   string
	mode     string
	settings []byte
	groups   []byte
}

func (r *tenantRow) dest() []any {
	return []any{&r.t.ID, &r.t.Slug, &r.t.Name, &r.t.DatabaseName, &r.t.DatabaseUser, &r.status, &r.t.Plan,
		&r.t.MaxUsers, &r.t.MaxProjects, &r.t.AdminEmail, &r.t.CompanyName, &r.settings, &r.t.OrganizationID,
		&r.groups, &r.mode, &r.t.CreatedAt, &r.t.UpdatedAt}
}

func (r *tenantRow) finish() (*pgtenant.Tenant, error) {
	r.t.Status = pgtenant.Status(r.status)
	r.t.GroupMembershipMode = pgtenant.GroupMembershipMode(r.mode)
	if len(r.settings) > 0 {
		r.t.Settings = json.RawMessage(r.settings)
	}
	if len(r.groups) > 0 {
		if err := json.Unmarshal(r.groups, &r.t.RequiredGroupIDs); err != nil {
			return nil, fmt.Errorf("tenant %q has malformed required_group_ids: %w", r.t.Slug, err)
		}
	}
	return &r.t, nil
}

func scanTenant(row scanner) (*pgtenant.Tenant, error) {
	var r tenantRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return r.finish()
}

func scanTenantWithCredentials(row scanner) (*pgtenant.Tenant, *pgtenant.Credentials, error) {
	var (
		r         tenantRow
		credID    *uuid.UUID
		encrypted *string
		rotatedAt *time.Time
	)
	if err := row.Scan(append(r.dest(), &credID, &encrypted, &rotatedAt)...); err != nil {
		return nil, nil, err
	}
	t, err := r.finish()
	if err != nil {
		return nil, nil, err
	}
	if credID == nil || encrypted == nil {
		return t, nil, nil
	}
	creds := &pgtenant.Credentials{TenantID: *credID, EncryptedPassword: *encrypted}
	if rotatedAt != nil {
		creds.PasswordUpdatedAt = *rotatedAt
	}
	return t, creds, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, pgtenant.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
