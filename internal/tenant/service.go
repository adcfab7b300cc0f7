// Package tenant orchestrates the tenant lifecycle across the registry, the
// provisioner, the connection pools and the resolver cache.
//
// Every mutation invalidates the tenant's cached snapshot and, when the
// tenant's credentials or access change, closes its pool. Mutations are
// recorded in the audit log; a failed audit write is logged and does not fail
// the operation.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vvka-141/pgtenant/internal/identifier"
	"github.com/vvka-141/pgtenant/internal/password"
	"github.com/vvka-141/pgtenant/internal/provisioner"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// dbPasswordBytes yields a 64-character hex role password.
const dbPasswordBytes = 32

// Audit actions.
const (
	ActionCreated            = "tenant.created"
	ActionProvisioned        = "tenant.provisioned"
	ActionProvisionFailed    = "tenant.provision_failed"
	ActionStatusChanged      = "tenant.status_changed"
	ActionCredentialsRotated = "tenant.credentials_rotated"
	ActionAdminPasswordReset = "tenant.admin_password_reset"
)

// Provisioner manages tenant databases.
type Provisioner interface {
	Provision(ctx context.Context, req pgtenant.ProvisionRequest) (*pgtenant.ProvisionResult, error)
	Drop(ctx context.Context, databaseName, databaseUser string) (bool, error)
	Check(ctx context.Context, databaseName, databaseUser, password string) pgtenant.HealthReport
	ResetAdminPassword(ctx context.Context, req provisioner.ResetRequest) (*pgtenant.PasswordReset, error)
	RotatePassword(ctx context.Context, databaseUser, newPassword string) error
}

// Cipher encrypts role passwords for storage.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Pools closes tenant engines.
type Pools interface {
	Close(slug string)
}

// Cache drops cached tenant snapshots.
type Cache interface {
	Invalidate(slug string)
}

// Observer is told about every lifecycle operation.
type Observer interface {
	Operation(name string, err error)
}

type nopObserver struct{}

func (nopObserver) Operation(string, error) {}

// CreateRequest describes a new tenant. Zero values select defaults.
type CreateRequest struct {
	Slug                string                       `json:"slug"`
	Name                string                       `json:"name"`
	AdminEmail          string                       `json:"admin_email"`
	CompanyName         string                       `json:"company_name"`
	Plan                string                       `json:"plan"`
	MaxUsers            int                          `json:"max_users"`
	MaxProjects         int                          `json:"max_projects"`
	Settings            json.RawMessage              `json:"settings,omitempty"`
	OrganizationID      *string                      `json:"organization_id,omitempty"`
	RequiredGroupIDs    []string                     `json:"required_group_ids,omitempty"`
	GroupMembershipMode pgtenant.GroupMembershipMode `json:"group_membership_mode,omitempty"`
}

const (
	DefaultPlan        = "free"
	DefaultMaxUsers    = 10
	DefaultMaxProjects = 50
)

// ResetOptions selects the tenant admin whose password is replaced.
type ResetOptions struct {
	AdminEmail    string // defaults to the tenant's admin email
	NewPassword   string // generated when empty
	AllowFallback bool
}

// Option configures a Service.
type Option func(*Service)

// WithObserver registers an operation observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service is safe for concurrent use. Concurrent mutations of the same tenant
// are not serialized beyond what the registry enforces.
type Service struct {
	registry    pgtenant.Registry
	provisioner Provisioner
	cipher      Cipher
	pools       Pools
	cache       Cache
	logger      pgtenant.Logger
	observer    Observer
}

// NewService wires the lifecycle service. Panics on nil dependencies.
func NewService(
	registry pgtenant.Registry,
	prov Provisioner,
	cipher Cipher,
	pools Pools,
	cache Cache,
	logger pgtenant.Logger,
	opts ...Option,
) *Service {
	if registry == nil {
		panic("registry cannot be nil")
	}
	if prov == nil {
		panic("provisioner cannot be nil")
	}
	if cipher == nil {
		panic("cipher cannot be nil")
	}
	if pools == nil {
		panic("pools cannot be nil")
	}
	if cache == nil {
		panic("cache cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	s := &Service{
		registry:    registry,
		provisioner: prov,
		cipher:      cipher,
		pools:       pools,
		cache:       cache,
		logger:      logger,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a pending tenant. Database and role names are derived
// from the slug and never change afterwards.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor string) (snap pgtenant.Snapshot, err error) {
	defer func() { s.observer.Operation("create", err) }()

	t, err := newTenant(req)
	if err != nil {
		return pgtenant.Snapshot{}, err
	}

	_, _, err = s.registry.GetBySlug(ctx, t.Slug)
	switch {
	case err == nil:
		return pgtenant.Snapshot{}, fmt.Errorf("tenant %q already exists: %w", t.Slug, pgtenant.ErrConflict)
	case !errors.Is(err, pgtenant.ErrNotFound):
		return pgtenant.Snapshot{}, err
	}

	if err := s.registry.Create(ctx, t); err != nil {
		return pgtenant.Snapshot{}, err
	}
	s.audit(ctx, t.ID, ActionCreated, actor, map[string]any{"slug": t.Slug, "database_name": t.DatabaseName})
	s.logger.Info("✓ Tenant %q created (pending)", t.Slug)
	return pgtenant.NewSnapshot(t, nil), nil
}

func newTenant(req CreateRequest) (*pgtenant.Tenant, error) {
	if err := identifier.ValidateSlug(req.Slug); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("tenant name is required: %w", pgtenant.ErrValidation)
	}
	if req.AdminEmail == "" {
		return nil, fmt.Errorf("admin email is required: %w", pgtenant.ErrValidation)
	}
	mode := req.GroupMembershipMode
	if mode == "" {
		mode = pgtenant.GroupMembershipAny
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("group membership mode %q: %w", mode, pgtenant.ErrValidation)
	}
	if req.MaxUsers < 0 || req.MaxProjects < 0 {
		return nil, fmt.Errorf("limits must not be negative: %w", pgtenant.ErrValidation)
	}
	if len(req.Settings) > 0 && !json.Valid(req.Settings) {
		return nil, fmt.Errorf("settings must be valid JSON: %w", pgtenant.ErrValidation)
	}

	dbName, err := identifier.DatabaseNameForSlug(req.Slug)
	if err != nil {
		return nil, err
	}
	dbUser, err := identifier.RoleNameForSlug(req.Slug)
	if err != nil {
		return nil, err
	}

	t := &pgtenant.Tenant{
		Slug:                req.Slug,
		Name:                req.Name,
		DatabaseName:        dbName,
		DatabaseUser:        dbUser,
		Status:              pgtenant.StatusPending,
		Plan:                req.Plan,
		MaxUsers:            req.MaxUsers,
		MaxProjects:         req.MaxProjects,
		AdminEmail:          req.AdminEmail,
		CompanyName:         req.CompanyName,
		Settings:            req.Settings,
		OrganizationID:      req.OrganizationID,
		RequiredGroupIDs:    req.RequiredGroupIDs,
		GroupMembershipMode: mode,
	}
	if t.Plan == "" {
		t.Plan = DefaultPlan
	}
	if t.MaxUsers == 0 {
		t.MaxUsers = DefaultMaxUsers
	}
	if t.MaxProjects == 0 {
		t.MaxProjects = DefaultMaxProjects
	}
	return t, nil
}

// Provision creates the tenant database and activates the tenant. A pending
// tenant whose provisioning fails stays pending and its partial database is
// dropped on a best-effort basis; calling Provision again resumes. An active
// tenant may be re-provisioned with its stored role password. A new password
// is stored only after the provisioner succeeded.
func (s *Service) Provision(ctx context.Context, slug, actor, adminPassword string) (res *pgtenant.ProvisionResult, err error) {
	defer func() { s.observer.Operation("provision", err) }()

	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if t.Status != pgtenant.StatusPending && t.Status != pgtenant.StatusActive {
		return nil, fmt.Errorf("cannot provision tenant %q in status %s: %w", slug, t.Status, pgtenant.ErrConflict)
	}

	dbPassword, encrypted, err := s.provisionPassword(t, creds)
	if err != nil {
		return nil, err
	}

	res, err = s.provisioner.Provision(ctx, pgtenant.ProvisionRequest{
		TenantID:         t.ID,
		DatabaseName:     t.DatabaseName,
		DatabaseUser:     t.DatabaseUser,
		DatabasePassword: dbPassword,
		AdminEmail:       t.AdminEmail,
		AdminPassword:    adminPassword,
	})
	if err != nil {
		s.logger.Error("Provisioning tenant %q failed: %v", slug, err)
		if t.Status == pgtenant.StatusPending {
			if _, dropErr := s.provisioner.Drop(ctx, t.DatabaseName, t.DatabaseUser); dropErr != nil {
				s.logger.Warn("Cleanup of tenant %q left objects behind: %v", slug, dropErr)
			}
		}
		s.audit(ctx, t.ID, ActionProvisionFailed, actor, map[string]any{"error": err.Error()})
		s.cache.Invalidate(slug)
		return nil, err
	}

	if encrypted != "" {
		if err := s.registry.SaveCredentials(ctx, pgtenant.Credentials{TenantID: t.ID, EncryptedPassword: encrypted}); err != nil {
			s.logger.Error("Role %q has a new password that could not be stored; provision again: %v", t.DatabaseUser, err)
			s.cache.Invalidate(slug)
			return nil, err
		}
	}
	if t.Status == pgtenant.StatusPending {
		if err := s.registry.UpdateStatus(ctx, t.ID, pgtenant.StatusActive); err != nil {
			return nil, err
		}
	}
	s.pools.Close(slug)
	s.cache.Invalidate(slug)
	s.audit(ctx, t.ID, ActionProvisioned, actor, map[string]any{"database_name": t.DatabaseName, "admin_email": res.AdminEmail})
	return res, nil
}

// provisionPassword returns the role password to provision with. An active
// tenant keeps its stored password and encrypted comes back empty; otherwise
// a fresh password is generated and encrypted for storage.
func (s *Service) provisionPassword(t *pgtenant.Tenant, creds *pgtenant.Credentials) (plain, encrypted string, err error) {
	if t.Status == pgtenant.StatusActive && creds != nil {
		plain, err = s.cipher.Decrypt(creds.EncryptedPassword)
		return plain, "", err
	}
	plain, err = password.Generate(dbPasswordBytes)
	if err != nil {
		return "", "", err
	}
	encrypted, err = s.cipher.Encrypt(plain)
	if err != nil {
		return "", "", err
	}
	return plain, encrypted, nil
}

// UpdateStatus moves a tenant through the state machine. Activation of a
// pending tenant happens only through Provision. Leaving active closes the
// tenant's pool.
func (s *Service) UpdateStatus(ctx context.Context, slug string, next pgtenant.Status, actor string) (snap pgtenant.Snapshot, err error) {
	defer func() { s.observer.Operation("update_status", err) }()

	if !next.IsValid() {
		return pgtenant.Snapshot{}, fmt.Errorf("status %q: %w", next, pgtenant.ErrValidation)
	}
	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		return pgtenant.Snapshot{}, err
	}
	if t.Status == next {
		return pgtenant.NewSnapshot(t, creds), nil
	}
	if t.Status == pgtenant.StatusPending && next == pgtenant.StatusActive {
		return pgtenant.Snapshot{}, fmt.Errorf("tenant %q must be provisioned to become active: %w", slug, pgtenant.ErrConflict)
	}
	if !t.Status.CanTransitionTo(next) {
		return pgtenant.Snapshot{}, fmt.Errorf("tenant %q cannot move from %s to %s: %w", slug, t.Status, next, pgtenant.ErrConflict)
	}

	if err := s.registry.UpdateStatus(ctx, t.ID, next); err != nil {
		return pgtenant.Snapshot{}, err
	}
	prev := t.Status
	t.Status = next
	if prev == pgtenant.StatusActive {
		s.pools.Close(slug)
	}
	s.cache.Invalidate(slug)
	s.audit(ctx, t.ID, ActionStatusChanged, actor, map[string]any{"from": prev, "to": next})
	s.logger.Info("✓ Tenant %q: %s -> %s", slug, prev, next)
	return pgtenant.NewSnapshot(t, creds), nil
}

// RotateCredentials sets a new role password and stores it encrypted.
func (s *Service) RotateCredentials(ctx context.Context, slug, actor string) (err error) {
	defer func() { s.observer.Operation("rotate_credentials", err) }()

	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		return err
	}
	if creds == nil {
		return fmt.Errorf("tenant %q has no credentials to rotate: %w", slug, pgtenant.ErrNotFound)
	}

	pw, err := password.Generate(dbPasswordBytes)
	if err != nil {
		return err
	}
	encrypted, err := s.cipher.Encrypt(pw)
	if err != nil {
		return err
	}
	if err := s.provisioner.RotatePassword(ctx, t.DatabaseUser, pw); err != nil {
		return err
	}
	if err := s.registry.SaveCredentials(ctx, pgtenant.Credentials{TenantID: t.ID, EncryptedPassword: encrypted}); err != nil {
		s.logger.Error("Role %q has a new password that could not be stored; rotate again: %v", t.DatabaseUser, err)
		return err
	}

	s.pools.Close(slug)
	s.cache.Invalidate(slug)
	s.audit(ctx, t.ID, ActionCredentialsRotated, actor, nil)
	s.logger.Info("✓ Rotated credentials of tenant %q", slug)
	return nil
}

// Delete removes a tenant that is not active, optionally dropping its
// database and role. Credentials and audit entries are removed with it.
func (s *Service) Delete(ctx context.Context, slug string, deleteDatabase bool, actor string) (err error) {
	defer func() { s.observer.Operation("delete", err) }()

	t, _, err := s.lookup(ctx, slug)
	if err != nil {
		return err
	}
	if t.Status == pgtenant.StatusActive {
		return fmt.Errorf("tenant %q is active; suspend or archive it first: %w", slug, pgtenant.ErrConflict)
	}

	s.pools.Close(slug)
	if deleteDatabase {
		if _, err := s.provisioner.Drop(ctx, t.DatabaseName, t.DatabaseUser); err != nil {
			return fmt.Errorf("failed to drop database of tenant %q: %w", slug, err)
		}
	}
	if err := s.registry.Delete(ctx, t.ID); err != nil {
		return err
	}
	s.cache.Invalidate(slug)
	if deleteDatabase {
		s.logger.Warn("Tenant %q deleted by %s; database %s and role %s dropped", slug, actorOrUnknown(actor), t.DatabaseName, t.DatabaseUser)
		return nil
	}
	s.logger.Info("✓ Tenant %q deleted by %s (database kept)", slug, actorOrUnknown(actor))
	return nil
}

// Check reports the health of a tenant database. Problems, including an
// unknown tenant, are described in the report rather than returned.
func (s *Service) Check(ctx context.Context, slug string) pgtenant.HealthReport {
	report := pgtenant.HealthReport{Tables: []string{}}

	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if creds == nil {
		report.Error = fmt.Sprintf("tenant %q has no stored credentials", slug)
		return report
	}
	pw, err := s.cipher.Decrypt(creds.EncryptedPassword)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	return s.provisioner.Check(ctx, t.DatabaseName, t.DatabaseUser, pw)
}

// ResetAdminPassword replaces the password of an admin user inside the
// tenant database.
func (s *Service) ResetAdminPassword(ctx context.Context, slug string, opts ResetOptions, actor string) (res *pgtenant.PasswordReset, err error) {
	defer func() { s.observer.Operation("reset_admin_password", err) }()

	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("tenant %q has no stored credentials: %w", slug, pgtenant.ErrNotFound)
	}
	pw, err := s.cipher.Decrypt(creds.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	email := opts.AdminEmail
	if email == "" {
		email = t.AdminEmail
	}
	res, err = s.provisioner.ResetAdminPassword(ctx, provisioner.ResetRequest{
		DatabaseName:  t.DatabaseName,
		DatabaseUser:  t.DatabaseUser,
		Password:      pw,
		AdminEmail:    email,
		NewPassword:   opts.NewPassword,
		AllowFallback: opts.AllowFallback,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, t.ID, ActionAdminPasswordReset, actor, map[string]any{"admin_email": res.AdminEmail, "requested_email": email})
	return res, nil
}

// Get returns the snapshot of one tenant straight from the registry.
func (s *Service) Get(ctx context.Context, slug string) (pgtenant.Snapshot, error) {
	t, creds, err := s.lookup(ctx, slug)
	if err != nil {
		return pgtenant.Snapshot{}, err
	}
	return pgtenant.NewSnapshot(t, creds), nil
}

// List returns tenant snapshots ordered by slug, optionally filtered by status.
func (s *Service) List(ctx context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error) {
	return s.registry.Snapshots(ctx, statuses...)
}

// AuditLog returns the newest audit entries of a tenant.
func (s *Service) AuditLog(ctx context.Context, slug string, limit int) ([]pgtenant.AuditLogEntry, error) {
	t, _, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.registry.AuditLog(ctx, t.ID, limit)
}

// lookup rejects a malformed slug before it reaches the registry.
func (s *Service) lookup(ctx context.Context, slug string) (*pgtenant.Tenant, *pgtenant.Credentials, error) {
	if err := identifier.ValidateSlug(slug); err != nil {
		return nil, nil, err
	}
	return s.registry.GetBySlug(ctx, slug)
}

func (s *Service) audit(ctx context.Context, tenantID uuid.UUID, action, actor string, details map[string]any) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			s.logger.Error("Failed to encode audit details for %s: %v", action, err)
		}
		raw = b
	}
	err := s.registry.AppendAudit(ctx, pgtenant.AuditLogEntry{
		TenantID: tenantID,
		Action:   action,
		Actor:    actorOrUnknown(actor),
		Details:  raw,
	})
	if err != nil {
		s.logger.Error("Failed to record %s: %v", action, err)
	}
}

func actorOrUnknown(actor string) string {
	if actor == "" {
		return "unknown"
	}
	return actor
}
