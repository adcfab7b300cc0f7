package testinfra

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vvka-141/pgtenant/internal/provisioner"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// MemoryRegistry is an in-memory pgtenant.Registry enforcing the same
// uniqueness and cascade rules as the registry schema.
type MemoryRegistry struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]pgtenant.Tenant
	creds   map[uuid.UUID]pgtenant.Credentials
	audit   []pgtenant.AuditLogEntry

	// Lookups counts GetBySlug calls.
	Lookups atomic.Int32
}

var _ pgtenant.Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tenants: make(map[uuid.UUID]pgtenant.Tenant),
		creds:   make(map[uuid.UUID]pgtenant.Credentials),
	}
}

func (r *MemoryRegistry) Ping(context.Context) error { return nil }

func (r *MemoryRegistry) GetBySlug(_ context.Context, slug string) (*pgtenant.Tenant, *pgtenant.Credentials, error) {
	r.Lookups.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tenants {
		if t.Slug == slug {
			t.RequiredGroupIDs = slices.Clone(t.RequiredGroupIDs)
			if c, ok := r.creds[id]; ok {
				return &t, &c, nil
			}
			return &t, nil, nil
		}
	}
	return nil, nil, fmt.Errorf("tenant %q: %w", slug, pgtenant.ErrNotFound)
}

func (r *MemoryRegistry) sorted(statuses []pgtenant.Status) []pgtenant.Tenant {
	var out []pgtenant.Tenant
	for _, t := range r.tenants {
		if len(statuses) == 0 || slices.Contains(statuses, t.Status) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (r *MemoryRegistry) List(_ context.Context, statuses ...pgtenant.Status) ([]pgtenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(statuses), nil
}

func (r *MemoryRegistry) Snapshots(_ context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pgtenant.Snapshot
	for _, t := range r.sorted(statuses) {
		var creds *pgtenant.Credentials
		if c, ok := r.creds[t.ID]; ok {
			creds = &c
		}
		out = append(out, pgtenant.NewSnapshot(&t, creds))
	}
	return out, nil
}

func (r *MemoryRegistry) Create(_ context.Context, t *pgtenant.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.tenants {
		if other.Slug == t.Slug || other.DatabaseName == t.DatabaseName || other.DatabaseUser == t.DatabaseUser {
			return fmt.Errorf("create tenant %q: %w", t.Slug, pgtenant.ErrConflict)
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.tenants[t.ID] = *t
	return nil
}

func (r *MemoryRegistry) UpdateStatus(_ context.Context, id uuid.UUID, status pgtenant.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, pgtenant.ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	r.tenants[id] = t
	return nil
}

func (r *MemoryRegistry) SaveCredentials(_ context.Context, c pgtenant.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[c.TenantID]; !ok {
		return fmt.Errorf("tenant %s: %w", c.TenantID, pgtenant.ErrNotFound)
	}
	if c.PasswordUpdatedAt.IsZero() {
		c.PasswordUpdatedAt = time.Now().UTC()
	}
	r.creds[c.TenantID] = c
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return fmt.Errorf("tenant %s: %w", id, pgtenant.ErrNotFound)
	}
	delete(r.tenants, id)
	delete(r.creds, id)
	r.audit = slices.DeleteFunc(r.audit, func(e pgtenant.AuditLogEntry) bool { return e.TenantID == id })
	return nil
}

func (r *MemoryRegistry) AppendAudit(_ context.Context, e pgtenant.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.audit = append(r.audit, e)
	return nil
}

func (r *MemoryRegistry) AuditLog(_ context.Context, tenantID uuid.UUID, limit int) ([]pgtenant.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pgtenant.AuditLogEntry
	for i := len(r.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.audit[i].TenantID == tenantID {
			out = append(out, r.audit[i])
		}
	}
	return out, nil
}

// Actions returns the audit actions of a tenant, oldest first.
func (r *MemoryRegistry) Actions(tenantID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.audit {
		if e.TenantID == tenantID {
			out = append(out, e.Action)
		}
	}
	return out
}

// FakeProvisioner simulates a PostgreSQL server holding tenant databases.
type FakeProvisioner struct {
	mu        sync.Mutex
	databases map[string]string // database name -> role password
	admins    map[string]string // database name -> admin email

	// ProvisionErr, when set, fails Provision after the database was created.
	ProvisionErr error
	// ConnectErr, when set, fails Provision before anything is touched.
	ConnectErr error
	Drops      int
}

func NewFakeProvisioner() *FakeProvisioner {
	return &FakeProvisioner{databases: map[string]string{}, admins: map[string]string{}}
}

func (p *FakeProvisioner) Provision(_ context.Context, req pgtenant.ProvisionRequest) (*pgtenant.ProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	p.databases[req.DatabaseName] = req.DatabasePassword
	if p.ProvisionErr != nil {
		return nil, p.ProvisionErr
	}
	p.admins[req.DatabaseName] = req.AdminEmail
	pw := req.AdminPassword
	if pw == "" {
		pw = "generated-admin-password"
	}
	return &pgtenant.ProvisionResult{
		DatabaseName:  req.DatabaseName,
		DatabaseUser:  req.DatabaseUser,
		AdminEmail:    req.AdminEmail,
		AdminPassword: pw,
	}, nil
}

func (p *FakeProvisioner) Drop(_ context.Context, databaseName, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Drops++
	_, ok := p.databases[databaseName]
	delete(p.databases, databaseName)
	delete(p.admins, databaseName)
	return ok, nil
}

func (p *FakeProvisioner) Check(_ context.Context, databaseName, _, password string) pgtenant.HealthReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	report := pgtenant.HealthReport{Tables: []string{}}
	pw, ok := p.databases[databaseName]
	report.Exists = ok
	if !ok {
		report.Error = fmt.Sprintf("database %q does not exist", databaseName)
		return report
	}
	if pw != password {
		report.Error = "password authentication failed"
		return report
	}
	report.Accessible = true
	report.Tables = []string{"settings", "users"}
	report.UserCount = 1
	return report
}

func (p *FakeProvisioner) ResetAdminPassword(_ context.Context, req provisioner.ResetRequest) (*pgtenant.PasswordReset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	admin, ok := p.admins[req.DatabaseName]
	if !ok || (admin != req.AdminEmail && !req.AllowFallback) {
		return nil, fmt.Errorf("admin %q: %w", req.AdminEmail, pgtenant.ErrNotFound)
	}
	pw := req.NewPassword
	if pw == "" {
		pw = "generated-reset-password"
	}
	return &pgtenant.PasswordReset{AdminEmail: admin, NewPassword: pw}, nil
}

func (p *FakeProvisioner) RotatePassword(_ context.Context, databaseUser, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for db := range p.databases {
		if db+"_user" == databaseUser {
			p.databases[db] = newPassword
			return nil
		}
	}
	return fmt.Errorf("role %q: %w", databaseUser, pgtenant.ErrNotFound)
}

// Password returns the current role password of a database.
func (p *FakeProvisioner) Password(databaseName string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.databases[databaseName]
}
