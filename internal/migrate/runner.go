// Package migrate applies a SQL script to every active tenant database.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// DefaultConcurrency is the number of tenant databases migrated at once.
const DefaultConcurrency = 4

var marshalDetails = json.Marshal

// Options controls a migration run.
type Options struct {
	// UseAdminRole connects with the administrative role instead of the
	// tenant's own credentials.
	UseAdminRole bool
	Concurrency  int
	// DryRun lists the targets without connecting to them.
	DryRun bool
}

// Result is the outcome for one tenant.
type Result struct {
	Slug     string
	Database string
	Err      error
	Duration time.Duration
	Skipped  bool
	Checksum string
}

// Source lists tenants.
type Source interface {
	Snapshots(ctx context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error)
}

// Decrypter recovers tenant role passwords.
type Decrypter interface {
	Decrypt(encoded string) (string, error)
}

// Session runs a script in a single transaction.
type Session interface {
	ExecInTx(ctx context.Context, script string) error
	Close()
}

// Opener connects to a tenant database.
type Opener func(ctx context.Context, cfg *pgtenant.ConnectionConfig) (Session, error)

// TenantConfigFunc builds the connection config for a tenant database.
type TenantConfigFunc func(database, user, password string) *pgtenant.ConnectionConfig

// Auditor records a successful migration in the tenant's audit log.
type Auditor interface {
	AppendAudit(ctx context.Context, e pgtenant.AuditLogEntry) error
}

// Option configures a Runner.
type Option func(*Runner)

// ActionMigrationApplied is the audit action recorded per migrated tenant.
const ActionMigrationApplied = "tenant.migration_applied"

// WithAuditor appends an ActionMigrationApplied entry for every migrated tenant.
func WithAuditor(a Auditor, actor string) Option {
	return func(r *Runner) {
		r.auditor = a
		r.actor = actor
	}
}

// WithOpener replaces the pgx based opener.
func WithOpener(o Opener) Option {
	return func(r *Runner) { r.open = o }
}

// Runner is safe for concurrent use.
type Runner struct {
	source       Source
	decrypter    Decrypter
	admin        *pgtenant.ConnectionConfig
	tenantConfig TenantConfigFunc
	logger       pgtenant.Logger
	open         Opener
	auditor      Auditor
	actor        string
}

// NewRunner panics on nil dependencies.
func NewRunner(source Source, decrypter Decrypter, admin *pgtenant.ConnectionConfig, tenantConfig TenantConfigFunc, logger pgtenant.Logger, opts ...Option) *Runner {
	if source == nil {
		panic("source cannot be nil")
	}
	if decrypter == nil {
		panic("decrypter cannot be nil")
	}
	if admin == nil {
		panic("admin connection config cannot be nil")
	}
	if tenantConfig == nil {
		panic("tenantConfig cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	r := &Runner{
		source:       source,
		decrypter:    decrypter,
		admin:        admin,
		tenantConfig: tenantConfig,
		logger:       logger,
	}
	r.open = r.openPgx
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies script to every active tenant. A failing tenant never stops the
// others; its error is reported in its Result. The returned error covers only
// failures to list the tenants. Results are ordered by slug.
func (r *Runner) Run(ctx context.Context, script string, opts Options) ([]Result, error) {
	if IsBlank(script) {
		return nil, fmt.Errorf("migration script has no statements: %w", pgtenant.ErrValidation)
	}
	targets, err := r.source.Snapshots(ctx, pgtenant.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	checksum := Checksum(script)
	r.logger.Info("Applying script %s to %d tenant(s)", checksum[:12], len(targets))
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(targets))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, snap := range targets {
		g.Go(func() error {
			res := r.migrate(gctx, snap, script, checksum, opts)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Slug < results[j].Slug })
	return results, nil
}

func (r *Runner) migrate(ctx context.Context, snap pgtenant.Snapshot, script, checksum string, opts Options) Result {
	res := Result{Slug: snap.Slug, Database: snap.DatabaseName, Checksum: checksum}
	if opts.DryRun {
		res.Skipped = true
		r.logger.Info("Would migrate tenant %q (%s)", snap.Slug, snap.DatabaseName)
		return res
	}

	start := time.Now()
	res.Err = r.apply(ctx, snap, script, opts.UseAdminRole)
	res.Duration = time.Since(start)
	if res.Err != nil {
		r.logger.Error("✗ Tenant %q: %v", snap.Slug, res.Err)
		return res
	}
	r.logger.Info("✓ Tenant %q migrated in %s", snap.Slug, res.Duration.Round(time.Millisecond))
	r.audit(ctx, snap, checksum, opts.UseAdminRole)
	return res
}

// audit failures are logged; the migration itself has already committed.
func (r *Runner) audit(ctx context.Context, snap pgtenant.Snapshot, checksum string, adminRole bool) {
	if r.auditor == nil {
		return
	}
	details, err := marshalDetails(map[string]any{"checksum": checksum, "admin_role": adminRole})
	if err != nil {
		r.logger.Warn("Tenant %q: failed to encode migration audit details: %v", snap.Slug, err)
		details = nil
	}
	entry := pgtenant.AuditLogEntry{
		ID:        uuid.New(),
		TenantID:  snap.ID,
		Action:    ActionMigrationApplied,
		Actor:     r.actor,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.auditor.AppendAudit(ctx, entry); err != nil {
		r.logger.Warn("Tenant %q: failed to record migration in audit log: %v", snap.Slug, err)
	}
}

func (r *Runner) apply(ctx context.Context, snap pgtenant.Snapshot, script string, useAdmin bool) error {
	cfg, err := r.connectionFor(snap, useAdmin)
	if err != nil {
		return err
	}
	session, err := r.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.ExecInTx(ctx, script)
}

func (r *Runner) connectionFor(snap pgtenant.Snapshot, useAdmin bool) (*pgtenant.ConnectionConfig, error) {
	if useAdmin {
		return r.admin.WithDatabase(snap.DatabaseName), nil
	}
	if !snap.HasCredentials {
		return nil, fmt.Errorf("tenant %q has no stored credentials: %w", snap.Slug, pgtenant.ErrNotFound)
	}
	pw, err := r.decrypter.Decrypt(snap.EncryptedPassword)
	if err != nil {
		return nil, err
	}
	return r.tenantConfig(snap.DatabaseName, snap.DatabaseUser, pw), nil
}

func (r *Runner) openPgx(ctx context.Context, cfg *pgtenant.ConnectionConfig) (Session, error) {
	connector, err := db.NewConnector(cfg, db.WithLogger(r.logger), db.WithPoolSettings(db.PoolSettings{MaxConns: 1}))
	if err != nil {
		return nil, err
	}
	pool, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxSession{pool: pool}, nil
}

type pgxSession struct {
	pool *pgxpool.Pool
}

// ExecInTx sends the whole script as one simple-protocol Exec, which allows
// several statements separated by semicolons.
func (s *pgxSession) ExecInTx(ctx context.Context, script string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, script); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	})
}

func (s *pgxSession) Close() { s.pool.Close() }

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, res := range results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of failed results, or returns nil.
func Err(results []Result) error {
	var errs []error
	for _, res := range Failed(results) {
		errs = append(errs, fmt.Errorf("tenant %q: %w", res.Slug, res.Err))
	}
	return errors.Join(errs...)
}
