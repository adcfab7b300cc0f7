// Package bootstrap prepares the registry database when the process starts:
// it verifies connectivity, applies additive schema upgrades and makes sure a
// platform administrator exists.
//
// Schema upgrades never abort startup. A failed step is logged and reported,
// and the process keeps running with whatever features the current schema
// supports.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/pgtenant/internal/password"
	"github.com/vvka-141/pgtenant/internal/tui"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// bootstrapPasswordBytes yields a 32-character hex password.
const bootstrapPasswordBytes = 16

// Querier is the subset of *pgxpool.Pool used by the bootstrapper.
type Querier interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Failure records a schema object that could not be brought up to date.
type Failure struct {
	Object string
	Err    error
}

// Report summarizes one Migrate run.
type Report struct {
	CreatedTables []string
	AddedColumns  []string
	Failures      []Failure
}

// Degraded reports whether any step failed.
func (r *Report) Degraded() bool {
	return len(r.Failures) > 0
}

// AdminCredentials are the one-time credentials of a freshly created platform admin.
type AdminCredentials struct {
	Email    string
	Password string
}

// Result is returned by Run.
type Result struct {
	Schema Report
	Admin  *AdminCredentials // nil when an admin already existed
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithAdminEmail sets the email of the bootstrap admin.
func WithAdminEmail(email string) Option {
	return func(b *Bootstrapper) {
		if email != "" {
			b.adminEmail = email
		}
	}
}

// WithHasher replaces the bcrypt hasher.
func WithHasher(h password.Hasher) Option {
	return func(b *Bootstrapper) { b.hasher = h }
}

// WithOutput sets where the one-time credential banner is printed.
func WithOutput(w io.Writer) Option {
	return func(b *Bootstrapper) { b.out = w }
}

// WithSchema replaces RegistrySchema.
func WithSchema(tables []Table) Option {
	return func(b *Bootstrapper) { b.schema = tables }
}

// Bootstrapper is not safe for concurrent Run calls.
type Bootstrapper struct {
	q          Querier
	logger     pgtenant.Logger
	hasher     password.Hasher
	out        io.Writer
	adminEmail string
	schema     []Table
}

// New creates a bootstrapper. Panics if q or logger is nil.
func New(q Querier, logger pgtenant.Logger, opts ...Option) *Bootstrapper {
	if q == nil {
		panic("querier cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	b := &Bootstrapper{
		q:          q,
		logger:     logger,
		hasher:     password.NewBcryptHasher(0),
		out:        os.Stderr,
		adminEmail: pgtenant.DefaultBootstrapAdminEmail,
		schema:     RegistrySchema,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run verifies connectivity, which is the only fatal step, then migrates the
// schema and ensures the bootstrap admin.
func (b *Bootstrapper) Run(ctx context.Context) (*Result, error) {
	if err := b.q.Ping(ctx); err != nil {
		return nil, fmt.Errorf("registry unreachable: %w: %w", pgtenant.ErrConnectionFailed, err)
	}
	b.logger.Verbose("Registry reachable")

	res := &Result{Schema: b.Migrate(ctx)}
	if res.Schema.Degraded() {
		b.logger.Warn("Registry schema is incomplete (%d failed step(s)); running in degraded mode", len(res.Schema.Failures))
	}

	admin, err := b.EnsureAdmin(ctx)
	if err != nil {
		b.logger.Error("Bootstrap admin check failed: %v", err)
		res.Schema.Failures = append(res.Schema.Failures, Failure{Object: "platform_admins", Err: err})
		return res, nil
	}
	res.Admin = admin
	return res, nil
}

// Migrate brings every table of the schema up to date. Each step is checked
// against the catalog first and applied with idempotent DDL, so concurrent or
// repeated runs converge. Failures are collected, never returned.
func (b *Bootstrapper) Migrate(ctx context.Context) Report {
	var rep Report
	for _, table := range b.schema {
		exists, err := b.exists(ctx, queryTableExists, table.Name)
		if err != nil {
			rep.fail(b.logger, table.Name, err)
			continue
		}
		if !exists {
			if _, err := b.q.Exec(ctx, table.Create); err != nil {
				rep.fail(b.logger, table.Name, fmt.Errorf("failed to create table: %w", err))
				continue
			}
			b.logger.Info("✓ Created registry table %s", table.Name)
			rep.CreatedTables = append(rep.CreatedTables, table.Name)
		}

		for _, col := range table.Columns {
			object := table.Name + "." + col.Name
			exists, err := b.exists(ctx, queryColumnExists, table.Name, col.Name)
			if err != nil {
				rep.fail(b.logger, object, err)
				continue
			}
			if exists {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				pgx.Identifier{table.Name}.Sanitize(), pgx.Identifier{col.Name}.Sanitize(), col.Definition)
			if _, err := b.q.Exec(ctx, stmt); err != nil {
				rep.fail(b.logger, object, fmt.Errorf("failed to add column: %w", err))
				continue
			}
			b.logger.Info("✓ Added registry column %s", object)
			rep.AddedColumns = append(rep.AddedColumns, object)
		}

		for _, stmt := range table.Indexes {
			if _, err := b.q.Exec(ctx, stmt); err != nil {
				rep.fail(b.logger, table.Name+" index", fmt.Errorf("failed to create index: %w", err))
			}
		}
	}
	return rep
}

func (b *Bootstrapper) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := b.q.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to inspect catalog: %w", err)
	}
	return ok, nil
}

func (r *Report) fail(logger pgtenant.Logger, object string, err error) {
	logger.Error("Registry migration step %s failed: %v", object, err)
	r.Failures = append(r.Failures, Failure{Object: object, Err: err})
}

// EnsureAdmin creates a platform admin with a random password when none
// exists. The credentials are printed once and returned; they are not
// recoverable afterwards.
func (b *Bootstrapper) EnsureAdmin(ctx context.Context) (*AdminCredentials, error) {
	var count int
	if err := b.q.QueryRow(ctx, queryAdminCount).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count platform admins: %w", err)
	}
	if count > 0 {
		b.logger.Verbose("Found %d platform admin(s)", count)
		return nil, nil
	}

	pw, err := password.Generate(bootstrapPasswordBytes)
	if err != nil {
		return nil, err
	}
	hash, err := b.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	tag, err := b.q.Exec(ctx, insertAdmin, uuid.New(), b.adminEmail, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another process won the race.
		return nil, nil
	}

	creds := &AdminCredentials{Email: b.adminEmail, Password: pw}
	b.logger.Warn("Bootstrap admin created: email=%s password=%s (shown once, change it after first login)", creds.Email, creds.Password)
	fmt.Fprintln(b.out, tui.CredentialBox("Bootstrap platform admin created", []tui.Field{
		{Label: "Email", Value: creds.Email},
		{Label: "Password", Value: creds.Password},
	}, "This password is shown once. Store it now."))
	return creds, nil
}
