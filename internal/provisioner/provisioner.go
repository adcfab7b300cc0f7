// Package provisioner creates, drops and inspects tenant databases.
//
// Every step is idempotent: roles and databases are created only when
// missing, the schema uses IF NOT EXISTS throughout and seed rows are
// upserts. A provisioning run interrupted half way is completed by running it
// again. Nothing is rolled back; the caller decides whether to Drop after a
// failure.
//
// Database and role names are validated against a strict allow-list before
// they reach any DDL statement. Literal values such as emails and password
// hashes are always bound as query parameters.
package provisioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/internal/identifier"
	"github.com/vvka-141/pgtenant/internal/password"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// Conn is the subset of *pgxpool.Pool used against a tenant database.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TenantConfigFunc builds the connection config for a tenant database.
type TenantConfigFunc func(database, user, password string) *pgtenant.ConnectionConfig

// ConnectorFactory builds a connector for a connection config.
type ConnectorFactory func(*pgtenant.ConnectionConfig) (pgtenant.Connector, error)

type adminConnFunc func(ctx context.Context) (pgtenant.DBConnection, func(), error)
type tenantConnFunc func(ctx context.Context, database, user, password string) (Conn, func(), error)

// ResetRequest identifies the tenant database and the admin whose password is replaced.
type ResetRequest struct {
	DatabaseName string
	DatabaseUser string
	Password     string // tenant role password
	AdminEmail   string
	NewPassword  string // generated when empty

	// AllowFallback resets the first admin of the tenant when no admin has
	// AdminEmail. The result then carries that admin's email.
	AllowFallback bool
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithHasher replaces the bcrypt hasher used for admin passwords.
func WithHasher(h password.Hasher) Option {
	return func(p *Provisioner) { p.hasher = h }
}

// WithConnectorFactory replaces db.NewConnector.
func WithConnectorFactory(f ConnectorFactory) Option {
	return func(p *Provisioner) { p.connectorFactory = f }
}

// Provisioner is safe for concurrent use on different tenants. Concurrent runs
// against the same tenant are not coordinated.
type Provisioner struct {
	admin            *pgtenant.ConnectionConfig
	tenantConfig     TenantConfigFunc
	dbManager        pgtenant.DatabaseManager
	logger           pgtenant.Logger
	hasher           password.Hasher
	connectorFactory ConnectorFactory

	adminConnector  adminConnFunc
	tenantConnector tenantConnFunc
}

// New creates a provisioner. admin targets the maintenance database of the
// server hosting tenant databases. Panics on nil dependencies.
func New(
	admin *pgtenant.ConnectionConfig,
	tenantConfig TenantConfigFunc,
	dbManager pgtenant.DatabaseManager,
	logger pgtenant.Logger,
	opts ...Option,
) *Provisioner {
	if admin == nil {
		panic("admin connection config cannot be nil")
	}
	if tenantConfig == nil {
		panic("tenantConfig cannot be nil")
	}
	if dbManager == nil {
		panic("dbManager cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	p := &Provisioner{
		admin:        admin,
		tenantConfig: tenantConfig,
		dbManager:    dbManager,
		logger:       logger,
		hasher:       password.NewBcryptHasher(0),
	}
	p.connectorFactory = func(cfg *pgtenant.ConnectionConfig) (pgtenant.Connector, error) {
		return db.NewConnector(cfg,
			db.WithLogger(logger),
			db.WithPoolSettings(db.PoolSettings{MaxConns: 2}))
	}
	for _, opt := range opts {
		opt(p)
	}
	p.adminConnector = p.defaultAdminConnector
	p.tenantConnector = p.defaultTenantConnector
	return p
}

func (p *Provisioner) defaultAdminConnector(ctx context.Context) (pgtenant.DBConnection, func(), error) {
	connector, err := p.connectorFactory(p.admin)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connector: %w", err)
	}
	pool, err := connector.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to maintenance database: %w", err)
	}
	return db.NewPoolAdapter(pool), pool.Close, nil
}

func (p *Provisioner) defaultTenantConnector(ctx context.Context, database, user, pw string) (Conn, func(), error) {
	connector, err := p.connectorFactory(p.tenantConfig(database, user, pw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connector: %w", err)
	}
	pool, err := connector.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to tenant database %q: %w", database, err)
	}
	return pool, pool.Close, nil
}

// Provision creates or completes a tenant database. Running it twice with the
// same request converges to the same state; the role password is reset to
// req.DatabasePassword every time.
func (p *Provisioner) Provision(ctx context.Context, req pgtenant.ProvisionRequest) (*pgtenant.ProvisionResult, error) {
	if err := identifier.ValidateAll(req.DatabaseName, req.DatabaseUser); err != nil {
		return nil, err
	}
	if req.DatabasePassword == "" {
		return nil, fmt.Errorf("database password is required: %w", pgtenant.ErrValidation)
	}
	if req.AdminEmail == "" {
		return nil, fmt.Errorf("admin email is required: %w", pgtenant.ErrValidation)
	}

	p.logger.Verbose("Provisioning database '%s' for role '%s'", req.DatabaseName, req.DatabaseUser)

	if err := p.ensureRoleAndDatabase(ctx, req); err != nil {
		return nil, err
	}

	conn, cleanup, err := p.tenantConnector(ctx, req.DatabaseName, req.DatabaseUser, req.DatabasePassword)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p.logger.Verbose("Applying tenant schema to '%s'", req.DatabaseName)
	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply tenant schema: %w", err)
	}

	adminPassword := req.AdminPassword
	if adminPassword == "" {
		if adminPassword, err = password.Generate(pgtenant.GeneratedPasswordBytes); err != nil {
			return nil, err
		}
	}
	hash, err := p.hasher.Hash(adminPassword)
	if err != nil {
		return nil, err
	}

	p.logger.Verbose("Seeding tenant admin '%s'", req.AdminEmail)
	if _, err := conn.Exec(ctx, upsertAdmin, req.AdminEmail, hash, adminFullName, adminRole); err != nil {
		return nil, fmt.Errorf("failed to seed tenant admin: %w", err)
	}
	if _, err := conn.Exec(ctx, seedSQL); err != nil {
		return nil, fmt.Errorf("failed to seed tenant settings: %w", err)
	}

	p.logger.Info("✓ Tenant database '%s' provisioned", req.DatabaseName)
	return &pgtenant.ProvisionResult{
		DatabaseName:  req.DatabaseName,
		DatabaseUser:  req.DatabaseUser,
		AdminEmail:    req.AdminEmail,
		AdminPassword: adminPassword,
	}, nil
}

func (p *Provisioner) ensureRoleAndDatabase(ctx context.Context, req pgtenant.ProvisionRequest) error {
	conn, cleanup, err := p.adminConnector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	roleExists, err := p.dbManager.RoleExists(ctx, conn, req.DatabaseUser)
	if err != nil {
		return err
	}
	if roleExists {
		p.logger.Verbose("Role '%s' exists, rotating its password", req.DatabaseUser)
		if err := p.dbManager.AlterRolePassword(ctx, conn, req.DatabaseUser, req.DatabasePassword); err != nil {
			return err
		}
	} else {
		p.logger.Verbose("Creating role '%s'", req.DatabaseUser)
		if err := p.dbManager.CreateRole(ctx, conn, req.DatabaseUser, req.DatabasePassword); err != nil {
			return err
		}
	}

	dbExists, err := p.dbManager.Exists(ctx, conn, req.DatabaseName)
	if err != nil {
		return err
	}
	if dbExists {
		p.logger.Verbose("Database '%s' already exists", req.DatabaseName)
		if err := p.dbManager.SetOwner(ctx, conn, req.DatabaseName, req.DatabaseUser); err != nil {
			return err
		}
	} else {
		p.logger.Info("Creating database '%s'...", req.DatabaseName)
		if err := p.dbManager.Create(ctx, conn, req.DatabaseName, req.DatabaseUser); err != nil {
			return err
		}
	}
	return p.dbManager.GrantAll(ctx, conn, req.DatabaseName, req.DatabaseUser)
}

// Drop terminates sessions on the tenant database, then drops it and its
// role. Missing objects are not an error. The result reports whether either
// object existed.
func (p *Provisioner) Drop(ctx context.Context, databaseName, databaseUser string) (bool, error) {
	if err := identifier.ValidateAll(databaseName, databaseUser); err != nil {
		return false, err
	}

	conn, cleanup, err := p.adminConnector(ctx)
	if err != nil {
		return false, err
	}
	defer cleanup()

	dbExists, err := p.dbManager.Exists(ctx, conn, databaseName)
	if err != nil {
		return false, err
	}
	roleExists, err := p.dbManager.RoleExists(ctx, conn, databaseUser)
	if err != nil {
		return false, err
	}

	if dbExists {
		p.logger.Verbose("Terminating all connections to database '%s'", databaseName)
		if err := p.dbManager.TerminateConnections(ctx, conn, databaseName); err != nil {
			return false, err
		}
		p.logger.Verbose("Dropping database '%s'", databaseName)
	}
	if err := p.dbManager.Drop(ctx, conn, databaseName); err != nil {
		return false, err
	}
	if err := p.dbManager.DropRole(ctx, conn, databaseUser); err != nil {
		return false, err
	}

	if dbExists || roleExists {
		p.logger.Info("✓ Dropped tenant database '%s' and role '%s'", databaseName, databaseUser)
	}
	return dbExists || roleExists, nil
}

// RotatePassword replaces the login password of a tenant role.
func (p *Provisioner) RotatePassword(ctx context.Context, databaseUser, newPassword string) error {
	if err := identifier.ValidateIdentifier(databaseUser); err != nil {
		return err
	}
	conn, cleanup, err := p.adminConnector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	exists, err := p.dbManager.RoleExists(ctx, conn, databaseUser)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("role %q: %w", databaseUser, pgtenant.ErrNotFound)
	}
	if err := p.dbManager.AlterRolePassword(ctx, conn, databaseUser, newPassword); err != nil {
		return err
	}
	p.logger.Verbose("Rotated password of role '%s'", databaseUser)
	return nil
}

// Check inspects a tenant database. It never returns an error: every failure
// is described in the report's Error field.
func (p *Provisioner) Check(ctx context.Context, databaseName, databaseUser, pw string) pgtenant.HealthReport {
	report := pgtenant.HealthReport{Tables: []string{}}
	if err := identifier.ValidateAll(databaseName, databaseUser); err != nil {
		report.Error = err.Error()
		return report
	}

	exists, err := p.databaseExists(ctx, databaseName)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Exists = exists
	if !exists {
		report.Error = fmt.Sprintf("database %q does not exist", databaseName)
		return report
	}

	conn, cleanup, err := p.tenantConnector(ctx, databaseName, databaseUser, pw)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer cleanup()
	report.Accessible = true

	if err := conn.QueryRow(ctx, queryTables).Scan(&report.Tables); err != nil {
		report.Error = fmt.Sprintf("failed to list tables: %v", err)
		return report
	}
	if err := conn.QueryRow(ctx, queryUserCount).Scan(&report.UserCount); err != nil {
		report.Error = fmt.Sprintf("failed to count users: %v", err)
		return report
	}
	if err := conn.QueryRow(ctx, queryProjectCount).Scan(&report.ProjectCount); err != nil {
		report.Error = fmt.Sprintf("failed to count projects: %v", err)
	}
	return report
}

func (p *Provisioner) databaseExists(ctx context.Context, databaseName string) (bool, error) {
	conn, cleanup, err := p.adminConnector(ctx)
	if err != nil {
		return false, err
	}
	defer cleanup()
	return p.dbManager.Exists(ctx, conn, databaseName)
}

// ResetAdminPassword replaces the password hash of a tenant admin. An unknown
// email is ErrNotFound unless req.AllowFallback is set.
func (p *Provisioner) ResetAdminPassword(ctx context.Context, req ResetRequest) (*pgtenant.PasswordReset, error) {
	if err := identifier.ValidateAll(req.DatabaseName, req.DatabaseUser); err != nil {
		return nil, err
	}

	newPassword := req.NewPassword
	if newPassword == "" {
		var err error
		if newPassword, err = password.Generate(pgtenant.GeneratedPasswordBytes); err != nil {
			return nil, err
		}
	}
	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	conn, cleanup, err := p.tenantConnector(ctx, req.DatabaseName, req.DatabaseUser, req.Password)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var email string
	err = conn.QueryRow(ctx, resetAdminByEmail, hash, req.AdminEmail).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) && req.AllowFallback {
		p.logger.Warn("No admin '%s' in '%s'; resetting the first admin instead", req.AdminEmail, req.DatabaseName)
		err = conn.QueryRow(ctx, resetFirstAdmin, hash).Scan(&email)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("admin %q in %q: %w", req.AdminEmail, req.DatabaseName, pgtenant.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset admin password: %w", err)
	}

	p.logger.Info("✓ Reset password of admin '%s' in '%s'", email, req.DatabaseName)
	return &pgtenant.PasswordReset{AdminEmail: email, NewPassword: newPassword}, nil
}
