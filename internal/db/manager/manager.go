package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/vvka-141/pgtenant/internal/identifier"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const (
	queryDatabaseExists       = "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)"
	queryRoleExists           = "SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)"
	queryTerminateConnections = `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`
)

// Manager implements pgtenant.DatabaseManager.
type Manager struct{}

var _ pgtenant.DatabaseManager = (*Manager)(nil)

// New creates a Manager.
func New() *Manager {
	return &Manager{}
}

// quote validates name and returns it as a quoted identifier.
func quote(name string) (string, error) {
	if err := identifier.ValidateIdentifier(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// quoteLiteral renders s as a standard-conforming SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (m *Manager) Exists(ctx context.Context, conn pgtenant.DBConnection, dbName string) (bool, error) {
	var exists bool
	if err := conn.QueryRow(ctx, queryDatabaseExists, dbName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return exists, nil
}

// Create runs CREATE DATABASE on a dedicated connection, since the statement
// cannot run inside a transaction block.
func (m *Manager) Create(ctx context.Context, conn pgtenant.DBConnection, dbName, owner string) error {
	db, err := quote(dbName)
	if err != nil {
		return err
	}
	stmt := "CREATE DATABASE " + db
	if owner != "" {
		role, err := quote(owner)
		if err != nil {
			return err
		}
		stmt += " OWNER " + role
	}
	if err := execDedicated(ctx, conn, stmt); err != nil {
		return fmt.Errorf("failed to create database %q: %w", dbName, err)
	}
	return nil
}

func (m *Manager) Drop(ctx context.Context, conn pgtenant.DBConnection, dbName string) error {
	db, err := quote(dbName)
	if err != nil {
		return err
	}
	if err := execDedicated(ctx, conn, "DROP DATABASE IF EXISTS "+db); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", dbName, err)
	}
	return nil
}

func (m *Manager) TerminateConnections(ctx context.Context, conn pgtenant.DBConnection, dbName string) error {
	if _, err := conn.Exec(ctx, queryTerminateConnections, dbName); err != nil {
		return fmt.Errorf("failed to terminate connections to database %q: %w", dbName, err)
	}
	return nil
}

func (m *Manager) RoleExists(ctx context.Context, conn pgtenant.DBConnection, role string) (bool, error) {
	var exists bool
	if err := conn.QueryRow(ctx, queryRoleExists, role).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role existence: %w", err)
	}
	return exists, nil
}

func (m *Manager) CreateRole(ctx context.Context, conn pgtenant.DBConnection, role, password string) error {
	r, err := quote(role)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s", r, quoteLiteral(password))); err != nil {
		return fmt.Errorf("failed to create role %q: %w", role, err)
	}
	return nil
}

func (m *Manager) AlterRolePassword(ctx context.Context, conn pgtenant.DBConnection, role, password string) error {
	r, err := quote(role)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s", r, quoteLiteral(password))); err != nil {
		return fmt.Errorf("failed to change password of role %q: %w", role, err)
	}
	return nil
}

func (m *Manager) DropRole(ctx context.Context, conn pgtenant.DBConnection, role string) error {
	r, err := quote(role)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "DROP ROLE IF EXISTS "+r); err != nil {
		return fmt.Errorf("failed to drop role %q: %w", role, err)
	}
	return nil
}

func (m *Manager) GrantAll(ctx context.Context, conn pgtenant.DBConnection, dbName, role string) error {
	return m.alterDatabase(ctx, conn, "GRANT ALL PRIVILEGES ON DATABASE %s TO %s", dbName, role)
}

func (m *Manager) SetOwner(ctx context.Context, conn pgtenant.DBConnection, dbName, role string) error {
	return m.alterDatabase(ctx, conn, "ALTER DATABASE %s OWNER TO %s", dbName, role)
}

func (m *Manager) alterDatabase(ctx context.Context, conn pgtenant.DBConnection, format, dbName, role string) error {
	db, err := quote(dbName)
	if err != nil {
		return err
	}
	r, err := quote(role)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(format, db, r)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to run %q: %w", stmt, err)
	}
	return nil
}

func execDedicated(ctx context.Context, conn pgtenant.DBConnection, stmt string) error {
	pooled, err := conn.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer pooled.Release()

	_, err = pooled.Exec(ctx, stmt)
	return err
}
