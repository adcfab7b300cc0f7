package pgtenant

import (
	"context"
)

// DatabaseManager performs server-level operations on databases and roles.
// Every name passed in must already have passed identifier validation;
// implementations still quote identifiers when building DDL.
type DatabaseManager interface {
	// Exists checks if a database exists.
	Exists(ctx context.Context, conn DBConnection, dbName string) (bool, error)

	// Create creates a new database owned by owner (no owner clause when empty).
	Create(ctx context.Context, conn DBConnection, dbName, owner string) error

	// Drop drops the database if it exists.
	Drop(ctx context.Context, conn DBConnection, dbName string) error

	// TerminateConnections terminates all backends connected to the database.
	TerminateConnections(ctx context.Context, conn DBConnection, dbName string) error

	// RoleExists checks if a login role exists.
	RoleExists(ctx context.Context, conn DBConnection, role string) (bool, error)

	// CreateRole creates a login role with the given password.
	CreateRole(ctx context.Context, conn DBConnection, role, password string) error

	// AlterRolePassword replaces the password of an existing role.
	AlterRolePassword(ctx context.Context, conn DBConnection, role, password string) error

	// DropRole drops the role if it exists.
	DropRole(ctx context.Context, conn DBConnection, role string) error

	// GrantAll grants all privileges on the database to the role.
	GrantAll(ctx context.Context, conn DBConnection, dbName, role string) error

	// SetOwner transfers ownership of the database to the role.
	SetOwner(ctx context.Context, conn DBConnection, dbName, role string) error
}
