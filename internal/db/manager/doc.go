// Package manager runs server-level DDL for tenant databases and their login
// roles: existence checks, create, drop, password changes, grants and backend
// termination.
//
// Database and role names cannot be bound as parameters, so every name is
// checked against the identifier allow-list and then quoted with
// pgx.Identifier.Sanitize before it is formatted into a statement. Role
// passwords are written as escaped string literals because CREATE ROLE and
// ALTER ROLE do not accept bind parameters.
//
//	mgr := manager.New()
//	if err := mgr.CreateRole(ctx, conn, "tenant_acme_user", password); err != nil { ... }
//	if err := mgr.Create(ctx, conn, "tenant_acme", "tenant_acme_user"); err != nil { ... }
//
// Manager is stateless and safe for concurrent use.
package manager
