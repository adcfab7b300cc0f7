package provisioner

import _ "embed"

var (
	//go:embed sql/schema.sql
	schemaSQL string

	//go:embed sql/seed.sql
	seedSQL string
)

const (
	adminRole     = "admin"
	adminFullName = "Administrator"

	// upsertAdmin seeds the tenant admin. Re-provisioning replaces the hash so
	// the returned password is always the valid one.
	upsertAdmin = `
		INSERT INTO users (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, updated_at = now()`

	queryTables = `
		SELECT coalesce(array_agg(table_name::text ORDER BY table_name), '{}')
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`

	queryUserCount    = `SELECT count(*) FROM users`
	queryProjectCount = `SELECT count(*) FROM projects`

	// Parameter $1: hash, $2: email
	resetAdminByEmail = `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE email = $2 AND role = 'admin'
		RETURNING email`

	// Parameter $1: hash
	resetFirstAdmin = `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE id = (SELECT id FROM users WHERE role = 'admin' ORDER BY created_at, id LIMIT 1)
		RETURNING email`
)
