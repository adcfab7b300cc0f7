package bootstrap

// Column is a column added to an existing table by a guarded ALTER TABLE.
type Column struct {
	Name       string
	Definition string
}

// Table describes one registry table. Create holds the original definition;
// Columns lists everything added since, in order. Indexes are idempotent
// statements run on every start.
type Table struct {
	Name    string
	Create  string
	Columns []Column
	Indexes []string
}

// RegistrySchema is the expected shape of the registry database. Tables are
// ordered so that foreign keys resolve.
var RegistrySchema = []Table{
	{
		Name: "tenants",
		Create: `CREATE TABLE IF NOT EXISTS tenants (
			id            uuid PRIMARY KEY,
			slug          text NOT NULL UNIQUE,
			name          text NOT NULL,
			database_name text NOT NULL UNIQUE,
			database_user text NOT NULL UNIQUE,
			status        text NOT NULL DEFAULT 'pending',
			created_at    timestamptz NOT NULL DEFAULT now(),
			updated_at    timestamptz NOT NULL DEFAULT now()
		)`,
		Columns: []Column{
			{"plan", "text NOT NULL DEFAULT 'free'"},
			{"max_users", "integer NOT NULL DEFAULT 10"},
			{"max_projects", "integer NOT NULL DEFAULT 50"},
			{"admin_email", "text NOT NULL DEFAULT ''"},
			{"company_name", "text NOT NULL DEFAULT ''"},
			{"settings", "jsonb NOT NULL DEFAULT '{}'::jsonb"},
			{"organization_id", "text"},
			{"required_group_ids", "jsonb NOT NULL DEFAULT '[]'::jsonb"},
			{"group_membership_mode", "text NOT NULL DEFAULT 'any'"},
		},
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS tenants_status_idx ON tenants (status)`,
		},
	},
	{
		Name: "tenant_credentials",
		Create: `CREATE TABLE IF NOT EXISTS tenant_credentials (
			tenant_id           uuid PRIMARY KEY REFERENCES tenants (id) ON DELETE CASCADE,
			encrypted_password  text NOT NULL,
			password_updated_at timestamptz NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "tenant_audit_log",
		Create: `CREATE TABLE IF NOT EXISTS tenant_audit_log (
			id         uuid PRIMARY KEY,
			tenant_id  uuid NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
			action     text NOT NULL,
			actor      text NOT NULL DEFAULT '',
			details    jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS tenant_audit_log_tenant_idx ON tenant_audit_log (tenant_id, created_at DESC)`,
		},
	},
	{
		Name: "platform_admins",
		Create: `CREATE TABLE IF NOT EXISTS platform_admins (
			id            uuid PRIMARY KEY,
			email         text NOT NULL UNIQUE,
			password_hash text NOT NULL,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`,
	},
}

const (
	queryTableExists = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`

	queryColumnExists = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`

	queryAdminCount = `SELECT count(*) FROM platform_admins`

	insertAdmin = `
		INSERT INTO platform_admins (id, email, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING`
)
