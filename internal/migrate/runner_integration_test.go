package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/internal/migrate"
	"github.com/vvka-141/pgtenant/internal/testinfra"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

type staticSource []pgtenant.Snapshot

func (s staticSource) Snapshots(context.Context, ...pgtenant.Status) ([]pgtenant.Snapshot, error) {
	return s, nil
}

type noDecrypt struct{}

func (noDecrypt) Decrypt(string) (string, error) { return "", pgtenant.ErrDecryption }

func TestRunner_AdminRoleAgainstPostgres(t *testing.T) {
	adminConn := testinfra.RequireDatabase(t)
	ctx := context.Background()

	pool, _ := testinfra.ScratchDatabase(t, adminConn)
	var database string
	require.NoError(t, pool.QueryRow(ctx, "SELECT current_database()").Scan(&database))

	admin, err := db.ParseConnectionString(adminConn)
	require.NoError(t, err)
	source := staticSource{{Slug: "acme", DatabaseName: database, Status: pgtenant.StatusActive}}
	runner := migrate.NewRunner(source, noDecrypt{}, admin,
		func(string, string, string) *pgtenant.ConnectionConfig { return nil },
		logging.NewNullLogger())

	results, err := runner.Run(ctx, `
		CREATE TABLE migrated (id int PRIMARY KEY);
		INSERT INTO migrated VALUES (1), (2);
	`, migrate.Options{UseAdminRole: true})
	require.NoError(t, err)
	require.NoError(t, migrate.Err(results))

	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM migrated").Scan(&n))
	assert.Equal(t, 2, n)

	t.Run("failed script rolls back", func(t *testing.T) {
		results, err := runner.Run(ctx, `
			CREATE TABLE half_done (id int);
			SELECT * FROM no_such_table;
		`, migrate.Options{UseAdminRole: true})
		require.NoError(t, err)
		require.Len(t, migrate.Failed(results), 1)

		var exists bool
		require.NoError(t, pool.QueryRow(ctx, "SELECT to_regclass('half_done') IS NOT NULL").Scan(&exists))
		assert.False(t, exists)
	})
}
