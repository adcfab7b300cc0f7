package pool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// Engine is a live connection pool for one tenant database.
type Engine interface {
	Ping(ctx context.Context) error
	TotalConns() int32
	Close()
}

// EngineFactory creates an engine for snap using the decrypted role password.
// It must not wait for the server; the manager probes the engine itself.
type EngineFactory func(ctx context.Context, snap pgtenant.Snapshot, password string) (Engine, error)

// TenantConfigFunc builds the connection config for a tenant database.
type TenantConfigFunc func(database, user, password string) *pgtenant.ConnectionConfig

// PgxEngine is the production Engine.
type PgxEngine struct {
	*pgxpool.Pool
}

func (e PgxEngine) TotalConns() int32 {
	return e.Stat().TotalConns()
}

// PgxFactory creates pgx pools sized by settings.
func PgxFactory(tenantConfig TenantConfigFunc, settings db.PoolSettings, logger pgtenant.Logger) EngineFactory {
	return func(ctx context.Context, snap pgtenant.Snapshot, password string) (Engine, error) {
		cfg := tenantConfig(snap.DatabaseName, snap.DatabaseUser, password)
		p, err := db.NewPool(ctx, cfg, settings, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for tenant %q: %w", snap.Slug, err)
		}
		return PgxEngine{Pool: p}, nil
	}
}

// PgxPool returns the pgx pool behind e, if any.
func PgxPool(e Engine) (*pgxpool.Pool, bool) {
	pe, ok := e.(PgxEngine)
	if !ok {
		return nil, false
	}
	return pe.Pool, true
}
