package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// PoolAdapter exposes a *pgxpool.Pool as a pgtenant.DBConnection so the
// database manager never depends on pgx pool types directly.
type PoolAdapter struct {
	pool *pgxpool.Pool
}

var _ pgtenant.DBConnection = (*PoolAdapter)(nil)

// NewPoolAdapter wraps pool.
func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

func (p *PoolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

func (p *PoolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgtenant.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *PoolAdapter) Acquire(ctx context.Context) (pgtenant.PooledConnection, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pooledConn{conn: conn}, nil
}

type pooledConn struct {
	conn *pgxpool.Conn
}

func (p *pooledConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.conn.Exec(ctx, sql, args...)
}

func (p *pooledConn) Release() {
	p.conn.Release()
}
