package pgtenant

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connector establishes the administrative and registry connection pools.
// Implementations handle the authentication method (password, certificate,
// cloud IAM tokens).
type Connector interface {
	// Connect establishes a connection pool to the database.
	// The returned pool should be closed by the caller when done.
	Connect(ctx context.Context) (*pgxpool.Pool, error)
}
