package db

import (
	"context"
	"fmt"
	"net"
	"sync"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// GoogleCloudSQLConnector dials Cloud SQL through the Go connector with IAM
// database authentication. Close releases the dialer after the pool is closed.
type GoogleCloudSQLConnector struct {
	config *pgtenant.ConnectionConfig
	opts   connectorOptions

	mu     sync.Mutex
	dialer *cloudsqlconn.Dialer
}

var _ pgtenant.Connector = (*GoogleCloudSQLConnector)(nil)

// NewGoogleCloudSQLConnector creates a connector for config.GoogleInstance
// ("project:region:instance").
func NewGoogleCloudSQLConnector(config *pgtenant.ConnectionConfig, opts ...ConnectorOption) *GoogleCloudSQLConnector {
	return &GoogleCloudSQLConnector{config: config, opts: newConnectorOptions(opts)}
}

func (c *GoogleCloudSQLConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud sql dialer: %w", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", c.config.GoogleInstance, c.config.Username, c.config.Database)
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	instance := c.config.GoogleInstance
	poolConfig.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.Dial(ctx, instance)
	}
	c.opts.pool.apply(poolConfig, c.opts.logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err == nil {
		err = c.opts.retry.Execute(ctx, pool.Ping)
		if err != nil {
			pool.Close()
		}
	}
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("cloud sql instance %s: %w: %w", instance, pgtenant.ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.dialer = dialer
	c.mu.Unlock()
	return pool, nil
}

// Close releases the dialer.
func (c *GoogleCloudSQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialer != nil {
		err := c.dialer.Close()
		c.dialer = nil
		return err
	}
	return nil
}
