package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/internal/retry"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// PoolSettings sizes a pgx pool.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// DefaultPoolSettings fits the administrative and registry pools.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:        10,
		MinConns:        1,
		MaxConnIdleTime: pgtenant.DefaultPoolIdleTimeout,
	}
}

func (s PoolSettings) apply(cfg *pgxpool.Config, logger pgtenant.Logger) {
	if s.MaxConns > 0 {
		cfg.MaxConns = s.MaxConns
	}
	if s.MinConns >= 0 && s.MinConns <= cfg.MaxConns {
		cfg.MinConns = s.MinConns
	}
	if s.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = s.MaxConnIdleTime
	}
	cfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Verbose("postgres %s: %s", notice.Severity, notice.Message)
	}
}

// ConnectorOption configures connectors built by this package.
type ConnectorOption func(*connectorOptions)

type connectorOptions struct {
	pool   PoolSettings
	logger pgtenant.Logger
	retry  *retry.Executor
}

// WithPoolSettings overrides the pool sizing.
func WithPoolSettings(s PoolSettings) ConnectorOption {
	return func(o *connectorOptions) { o.pool = s }
}

// WithLogger routes server notices and retry attempts to logger.
func WithLogger(logger pgtenant.Logger) ConnectorOption {
	return func(o *connectorOptions) { o.logger = logger }
}

// WithRetryExecutor replaces the default connect retry policy.
func WithRetryExecutor(e *retry.Executor) ConnectorOption {
	return func(o *connectorOptions) { o.retry = e }
}

func newConnectorOptions(opts []ConnectorOption) connectorOptions {
	o := connectorOptions{pool: DefaultPoolSettings(), logger: logging.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retry == nil {
		o.retry = retry.Default(o.logger, "connect")
	}
	return o
}

// StandardConnector connects with a username and password (or client
// certificate) and retries transient failures.
type StandardConnector struct {
	config *pgtenant.ConnectionConfig
	opts   connectorOptions
}

var _ pgtenant.Connector = (*StandardConnector)(nil)

// NewStandardConnector creates a password/certificate connector.
func NewStandardConnector(config *pgtenant.ConnectionConfig, opts ...ConnectorOption) *StandardConnector {
	return &StandardConnector{config: config, opts: newConnectorOptions(opts)}
}

// Connect opens and pings a pool.
func (c *StandardConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	return retry.Value(ctx, c.opts.retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		return OpenPool(ctx, c.config, c.opts.pool, c.opts.logger)
	})
}

// NewPool parses config and creates a pool without contacting the server.
func NewPool(ctx context.Context, config *pgtenant.ConnectionConfig, settings PoolSettings, logger pgtenant.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(BuildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	settings.apply(poolConfig, logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, wrapConnectionError(err, config)
	}
	return pool, nil
}

// OpenPool is NewPool followed by a ping. The pool is closed again when the
// ping fails, so callers never receive an unusable pool.
func OpenPool(ctx context.Context, config *pgtenant.ConnectionConfig, settings PoolSettings, logger pgtenant.Logger) (*pgxpool.Pool, error) {
	pool, err := NewPool(ctx, config, settings, logger)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapConnectionError(err, config)
	}
	return pool, nil
}

// NewConnector picks the connector implementation for config.AuthMethod.
func NewConnector(config *pgtenant.ConnectionConfig, opts ...ConnectorOption) (pgtenant.Connector, error) {
	switch config.AuthMethod {
	case pgtenant.AuthMethodStandard, pgtenant.AuthMethodCertificate:
		return NewStandardConnector(config, opts...), nil
	case pgtenant.AuthMethodAWSIAM:
		provider, err := NewAWSIAMTokenProvider(fmt.Sprintf("%s:%d", config.Host, config.Port), config.AWSRegion, config.Username)
		if err != nil {
			return nil, err
		}
		return NewTokenBasedConnector(config, provider, opts...), nil
	case pgtenant.AuthMethodAzureEntraID:
		provider, err := newAzureTokenProvider(config)
		if err != nil {
			return nil, err
		}
		return NewTokenBasedConnector(config, provider, opts...), nil
	case pgtenant.AuthMethodGoogleIAM:
		if config.GoogleInstance == "" || config.Username == "" {
			return nil, fmt.Errorf("google cloud sql iam auth requires an instance connection name and username: %w", pgtenant.ErrInvalidConfig)
		}
		return NewGoogleCloudSQLConnector(config, opts...), nil
	default:
		return nil, fmt.Errorf("auth method %v: %w", config.AuthMethod, pgtenant.ErrUnsupportedAuthMethod)
	}
}

// wrapConnectionError classifies a pgx connect error, adds a hint and marks it
// with ErrConnectionFailed. Authentication and missing-database failures are
// not network problems but still prevent a pool from being built.
func wrapConnectionError(err error, config *pgtenant.ConnectionConfig) error {
	msg := strings.ToLower(err.Error())
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	var hint string
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused"):
		hint = fmt.Sprintf("connection refused to %s (is PostgreSQL running?)", addr)
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "no host"):
		hint = fmt.Sprintf("cannot resolve host %q", config.Host)
	case strings.Contains(msg, "password authentication failed"):
		hint = fmt.Sprintf("password authentication failed for role %q on database %q", config.Username, config.Database)
	case strings.Contains(msg, "does not exist"):
		hint = fmt.Sprintf("database %q or role %q does not exist", config.Database, config.Username)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		hint = fmt.Sprintf("connection timed out to %s", addr)
	case strings.Contains(msg, "too many connections"):
		hint = fmt.Sprintf("too many connections to database %q", config.Database)
	case strings.Contains(msg, "ssl") || strings.Contains(msg, "tls"):
		hint = fmt.Sprintf("ssl negotiation with %s failed (sslmode=%s)", addr, config.SSLMode)
	default:
		hint = fmt.Sprintf("failed to connect to %s/%s", addr, config.Database)
	}
	return fmt.Errorf("%s: %w: %w", hint, pgtenant.ErrConnectionFailed, err)
}
