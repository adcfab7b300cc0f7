package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtenant/internal/cipher"
	"github.com/vvka-141/pgtenant/internal/config"
	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/internal/db/manager"
	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/internal/metrics"
	"github.com/vvka-141/pgtenant/internal/pool"
	"github.com/vvka-141/pgtenant/internal/provisioner"
	"github.com/vvka-141/pgtenant/internal/registry"
	"github.com/vvka-141/pgtenant/internal/resolver"
	"github.com/vvka-141/pgtenant/internal/tenant"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// loadConfig reads .env, the config file and the environment, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := getConfigFlag(cmd)
	if err := config.LoadDotEnv(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliLogger is the console logger used by every command except serve.
func cliLogger(cmd *cobra.Command) pgtenant.Logger {
	return logging.NewConsoleLogger(getVerboseFlag(cmd))
}

// app is the fully wired object graph shared by serve and the tenant commands.
type app struct {
	cfg         *config.Config
	logger      pgtenant.Logger
	db          *pgxpool.Pool
	registry    *registry.Store
	cipher      *cipher.Cipher
	admin       *pgtenant.ConnectionConfig
	provisioner *provisioner.Provisioner
	pools       *pool.Manager
	resolver    *resolver.Resolver
	metrics     *metrics.Metrics
	tenants     *tenant.Service
}

func connectRegistry(ctx context.Context, cfg *config.Config, logger pgtenant.Logger) (*pgxpool.Pool, error) {
	conn, err := cfg.RegistryConnection()
	if err != nil {
		return nil, err
	}
	connector, err := db.NewConnector(conn, db.WithLogger(logger), db.WithPoolSettings(cfg.RegistryPoolSettings()))
	if err != nil {
		return nil, err
	}
	logger.Verbose("Connecting to registry %s", db.Redact(conn))
	pool, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry: %w", err)
	}
	return pool, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger pgtenant.Logger) (*app, error) {
	c, err := cipher.FromConfig(cfg.Encryption.Key, cfg.Encryption.Secret)
	if err != nil {
		return nil, err
	}
	admin, err := cfg.AdminConnection()
	if err != nil {
		return nil, err
	}
	registryPool, err := connectRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       registryPool,
		registry: registry.New(registryPool),
		cipher:   c,
		admin:    admin,
		metrics:  metrics.New(),
	}
	tenantConfig := func(database, user, password string) *pgtenant.ConnectionConfig {
		return cfg.TenantConnection(admin, database, user, password)
	}

	a.provisioner = provisioner.New(admin, tenantConfig, manager.New(), logger)

	settings := db.PoolSettings{
		MaxConns:        cfg.Pool.MaxConns,
		MaxConnIdleTime: cfg.Pool.IdleTimeout.Std(),
	}
	a.pools = pool.New(c, pool.PgxFactory(tenantConfig, settings, logger), logger,
		pool.WithIdleTimeout(cfg.Pool.IdleTimeout.Std()),
		pool.WithEvictionInterval(cfg.Pool.EvictionInterval.Std()),
		pool.WithObserver(a.metrics))
	a.metrics.RegisterPoolStats(a.pools.Stats)

	a.resolver = resolver.New(a.registry, a.pools,
		resolver.WithTTL(cfg.Cache.TTL.Std()),
		resolver.WithObserver(a.metrics))
	a.tenants = tenant.NewService(a.registry, a.provisioner, c, a.pools, a.resolver, logger,
		tenant.WithObserver(a.metrics))
	return a, nil
}

// openApp loads configuration and wires the app for a command.
func openApp(cmd *cobra.Command, logger pgtenant.Logger) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger)
}

// Close disposes every tenant pool, then the registry pool.
func (a *app) Close(ctx context.Context) {
	if err := a.pools.CloseAll(ctx); err != nil {
		a.logger.Warn("Closing tenant pools: %v", err)
	}
	a.db.Close()
}
