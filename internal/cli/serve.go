package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtenant/internal/bootstrap"
	"github.com/vvka-141/pgtenant/internal/httpapi"
	"github.com/vvka-141/pgtenant/internal/logging"
)

var serveFlags struct {
	addr          string
	skipBootstrap bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the tenant-routing HTTP API.

On start the registry schema is brought up to date and a bootstrap admin is
created if none exists. Migration failures are logged and the server starts
in degraded mode; an unreachable registry is fatal.

Routes:
  GET  /healthz                 registry connectivity
  GET  /metrics                 Prometheus metrics
  /admin/tenants/...            tenant lifecycle
  GET  /t/whoami                tenant-scoped sample route (X-Tenant-Slug or subdomain)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().BoolVar(&serveFlags.skipBootstrap, "skip-bootstrap", false, "Do not migrate the registry schema on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	env := cfg.Log.Env
	level := cfg.Log.Level
	if getVerboseFlag(cmd) {
		level = "debug"
	}
	logger := logging.NewZapLogger(env, level, "pgtenant")
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
		defer cancel()
		a.Close(closeCtx)
	}()

	if !serveFlags.skipBootstrap {
		b := bootstrap.New(a.db, logger,
			bootstrap.WithAdminEmail(cfg.Bootstrap.AdminEmail),
			bootstrap.WithOutput(os.Stderr))
		res, err := b.Run(ctx)
		if err != nil {
			return err
		}
		if res.Schema.Degraded() {
			logger.Warn("Starting in degraded mode: %d registry migration(s) failed", len(res.Schema.Failures))
		}
	}

	api := httpapi.New(a.tenants, a.resolver, a.pools, a.registry, logger,
		httpapi.WithMetrics(a.metrics.Handler(), a.metrics.Middleware))

	addr := cfg.HTTP.Addr
	if serveFlags.addr != "" {
		addr = serveFlags.addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
