package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtenant/internal/bootstrap"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create or upgrade the registry schema and the bootstrap admin",
	Long: `Bring the registry schema up to date and make sure a platform admin exists.

Missing tables and columns are added with idempotent DDL; existing objects are
left alone. If no platform admin exists, one is created and its one-time
password is printed. Failed migrations are reported and make the command exit
non-zero, unlike serve which starts anyway.`,
	Args: cobra.NoArgs,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	logger := cliLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := connectRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	b := bootstrap.New(pool, logger,
		bootstrap.WithAdminEmail(cfg.Bootstrap.AdminEmail),
		bootstrap.WithOutput(os.Stderr))

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}

	s := res.Schema
	logger.Info("✓ Registry ready: %d table(s) created, %d column(s) added", len(s.CreatedTables), len(s.AddedColumns))
	if s.Degraded() {
		for _, f := range s.Failures {
			logger.Error("%s: %v", f.Object, f.Err)
		}
		return fmt.Errorf("%d registry migration(s) failed", len(s.Failures))
	}
	return nil
}
