package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtenant/internal/migrate"
	"github.com/vvka-141/pgtenant/internal/tui"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <script.sql>",
	Short: "Apply a SQL script to every active tenant database",
	Long: `Runs the script in its own transaction against each active tenant database.

A failing tenant is rolled back and reported; the remaining tenants are
still migrated. The command exits non-zero when any tenant failed. Each migrated tenant gets
an audit entry carrying the script checksum.

By default the script runs as each tenant's own role, so every object it
creates is owned by that role. Use --admin-role for changes that need
superuser privileges.`,
	Example: `  pgtenant migrate ./migrations/0042_add_phone.sql
  pgtenant migrate ./migrations/0043_extension.sql --admin-role --concurrency 2`,
	Args: RequireScript,
	RunE: runMigrate,
}

type migrateFlags struct {
	adminRole   bool
	concurrency int
	dryRun      bool
}

var migrateFlagValues migrateFlags

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateFlagValues.adminRole, "admin-role", false, "Connect with the administrative role instead of tenant credentials")
	migrateCmd.Flags().IntVar(&migrateFlagValues.concurrency, "concurrency", migrate.DefaultConcurrency, "Number of tenant databases migrated at once")
	migrateCmd.Flags().BoolVar(&migrateFlagValues.dryRun, "dry-run", false, "List target tenants without connecting")
	migrateCmd.Flags().StringVar(&tenantActor, "actor", "", "Actor recorded in the audit log (default $USER)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	script, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", args[0], err)
	}

	return withApp(cmd, func(a *app) error {
		tenantConfig := func(database, user, password string) *pgtenant.ConnectionConfig {
			return a.cfg.TenantConnection(a.admin, database, user, password)
		}
		runner := migrate.NewRunner(a.registry, a.cipher, a.admin, tenantConfig, a.logger,
			migrate.WithAuditor(a.registry, actor()))
		results, err := runner.Run(cmd.Context(), string(script), migrate.Options{
			UseAdminRole: migrateFlagValues.adminRole,
			Concurrency:  migrateFlagValues.concurrency,
			DryRun:       migrateFlagValues.dryRun,
		})
		if err != nil {
			return err
		}
		printMigrateResults(cmd, results)
		return migrate.Err(results)
	})
}

func printMigrateResults(cmd *cobra.Command, results []migrate.Result) {
	out := cmd.OutOrStdout()
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "  - %-24s %s (dry run)\n", r.Slug, r.Database)
		case r.Err != nil:
			fmt.Fprintf(out, "  %s %-24s %s\n", tui.ErrorStyle.Render(tui.SymbolCross), r.Slug, r.Err)
		default:
			fmt.Fprintf(out, "  %s %-24s %s\n", tui.SuccessStyle.Render(tui.SymbolCheck), r.Slug, r.Duration.Round(1e6))
		}
	}
	failed := len(migrate.Failed(results))
	fmt.Fprintf(out, "\n%d tenant(s), %d succeeded, %d failed\n", len(results), len(results)-failed, failed)
	if len(results) > 0 {
		fmt.Fprintln(out, tui.LabelStyle.Render("checksum "+results[0].Checksum))
	}
}
