package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const banner = `pgtenant - per-tenant PostgreSQL databases`

var rootCmd = &cobra.Command{
	Use:   "pgtenant",
	Short: "Provision, route and migrate per-tenant PostgreSQL databases",
	Long: banner + `

pgtenant keeps a registry of tenants, gives each tenant its own PostgreSQL
database and login role, stores the role password encrypted, and serves
tenant-scoped connection pools behind an HTTP API.

Configuration is read from pgtenant.yaml (or --config), a .env file next to
it, and PGTENANT_* environment variables, in increasing priority.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Database connection failed
  12 - Operator denied a destructive operation
  13 - Invalid slug or identifier
  14 - Tenant or credentials not found
  15 - Conflict (duplicate tenant, illegal status change, tenant not active)
  16 - Stored credential could not be decrypted`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to pgtenant.yaml (default: ./pgtenant.yaml if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for all commands")
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}

func getConfigFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
