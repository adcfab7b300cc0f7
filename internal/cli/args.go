package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RequireSlug validates that exactly one <slug> argument is provided.
// Returns a helpful error message with usage and examples if missing or too many.
func RequireSlug(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`missing required argument: <slug>

Usage: %s

Example:
  %s acme

Use 'pgtenant tenant list' to see existing tenants.`, cmd.UseLine(), cmd.CommandPath())
	}
	if len(args) > 1 {
		return fmt.Errorf("accepts 1 arg(s), received %d", len(args))
	}
	return nil
}

// RequireSlugAndStatus validates the <slug> <status> pair of 'tenant status'.
func RequireSlugAndStatus(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf(`missing required argument(s): <slug> <status>

Usage: %s

Example:
  %s acme suspended

Statuses: active, suspended, archived`, cmd.UseLine(), cmd.CommandPath())
	}
	if len(args) > 2 {
		return fmt.Errorf("accepts 2 arg(s), received %d", len(args))
	}
	return nil
}

// RequireScript validates the <script.sql> argument of 'migrate'.
func RequireScript(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`missing required argument: <script.sql>

Usage: %s

Example:
  %s ./migrations/0042_add_phone.sql --dry-run`, cmd.UseLine(), cmd.CommandPath())
	}
	if len(args) > 1 {
		return fmt.Errorf("accepts 1 arg(s), received %d", len(args))
	}
	return nil
}
