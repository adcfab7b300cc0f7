package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtenant/internal/tenant"
	"github.com/vvka-141/pgtenant/internal/tui"
	"github.com/vvka-141/pgtenant/internal/ui"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants and their databases",
	Long: `Create, provision, suspend and delete tenants.

Every mutating command appends an entry to the tenant's audit log. The
actor recorded there is --actor, or $USER when the flag is not given.`,
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Register a new tenant in pending status",
	Example: `  pgtenant tenant create acme --name "Acme Corp" --admin-email ops@acme.test
  pgtenant tenant create acme --name "Acme Corp" --admin-email ops@acme.test --provision`,
	Args: RequireSlug,
	RunE: runTenantCreate,
}

var tenantProvisionCmd = &cobra.Command{
	Use:   "provision <slug>",
	Short: "Create the tenant database, role and schema",
	Long: `Creates the tenant's database and login role, applies the tenant schema,
creates the first admin user and activates the tenant.

The generated admin password is printed exactly once.`,
	Args: RequireSlug,
	RunE: runTenantProvision,
}

var tenantStatusCmd = &cobra.Command{
	Use:   "status <slug> <status>",
	Short: "Change a tenant's status",
	Long: `Moves a tenant between active, suspended and archived.

Suspending or archiving a tenant closes its connection pool immediately.
Archived tenants cannot be reactivated.`,
	Args: RequireSlugAndStatus,
	RunE: runTenantStatus,
}

var tenantRotateCmd = &cobra.Command{
	Use:   "rotate <slug>",
	Short: "Rotate the tenant database role password",
	Args:  RequireSlug,
	RunE:  runTenantRotate,
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Remove a suspended or archived tenant",
	Long: `Removes the tenant from the registry. With --delete-database the tenant
database and role are dropped as well, which requires confirmation unless
--force is given.`,
	Args: RequireSlug,
	RunE: runTenantDelete,
}

var tenantCheckCmd = &cobra.Command{
	Use:   "check <slug>",
	Short: "Report the health of a tenant database",
	Args:  RequireSlug,
	RunE:  runTenantCheck,
}

var tenantResetCmd = &cobra.Command{
	Use:   "reset-password <slug>",
	Short: "Reset the password of a tenant admin user",
	Args:  RequireSlug,
	RunE:  runTenantReset,
}

var tenantListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tenants",
	Args:    cobra.NoArgs,
	RunE:    runTenantList,
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show one tenant",
	Args:  RequireSlug,
	RunE:  runTenantShow,
}

var tenantAuditCmd = &cobra.Command{
	Use:   "audit <slug>",
	Short: "Show the audit log of a tenant, newest first",
	Args:  RequireSlug,
	RunE:  runTenantAudit,
}

type tenantCreateFlags struct {
	name        string
	adminEmail  string
	company     string
	plan        string
	maxUsers    int
	maxProjects int
	settings    string
	org         string
	groups      []string
	groupMode   string
	provision   bool
}

var (
	tenantActor   string
	tenantJSON    bool
	createFlags   tenantCreateFlags
	provisionPass string
	deleteFlags   struct {
		database bool
		force    bool
	}
	resetFlags struct {
		email    string
		password string
		anyAdmin bool
	}
	listStatuses []string
	auditLimit   int
)

func init() {
	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantCreateCmd, tenantProvisionCmd, tenantStatusCmd, tenantRotateCmd,
		tenantDeleteCmd, tenantCheckCmd, tenantResetCmd, tenantListCmd, tenantShowCmd, tenantAuditCmd)

	tenantCmd.PersistentFlags().StringVar(&tenantActor, "actor", "", "Actor recorded in the audit log (default $USER)")
	tenantCmd.PersistentFlags().BoolVar(&tenantJSON, "json", false, "Print machine-readable JSON")

	f := tenantCreateCmd.Flags()
	f.StringVar(&createFlags.name, "name", "", "Display name (required)")
	f.StringVar(&createFlags.adminEmail, "admin-email", "", "Email of the first tenant admin (required)")
	f.StringVar(&createFlags.company, "company", "", "Company name")
	f.StringVar(&createFlags.plan, "plan", "", "Plan (default "+tenant.DefaultPlan+")")
	f.IntVar(&createFlags.maxUsers, "max-users", 0, fmt.Sprintf("User limit (default %d)", tenant.DefaultMaxUsers))
	f.IntVar(&createFlags.maxProjects, "max-projects", 0, fmt.Sprintf("Project limit (default %d)", tenant.DefaultMaxProjects))
	f.StringVar(&createFlags.settings, "settings", "", "Tenant settings as a JSON object")
	f.StringVar(&createFlags.org, "org", "", "Identity provider organization id")
	f.StringSliceVar(&createFlags.groups, "group", nil, "Required identity group id (repeatable)")
	f.StringVar(&createFlags.groupMode, "group-mode", "", "Group membership mode: any or all")
	f.BoolVar(&createFlags.provision, "provision", false, "Provision the database right after creation")
	tenantCreateCmd.MarkFlagRequired("name")        //nolint:errcheck
	tenantCreateCmd.MarkFlagRequired("admin-email") //nolint:errcheck

	tenantProvisionCmd.Flags().StringVar(&provisionPass, "admin-password", "", "Admin password (generated when empty)")

	tenantDeleteCmd.Flags().BoolVar(&deleteFlags.database, "delete-database", false, "Also drop the tenant database and role")
	tenantDeleteCmd.Flags().BoolVar(&deleteFlags.force, "force", false, "Skip the confirmation prompt")

	tenantResetCmd.Flags().StringVar(&resetFlags.email, "email", "", "Admin email (default: the tenant's admin email)")
	tenantResetCmd.Flags().StringVar(&resetFlags.password, "password", "", "New password (generated when empty)")
	tenantResetCmd.Flags().BoolVar(&resetFlags.anyAdmin, "any-admin", false, "Fall back to any admin user when the email does not match")

	tenantListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable or comma separated)")
	tenantAuditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of entries")
}

func actor() string {
	if tenantActor != "" {
		return tenantActor
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// withApp opens the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd, cliLogger(cmd))
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())
	return fn(a)
}

func buildCreateRequest(slug string, f tenantCreateFlags) (tenant.CreateRequest, error) {
	req := tenant.CreateRequest{
		Slug:                strings.ToLower(slug),
		Name:                f.name,
		AdminEmail:          f.adminEmail,
		CompanyName:         f.company,
		Plan:                f.plan,
		MaxUsers:            f.maxUsers,
		MaxProjects:         f.maxProjects,
		RequiredGroupIDs:    f.groups,
		GroupMembershipMode: pgtenant.GroupMembershipMode(f.groupMode),
	}
	if f.settings != "" {
		if !json.Valid([]byte(f.settings)) {
			return req, fmt.Errorf("--settings is not valid JSON: %w", pgtenant.ErrValidation)
		}
		req.Settings = json.RawMessage(f.settings)
	}
	if f.org != "" {
		org := f.org
		req.OrganizationID = &org
	}
	return req, nil
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	req, err := buildCreateRequest(args[0], createFlags)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		snap, err := a.tenants.Create(cmd.Context(), req, actor())
		if err != nil {
			return err
		}
		a.logger.Info("✓ Created tenant %q (database %s)", snap.Slug, snap.DatabaseName)
		if !createFlags.provision {
			return printSnapshot(cmd, snap)
		}
		return provision(cmd, a, snap.Slug, "")
	})
}

func runTenantProvision(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		return provision(cmd, a, args[0], provisionPass)
	})
}

func provision(cmd *cobra.Command, a *app, slug, adminPassword string) error {
	var res *pgtenant.ProvisionResult
	err := tui.RunWithSpinner(cmd.Context(), cmd.ErrOrStderr(), fmt.Sprintf("Provisioning tenant %q", slug),
		func(ctx context.Context) error {
			var err error
			res, err = a.tenants.Provision(ctx, slug, actor(), adminPassword)
			return err
		})
	if err != nil {
		return err
	}
	if tenantJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.CredentialBox("Tenant admin credentials", []tui.Field{
		{Label: "Database", Value: res.DatabaseName},
		{Label: "Role", Value: res.DatabaseUser},
		{Label: "Email", Value: res.AdminEmail},
		{Label: "Password", Value: res.AdminPassword},
	}, "This password is shown once. Store it now."))
	return nil
}

func runTenantStatus(cmd *cobra.Command, args []string) error {
	next := pgtenant.Status(strings.ToLower(args[1]))
	return withApp(cmd, func(a *app) error {
		snap, err := a.tenants.UpdateStatus(cmd.Context(), args[0], next, actor())
		if err != nil {
			return err
		}
		a.logger.Info("✓ Tenant %q is now %s", snap.Slug, snap.Status)
		return nil
	})
}

func runTenantRotate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		if err := a.tenants.RotateCredentials(cmd.Context(), args[0], actor()); err != nil {
			return err
		}
		a.logger.Info("✓ Rotated database credentials of tenant %q", args[0])
		return nil
	})
}

func runTenantDelete(cmd *cobra.Command, args []string) error {
	slug := args[0]
	return withApp(cmd, func(a *app) error {
		if deleteFlags.database {
			snap, err := a.tenants.Get(cmd.Context(), slug)
			if err != nil {
				return err
			}
			approver := ui.NewApprover(deleteFlags.force, getVerboseFlag(cmd))
			approved, err := approver.RequestApproval(cmd.Context(), snap.Slug)
			if err != nil {
				return err
			}
			if !approved {
				return fmt.Errorf("dropping database %q: %w", snap.DatabaseName, pgtenant.ErrApprovalDenied)
			}
		}
		if err := a.tenants.Delete(cmd.Context(), slug, deleteFlags.database, actor()); err != nil {
			return err
		}
		a.logger.Info("✓ Deleted tenant %q", slug)
		return nil
	})
}

func runTenantCheck(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		report := a.tenants.Check(cmd.Context(), args[0])
		if tenantJSON {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			fmt.Fprint(cmd.OutOrStdout(), healthDetails(report))
		}
		if !report.Accessible {
			return fmt.Errorf("tenant %q database is not accessible: %w", args[0], pgtenant.ErrConnectionFailed)
		}
		return nil
	})
}

func runTenantReset(cmd *cobra.Command, args []string) error {
	opts := tenant.ResetOptions{
		AdminEmail:    resetFlags.email,
		NewPassword:   resetFlags.password,
		AllowFallback: resetFlags.anyAdmin,
	}
	return withApp(cmd, func(a *app) error {
		res, err := a.tenants.ResetAdminPassword(cmd.Context(), args[0], opts, actor())
		if err != nil {
			return err
		}
		if tenantJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.CredentialBox("Tenant admin password reset", []tui.Field{
			{Label: "Email", Value: res.AdminEmail},
			{Label: "Password", Value: res.NewPassword},
		}, "This password is shown once. Store it now."))
		return nil
	})
}

func parseStatuses(values []string) ([]pgtenant.Status, error) {
	var out []pgtenant.Status
	for _, v := range values {
		s := pgtenant.Status(strings.ToLower(strings.TrimSpace(v)))
		if !s.IsValid() {
			return nil, fmt.Errorf("unknown status %q: %w", v, pgtenant.ErrValidation)
		}
		out = append(out, s)
	}
	return out, nil
}

func runTenantList(cmd *cobra.Command, _ []string) error {
	statuses, err := parseStatuses(listStatuses)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		snaps, err := a.tenants.List(cmd.Context(), statuses...)
		if err != nil {
			return err
		}
		if tenantJSON {
			return printJSON(cmd.OutOrStdout(), snaps)
		}
		if len(snaps) == 0 {
			a.logger.Info("No tenants found")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), tenantTable(snaps))
		return nil
	})
}

func runTenantShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		snap, err := a.tenants.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printSnapshot(cmd, snap)
	})
}

func printSnapshot(cmd *cobra.Command, snap pgtenant.Snapshot) error {
	if tenantJSON {
		return printJSON(cmd.OutOrStdout(), snap)
	}
	fmt.Fprint(cmd.OutOrStdout(), snapshotDetails(snap))
	return nil
}

func runTenantAudit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		entries, err := a.tenants.AuditLog(cmd.Context(), args[0], auditLimit)
		if err != nil {
			return err
		}
		if tenantJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-22s %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
			if len(e.Details) > 0 {
				line += "  " + tui.LabelStyle.Render(string(e.Details))
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	})
}
