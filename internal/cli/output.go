package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vvka-141/pgtenant/internal/tui"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusStyle(s pgtenant.Status) lipgloss.Style {
	switch s {
	case pgtenant.StatusActive:
		return tui.SuccessStyle
	case pgtenant.StatusSuspended:
		return lipgloss.NewStyle().Foreground(tui.ColorWarning)
	case pgtenant.StatusArchived:
		return tui.ErrorStyle
	default:
		return tui.LabelStyle
	}
}

// tenantTable renders snapshots one row per tenant.
func tenantTable(snaps []pgtenant.Snapshot) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tui.LabelStyle).
		Headers("SLUG", "NAME", "STATUS", "PLAN", "DATABASE", "CREDENTIALS", "CREATED")
	for _, s := range snaps {
		creds := tui.SymbolCross
		if s.HasCredentials {
			creds = tui.SymbolCheck
		}
		t.Row(s.Slug, s.Name, statusStyle(s.Status).Render(string(s.Status)), s.Plan, s.DatabaseName,
			creds, s.CreatedAt.Format("2006-01-02"))
	}
	return t.Render()
}

// snapshotDetails renders one tenant as labelled lines.
func snapshotDetails(s pgtenant.Snapshot) string {
	fields := []tui.Field{
		{Label: "Slug", Value: s.Slug},
		{Label: "Name", Value: s.Name},
		{Label: "Status", Value: statusStyle(s.Status).Render(string(s.Status))},
		{Label: "Database", Value: s.DatabaseName},
		{Label: "Role", Value: s.DatabaseUser},
		{Label: "Plan", Value: s.Plan},
		{Label: "Limits", Value: fmt.Sprintf("%d users, %d projects", s.MaxUsers, s.MaxProjects)},
		{Label: "Admin", Value: s.AdminEmail},
		{Label: "Credentials", Value: strconv.FormatBool(s.HasCredentials)},
	}
	if s.CompanyName != "" {
		fields = append(fields, tui.Field{Label: "Company", Value: s.CompanyName})
	}
	if len(s.RequiredGroupIDs) > 0 {
		fields = append(fields, tui.Field{
			Label: "Groups",
			Value: fmt.Sprintf("%s (%s)", strings.Join(s.RequiredGroupIDs, ", "), s.GroupMembershipMode),
		})
	}
	return fieldLines(fields)
}

func healthDetails(r pgtenant.HealthReport) string {
	fields := []tui.Field{
		{Label: "Exists", Value: strconv.FormatBool(r.Exists)},
		{Label: "Accessible", Value: strconv.FormatBool(r.Accessible)},
	}
	if r.Accessible {
		fields = append(fields,
			tui.Field{Label: "Tables", Value: strings.Join(r.Tables, ", ")},
			tui.Field{Label: "Users", Value: strconv.Itoa(r.UserCount)},
			tui.Field{Label: "Projects", Value: strconv.Itoa(r.ProjectCount)})
	}
	if r.Error != "" {
		fields = append(fields, tui.Field{Label: "Error", Value: tui.ErrorStyle.Render(r.Error)})
	}
	return fieldLines(fields)
}

func fieldLines(fields []tui.Field) string {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(tui.LabelStyle.Render(fmt.Sprintf("%-*s", width+1, f.Label+":")))
		b.WriteString(" ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	return b.String()
}
