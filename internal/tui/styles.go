package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPrimary   = lipgloss.Color("39")  // blue
	ColorSecondary = lipgloss.Color("245") // gray
	ColorSuccess   = lipgloss.Color("34")  // green
	ColorWarning   = lipgloss.Color("214") // orange
	ColorError     = lipgloss.Color("196") // red
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorWarning)

	LabelStyle = lipgloss.NewStyle().Foreground(ColorSecondary)

	ValueStyle = lipgloss.NewStyle().Bold(true)

	WarningBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorWarning).
			Padding(1, 2)

	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorPrimary)
)

const (
	SymbolCheck = "✓"
	SymbolCross = "✗"
)

// Field is one labelled line of a credential box.
type Field struct {
	Label string
	Value string
}

// CredentialBox renders secrets that are shown exactly once, such as a
// generated bootstrap or tenant admin password, followed by note.
func CredentialBox(title string, fields []Field, note string) string {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Label))
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")
	for _, f := range fields {
		label := f.Label + ":" + strings.Repeat(" ", width-lipgloss.Width(f.Label)+1)
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(ValueStyle.Render(f.Value))
		b.WriteString("\n")
	}
	if note != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render(note))
	}
	return WarningBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
