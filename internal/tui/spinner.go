package tui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type spinnerDoneMsg struct{ err error }

type spinnerModel struct {
	spinner spinner.Model
	message string
	done    bool
	err     error
}

func newSpinnerModel(message string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return spinnerModel{spinner: s, message: message}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinnerDoneMsg:
		m.done, m.err = true, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if !m.done {
		return m.spinner.View() + " " + m.message + "\n"
	}
	if m.err != nil {
		return ErrorStyle.Render(SymbolCross+" "+m.message) + "\n"
	}
	return SuccessStyle.Render(SymbolCheck+" "+m.message) + "\n"
}

// RunWithSpinner runs fn while showing message. Outside interactive
// terminals it prints the message once and runs fn directly.
func RunWithSpinner(ctx context.Context, out io.Writer, message string, fn func(ctx context.Context) error) error {
	if !IsInteractive() {
		fmt.Fprintln(out, message+"...")
		return fn(ctx)
	}

	p := tea.NewProgram(newSpinnerModel(message), tea.WithOutput(out), tea.WithContext(ctx))
	result := make(chan error, 1)
	go func() {
		err := fn(ctx)
		result <- err
		p.Send(spinnerDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		// The program was interrupted; still wait for fn so no work is orphaned.
		return <-result
	}
	return <-result
}
