// Package tui holds the terminal presentation used by the pgtenant CLI:
// interactive-mode detection, a spinner for long operations and styled boxes
// for one-time credentials.
package tui

import (
	"os"

	"golang.org/x/term"
)

// Mode is the interaction mode of the current process.
type Mode int

const (
	ModeNonInteractive Mode = iota
	ModeInteractive
)

// DetectMode returns ModeNonInteractive when PGTENANT_NON_INTERACTIVE=1, CI
// or NO_COLOR is set, or when stdin or stdout is not a terminal.
func DetectMode() Mode {
	return detectMode(os.Getenv, func() bool {
		return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	})
}

func detectMode(getenv func(string) string, isTerminal func() bool) Mode {
	if getenv("PGTENANT_NON_INTERACTIVE") == "1" || getenv("CI") != "" || getenv("NO_COLOR") != "" {
		return ModeNonInteractive
	}
	if !isTerminal() {
		return ModeNonInteractive
	}
	return ModeInteractive
}

// IsInteractive reports whether DetectMode returns ModeInteractive.
func IsInteractive() bool {
	return DetectMode() == ModeInteractive
}
