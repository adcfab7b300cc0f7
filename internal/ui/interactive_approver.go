package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vvka-141/pgtenant/internal/tui"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// InteractiveApprover asks the operator to type the target name.
type InteractiveApprover struct {
	verbose bool
	input   io.Reader
	output  io.Writer
}

// NewInteractiveApprover reads stdin and writes to stderr.
func NewInteractiveApprover(verbose bool) pgtenant.Approver {
	return &InteractiveApprover{verbose: verbose, input: os.Stdin, output: os.Stderr}
}

// RequestApproval approves only when the typed line equals target.
func (a *InteractiveApprover) RequestApproval(ctx context.Context, target string) (bool, error) {
	fmt.Fprintln(a.output)
	fmt.Fprintln(a.output, dangerBox(target))
	fmt.Fprintf(a.output, "\nTo confirm, type %q and press Enter: ", target)

	inputChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		reader := bufio.NewReader(a.input)
		input, err := reader.ReadString('\n')
		if err != nil {
			errChan <- err
			return
		}
		inputChan <- strings.TrimSpace(input)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errChan:
		return false, fmt.Errorf("failed to read input: %w", err)
	case input := <-inputChan:
		if input == target {
			fmt.Fprintln(a.output, tui.SuccessStyle.Render(tui.SymbolCheck+" Confirmed."))
			return true, nil
		}
		fmt.Fprintln(a.output, tui.ErrorStyle.Render(fmt.Sprintf("%s Input %q does not match %q. Operation cancelled.", tui.SymbolCross, input, target)))
		return false, nil
	}
}

var _ pgtenant.Approver = (*InteractiveApprover)(nil)

// dangerBox renders the warning shown before a tenant database is dropped.
func dangerBox(target string) string {
	body := tui.TitleStyle.Render("⚠  WARNING: DANGER") + "\n\n" +
		fmt.Sprintf("You are about to DELETE tenant %s\n", tui.ValueStyle.Render(target)) +
		"and DROP its database and role.\n" +
		"This will permanently delete all tenant data!"
	return tui.WarningBoxStyle.Render(body)
}

// NewApprover picks the approver for the current terminal. Without a
// terminal and without force there is nobody to ask, so the returned
// approver always denies.
func NewApprover(force, verbose bool) pgtenant.Approver {
	switch {
	case force:
		return NewForcedApprover(verbose)
	case tui.IsInteractive():
		return NewInteractiveApprover(verbose)
	default:
		return denyApprover{}
	}
}

type denyApprover struct{}

func (denyApprover) RequestApproval(context.Context, string) (bool, error) {
	return false, fmt.Errorf("refusing to delete without a terminal; pass --force: %w", pgtenant.ErrApprovalDenied)
}
