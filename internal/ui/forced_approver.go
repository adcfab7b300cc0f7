package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ForcedApprover approves after a countdown the operator can interrupt with
// Ctrl+C. Used with --force.
type ForcedApprover struct {
	verbose bool
	output  io.Writer
	sleepFn func(time.Duration)
}

// NewForcedApprover writes to stderr and sleeps for real.
func NewForcedApprover(verbose bool) pgtenant.Approver {
	return &ForcedApprover{verbose: verbose, output: os.Stderr, sleepFn: time.Sleep}
}

// RequestApproval counts down and approves unless ctx is cancelled first.
func (a *ForcedApprover) RequestApproval(ctx context.Context, target string) (bool, error) {
	fmt.Fprintln(a.output)
	fmt.Fprintln(a.output, dangerBox(target))
	fmt.Fprintln(a.output)

	seconds := int(pgtenant.DefaultForceApprovalCountdown.Seconds())
	for i := seconds; i > 0; i-- {
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.output)
			return false, ctx.Err()
		default:
			fmt.Fprintf(a.output, "\rDeleting in: %d seconds... (Press Ctrl+C to cancel)", i)
			a.sleepFn(time.Second)
		}
	}

	fmt.Fprintf(a.output, "\r✓ Proceeding with deletion of %s...                              \n", target)
	return true, nil
}

var _ pgtenant.Approver = (*ForcedApprover)(nil)
