package pgtenant

import "context"

// Approver handles operator confirmation before destructive operations,
// such as deleting a tenant together with its database.
//
// Implementations:
//   - ForcedApprover: Shows countdown and automatically approves
//   - InteractiveApprover: Prompts the operator to type the tenant slug
type Approver interface {
	// RequestApproval asks for confirmation before target is destroyed.
	// Returns true if approved, false if denied.
	RequestApproval(ctx context.Context, target string) (bool, error)
}
