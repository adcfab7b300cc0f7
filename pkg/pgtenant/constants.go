package pgtenant

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess         = 0  // Command completed successfully
	ExitGeneralError    = 1  // Unknown or unclassified error
	ExitUsageError      = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic           = 3  // Internal panic (unexpected crash)
	ExitConfigError     = 10 // Invalid configuration or parameters
	ExitConnectionError = 11 // Failed to connect to a database
	ExitApprovalDenied  = 12 // Operator denied a destructive operation
	ExitValidationError = 13 // Malformed slug or identifier
	ExitNotFound        = 14 // Tenant or credentials not found
	ExitConflict        = 15 // Duplicate, illegal transition or status gate
	ExitDecryptionError = 16 // Stored credential could not be decrypted
)

const (
	// DefaultCacheTTL is how long a resolved tenant snapshot is served without
	// touching the registry.
	DefaultCacheTTL = 60 * time.Second

	// DefaultPoolIdleTimeout is how long a tenant pool may stay unused before eviction.
	DefaultPoolIdleTimeout = 30 * time.Minute

	// DefaultEvictionInterval is the period of the idle-eviction loop.
	DefaultEvictionInterval = 1 * time.Minute

	// DefaultTenantMaxConns caps connections per tenant pool.
	DefaultTenantMaxConns = 5

	// DefaultRetryInitialDelay is the default initial delay before the first retry attempt.
	DefaultRetryInitialDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay is the default maximum delay between retry attempts.
	DefaultRetryMaxDelay = 5 * time.Second

	// DefaultRetryMaxAttempts is the default maximum number of retry attempts.
	DefaultRetryMaxAttempts = 3

	// DefaultManagementDB is the default database to connect to for server-level operations.
	DefaultManagementDB = "postgres"

	// DefaultBootstrapAdminEmail is used when no bootstrap admin email is configured.
	DefaultBootstrapAdminEmail = "admin@localhost"

	// DefaultForceApprovalCountdown is how long --force waits before a destructive operation.
	DefaultForceApprovalCountdown = 5 * time.Second

	// GeneratedPasswordBytes is the entropy of generated database and admin passwords.
	GeneratedPasswordBytes = 24
)
