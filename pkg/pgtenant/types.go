package pgtenant

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// IsValid returns true if the status is one of the defined lifecycle states.
func (s Status) IsValid() bool {
	return slices.Contains([]Status{StatusPending, StatusActive, StatusSuspended, StatusArchived}, s)
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
//
//	pending   -> active     (provisioning only)
//	active    -> suspended | archived
//	suspended -> active | archived
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive
	case StatusActive:
		return next == StatusSuspended || next == StatusArchived
	case StatusSuspended:
		return next == StatusActive || next == StatusArchived
	default:
		return false
	}
}

// GroupMembershipMode controls how RequiredGroupIDs are evaluated.
type GroupMembershipMode string

const (
	GroupMembershipAny GroupMembershipMode = "any"
	GroupMembershipAll GroupMembershipMode = "all"
)

// IsValid returns true if the mode is "any" or "all".
func (m GroupMembershipMode) IsValid() bool {
	return m == GroupMembershipAny || m == GroupMembershipAll
}

// Tenant is a row of the registry tenants table.
// DatabaseName and DatabaseUser are globally unique and never change after creation.
type Tenant struct {
	ID                  uuid.UUID
	Slug                string
	Name                string
	DatabaseName        string
	DatabaseUser        string
	Status              Status
	Plan                string
	MaxUsers            int
	MaxProjects         int
	AdminEmail          string
	CompanyName         string
	Settings            json.RawMessage
	OrganizationID      *string
	RequiredGroupIDs    []string
	GroupMembershipMode GroupMembershipMode
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credentials holds the encrypted database password of a tenant.
// The plaintext password is never persisted.
type Credentials struct {
	TenantID          uuid.UUID
	EncryptedPassword string
	PasswordUpdatedAt time.Time
}

// AuditLogEntry is an append-only record of a tenant mutation.
type AuditLogEntry struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Snapshot is an immutable plain-data projection of a tenant and its credentials.
// It is safe to cache and to hand across goroutines; use Clone before exposing
// a cached value to a caller.
type Snapshot struct {
	ID                  uuid.UUID           `json:"id"`
	Slug                string              `json:"slug"`
	Name                string              `json:"name"`
	DatabaseName        string              `json:"database_name"`
	DatabaseUser        string              `json:"database_user"`
	Status              Status              `json:"status"`
	Plan                string              `json:"plan"`
	MaxUsers            int                 `json:"max_users"`
	MaxProjects         int                 `json:"max_projects"`
	AdminEmail          string              `json:"admin_email"`
	CompanyName         string              `json:"company_name"`
	Settings            json.RawMessage     `json:"settings,omitempty"`
	OrganizationID      string              `json:"organization_id,omitempty"`
	RequiredGroupIDs    []string            `json:"required_group_ids"`
	GroupMembershipMode GroupMembershipMode `json:"group_membership_mode"`
	HasCredentials      bool                `json:"has_credentials"`
	EncryptedPassword   string              `json:"-"`
	PasswordUpdatedAt   time.Time           `json:"password_updated_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewSnapshot projects a tenant row and its optional credentials into a Snapshot.
// Slices and raw JSON are copied so the snapshot shares no memory with t.
func NewSnapshot(t *Tenant, creds *Credentials) Snapshot {
	s := Snapshot{
		ID:                  t.ID,
		Slug:                t.Slug,
		Name:                t.Name,
		DatabaseName:        t.DatabaseName,
		DatabaseUser:        t.DatabaseUser,
		Status:              t.Status,
		Plan:                t.Plan,
		MaxUsers:            t.MaxUsers,
		MaxProjects:         t.MaxProjects,
		AdminEmail:          t.AdminEmail,
		CompanyName:         t.CompanyName,
		Settings:            slices.Clone(t.Settings),
		RequiredGroupIDs:    slices.Clone(t.RequiredGroupIDs),
		GroupMembershipMode: t.GroupMembershipMode,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if t.OrganizationID != nil {
		s.OrganizationID = *t.OrganizationID
	}
	if creds != nil {
		s.HasCredentials = true
		s.EncryptedPassword = creds.EncryptedPassword
		s.PasswordUpdatedAt = creds.PasswordUpdatedAt
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	s.Settings = slices.Clone(s.Settings)
	s.RequiredGroupIDs = slices.Clone(s.RequiredGroupIDs)
	return s
}

// ProvisionRequest carries everything needed to create a tenant database.
// DatabasePassword and AdminPassword are plaintext and only live in memory.
type ProvisionRequest struct {
	TenantID         uuid.UUID
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	AdminEmail       string
	AdminPassword    string // generated when empty
}

// ProvisionResult is returned by a successful provisioning run.
type ProvisionResult struct {
	DatabaseName  string `json:"database_name"`
	DatabaseUser  string `json:"database_user"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// HealthReport describes the state of a tenant database.
// Failures are captured in Error rather than returned.
type HealthReport struct {
	Exists       bool     `json:"exists"`
	Accessible   bool     `json:"accessible"`
	Tables       []string `json:"tables"`
	UserCount    int      `json:"user_count"`
	ProjectCount int      `json:"project_count"`
	Error        string   `json:"error,omitempty"`
}

// PasswordReset is the outcome of an admin password reset.
type PasswordReset struct {
	AdminEmail  string `json:"admin_email"`
	NewPassword string `json:"new_password"`
}

// PoolStats summarizes the live tenant pools of a process.
type PoolStats struct {
	ActivePools      int `json:"active_pools"`
	TotalConnections int `json:"total_connections"`
}

// ConnectionConfig represents parsed connection parameters.
type ConnectionConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string

	// AuthMethod indicates the authentication mechanism to use
	AuthMethod AuthMethod

	// Additional connection parameters
	AppName          string
	ConnectTimeout   time.Duration
	AdditionalParams map[string]string

	// Client certificate authentication
	SSLCert     string
	SSLKey      string
	SSLRootCert string

	// Cloud IAM parameters (used by the matching AuthMethod)
	AWSRegion         string
	GoogleInstance    string
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
}

// WithDatabase returns a copy of the config targeting another database.
func (c *ConnectionConfig) WithDatabase(database string) *ConnectionConfig {
	clone := *c
	clone.Database = database
	if c.AdditionalParams != nil {
		clone.AdditionalParams = make(map[string]string, len(c.AdditionalParams))
		for k, v := range c.AdditionalParams {
			clone.AdditionalParams[k] = v
		}
	}
	return &clone
}

// AuthMethod represents the type of authentication to use.
type AuthMethod int

const (
	AuthMethodStandard     AuthMethod = iota // Username/Password
	AuthMethodCertificate                    // mTLS
	AuthMethodAWSIAM                         // AWS IAM Database Authentication
	AuthMethodGoogleIAM                      // Google Cloud SQL IAM
	AuthMethodAzureEntraID                   // Azure Active Directory (Entra ID)
)

// String returns a human-readable string representation of the AuthMethod.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodStandard:
		return "Standard"
	case AuthMethodCertificate:
		return "Certificate"
	case AuthMethodAWSIAM:
		return "AWS IAM"
	case AuthMethodGoogleIAM:
		return "Google IAM"
	case AuthMethodAzureEntraID:
		return "Azure Entra ID"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// IsValid returns true if the AuthMethod is a valid, defined value.
func (a AuthMethod) IsValid() bool {
	return a >= AuthMethodStandard && a <= AuthMethodAzureEntraID
}

// ParseAuthMethod maps a configuration value to an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "", "standard", "password":
		return AuthMethodStandard, nil
	case "cert", "certificate":
		return AuthMethodCertificate, nil
	case "aws", "aws-iam":
		return AuthMethodAWSIAM, nil
	case "google", "google-iam":
		return AuthMethodGoogleIAM, nil
	case "azure", "azure-entra-id":
		return AuthMethodAzureEntraID, nil
	default:
		return AuthMethodStandard, fmt.Errorf("auth method %q: %w", s, ErrUnsupportedAuthMethod)
	}
}
