package pgtenant_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to pgtenant.Status
		want     bool
	}{
		{pgtenant.StatusPending, pgtenant.StatusActive, true},
		{pgtenant.StatusPending, pgtenant.StatusSuspended, false},
		{pgtenant.StatusActive, pgtenant.StatusSuspended, true},
		{pgtenant.StatusActive, pgtenant.StatusArchived, true},
		{pgtenant.StatusActive, pgtenant.StatusPending, false},
		{pgtenant.StatusSuspended, pgtenant.StatusArchived, true},
		{pgtenant.StatusSuspended, pgtenant.StatusActive, true},
		{pgtenant.StatusArchived, pgtenant.StatusActive, false},
		{pgtenant.StatusArchived, pgtenant.StatusSuspended, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, pgtenant.StatusActive.IsValid())
	assert.False(t, pgtenant.Status("deleted").IsValid())
	assert.False(t, pgtenant.Status("").IsValid())
}

func TestNewSnapshot_SharesNoMemory(t *testing.T) {
	org := "org-1"
	tenant := &pgtenant.Tenant{
		ID:                  uuid.New(),
		Slug:                "acme",
		DatabaseName:        "tenant_acme",
		DatabaseUser:        "tenant_acme_user",
		Status:              pgtenant.StatusActive,
		Settings:            json.RawMessage(`{"theme":"dark"}`),
		OrganizationID:      &org,
		RequiredGroupIDs:    []string{"g1", "g2"},
		GroupMembershipMode: pgtenant.GroupMembershipAny,
	}
	creds := &pgtenant.Credentials{TenantID: tenant.ID, EncryptedPassword: "aa:bb:cc"}

	snap := pgtenant.NewSnapshot(tenant, creds)
	tenant.RequiredGroupIDs[0] = "mutated"
	tenant.Settings[2] = 'X'
	org = "org-2"

	assert.Equal(t, []string{"g1", "g2"}, snap.RequiredGroupIDs)
	assert.JSONEq(t, `{"theme":"dark"}`, string(snap.Settings))
	assert.Equal(t, "org-1", snap.OrganizationID)
	assert.True(t, snap.HasCredentials)
	assert.Equal(t, "aa:bb:cc", snap.EncryptedPassword)
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	snap := pgtenant.NewSnapshot(&pgtenant.Tenant{Slug: "acme", RequiredGroupIDs: []string{"g1"}}, nil)
	clone := snap.Clone()
	clone.RequiredGroupIDs[0] = "changed"

	assert.Equal(t, "g1", snap.RequiredGroupIDs[0])
	assert.False(t, snap.HasCredentials)
}

func TestSnapshot_JSONOmitsEncryptedPassword(t *testing.T) {
	snap := pgtenant.NewSnapshot(&pgtenant.Tenant{Slug: "acme"}, &pgtenant.Credentials{EncryptedPassword: "secret"})
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestParseAuthMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    pgtenant.AuthMethod
		wantErr bool
	}{
		{"", pgtenant.AuthMethodStandard, false},
		{"standard", pgtenant.AuthMethodStandard, false},
		{"aws", pgtenant.AuthMethodAWSIAM, false},
		{"google", pgtenant.AuthMethodGoogleIAM, false},
		{"azure", pgtenant.AuthMethodAzureEntraID, false},
		{"kerberos", pgtenant.AuthMethodStandard, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := pgtenant.ParseAuthMethod(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, pgtenant.ErrUnsupportedAuthMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectionConfig_WithDatabaseCopies(t *testing.T) {
	base := &pgtenant.ConnectionConfig{Host: "db", Database: "postgres", AdditionalParams: map[string]string{"a": "1"}}
	other := base.WithDatabase("tenant_acme")
	other.AdditionalParams["a"] = "2"

	assert.Equal(t, "postgres", base.Database)
	assert.Equal(t, "tenant_acme", other.Database)
	assert.Equal(t, "1", base.AdditionalParams["a"])
}
