package registry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/bootstrap"
	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/internal/registry"
	"github.com/vvka-141/pgtenant/internal/testinfra"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func newStore(t *testing.T) *registry.Store {
	t.Helper()
	conn := testinfra.RequireDatabase(t)
	pool, _ := testinfra.ScratchDatabase(t, conn)

	rep := bootstrap.New(pool, logging.NewNullLogger(), bootstrap.WithOutput(&bytes.Buffer{})).Migrate(context.Background())
	require.False(t, rep.Degraded(), "failures: %v", rep.Failures)
	return registry.New(pool)
}

func newTenant(slug string) *pgtenant.Tenant {
	db := "tenant_" + slug
	return &pgtenant.Tenant{
		Slug:                slug,
		Name:                "Tenant " + slug,
		DatabaseName:        db,
		DatabaseUser:        db + "_user",
		Status:              pgtenant.StatusPending,
		Plan:                "pro",
		MaxUsers:            25,
		MaxProjects:         100,
		AdminEmail:          "admin@" + slug + ".test",
		Settings:            json.RawMessage(`{"theme":"dark"}`),
		RequiredGroupIDs:    []string{"g1", "g2"},
		GroupMembershipMode: pgtenant.GroupMembershipAll,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	in := newTenant("acme")
	require.NoError(t, s.Create(ctx, in))
	require.NotEqual(t, uuid.Nil, in.ID)

	got, creds, err := s.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, creds)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, "tenant_acme_user", got.DatabaseUser)
	assert.Equal(t, pgtenant.StatusPending, got.Status)
	assert.Equal(t, []string{"g1", "g2"}, got.RequiredGroupIDs)
	assert.Equal(t, pgtenant.GroupMembershipAll, got.GroupMembershipMode)
	assert.JSONEq(t, `{"theme":"dark"}`, string(got.Settings))
	assert.Nil(t, got.OrganizationID)
}

func TestStore_GetBySlug_NotFound(t *testing.T) {
	s := newStore(t)
	_, _, err := s.GetBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, pgtenant.ErrNotFound)
}

func TestStore_Create_DuplicateIsConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTenant("acme")))

	dup := newTenant("acme")
	err := s.Create(ctx, dup)
	assert.ErrorIs(t, err, pgtenant.ErrConflict)
}

func TestStore_CredentialsAndSnapshots(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acme, globex := newTenant("acme"), newTenant("globex")
	require.NoError(t, s.Create(ctx, acme))
	require.NoError(t, s.Create(ctx, globex))

	require.NoError(t, s.SaveCredentials(ctx, pgtenant.Credentials{TenantID: acme.ID, EncryptedPassword: "v1"}))
	require.NoError(t, s.SaveCredentials(ctx, pgtenant.Credentials{TenantID: acme.ID, EncryptedPassword: "v2"}))
	require.NoError(t, s.UpdateStatus(ctx, acme.ID, pgtenant.StatusActive))

	_, creds, err := s.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "v2", creds.EncryptedPassword)

	active, err := s.Snapshots(ctx, pgtenant.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "acme", active[0].Slug)
	assert.True(t, active[0].HasCredentials)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_DeleteCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	acme := newTenant("acme")
	require.NoError(t, s.Create(ctx, acme))
	require.NoError(t, s.SaveCredentials(ctx, pgtenant.Credentials{TenantID: acme.ID, EncryptedPassword: "x"}))
	require.NoError(t, s.AppendAudit(ctx, pgtenant.AuditLogEntry{TenantID: acme.ID, Action: "tenant.created", Actor: "test"}))

	entries, err := s.AuditLog(ctx, acme.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{}`, string(entries[0].Details))

	require.NoError(t, s.Delete(ctx, acme.ID))
	assert.ErrorIs(t, s.Delete(ctx, acme.ID), pgtenant.ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, acme.ID, pgtenant.StatusActive), pgtenant.ErrNotFound)

	entries, err = s.AuditLog(ctx, acme.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
