package migrate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

type fakeSource struct {
	snaps []pgtenant.Snapshot
	err   error
	asked []pgtenant.Status
}

func (s *fakeSource) Snapshots(_ context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error) {
	s.asked = statuses
	return s.snaps, s.err
}

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(s string) (string, error) {
	if s == "tampered" {
		return "", pgtenant.ErrDecryption
	}
	return s, nil
}

type fakeSession struct {
	cfg    *pgtenant.ConnectionConfig
	execs  *[]string
	mu     *sync.Mutex
	closed *atomic.Int32
	failOn string
}

func (s *fakeSession) ExecInTx(_ context.Context, script string) error {
	if s.cfg.Database == s.failOn {
		return errors.New("relation does not exist")
	}
	s.mu.Lock()
	*s.execs = append(*s.execs, s.cfg.Database+"/"+s.cfg.Username)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close() { s.closed.Add(1) }

type harness struct {
	source *fakeSource
	runner *Runner
	build  func(opts ...Option) *Runner
	execs  []string
	opened atomic.Int32
	closed atomic.Int32
	failOn string
}

func newHarness(snaps ...pgtenant.Snapshot) *harness {
	h := &harness{source: &fakeSource{snaps: snaps}}
	var mu sync.Mutex
	opener := func(_ context.Context, cfg *pgtenant.ConnectionConfig) (Session, error) {
		h.opened.Add(1)
		if cfg.Database == "tenant_offline" {
			return nil, pgtenant.ErrConnectionFailed
		}
		return &fakeSession{cfg: cfg, execs: &h.execs, mu: &mu, closed: &h.closed, failOn: h.failOn}, nil
	}
	admin := &pgtenant.ConnectionConfig{Host: "db", Port: 5432, Database: "postgres", Username: "postgres"}
	tenantConfig := func(database, user, pw string) *pgtenant.ConnectionConfig {
		return &pgtenant.ConnectionConfig{Host: "db", Port: 5432, Database: database, Username: user, Password: pw}
	}
	h.build = func(opts ...Option) *Runner {
		return NewRunner(h.source, plainDecrypter{}, admin, tenantConfig, logging.NewNullLogger(), append(opts, WithOpener(opener))...)
	}
	h.runner = h.build()
	return h
}

func snap(slug string) pgtenant.Snapshot {
	return pgtenant.Snapshot{
		Slug:              slug,
		DatabaseName:      "tenant_" + slug,
		DatabaseUser:      "tenant_" + slug + "_user",
		Status:            pgtenant.StatusActive,
		HasCredentials:    true,
		EncryptedPassword: "pw-" + slug,
	}
}

func TestRun_TenantCredentials(t *testing.T) {
	h := newHarness(snap("beta"), snap("acme"))

	results, err := h.runner.Run(context.Background(), "ALTER TABLE users ADD COLUMN IF NOT EXISTS phone text", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "acme", results[0].Slug)
	assert.Equal(t, "beta", results[1].Slug)
	assert.NoError(t, Err(results))
	assert.ElementsMatch(t, []string{"tenant_acme/tenant_acme_user", "tenant_beta/tenant_beta_user"}, h.execs)
	assert.Equal(t, []pgtenant.Status{pgtenant.StatusActive}, h.source.asked)
	assert.Equal(t, int32(2), h.closed.Load())
}

func TestRun_AdminRole(t *testing.T) {
	h := newHarness(snap("acme"))

	results, err := h.runner.Run(context.Background(), "SELECT 1", Options{UseAdminRole: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"tenant_acme/postgres"}, h.execs)
}

func TestRun_FailureIsIsolated(t *testing.T) {
	broken := snap("broken")
	broken.EncryptedPassword = "tampered"
	missing := snap("missing")
	missing.HasCredentials = false
	h := newHarness(snap("acme"), broken, missing, snap("offline"), snap("zeta"))
	h.failOn = "tenant_zeta"

	results, err := h.runner.Run(context.Background(), "SELECT 1", Options{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, results, 5)

	failed := Failed(results)
	require.Len(t, failed, 4)
	byslug := map[string]error{}
	for _, res := range failed {
		byslug[res.Slug] = res.Err
	}
	assert.ErrorIs(t, byslug["broken"], pgtenant.ErrDecryption)
	assert.ErrorIs(t, byslug["missing"], pgtenant.ErrNotFound)
	assert.ErrorIs(t, byslug["offline"], pgtenant.ErrConnectionFailed)
	assert.ErrorContains(t, byslug["zeta"], "relation does not exist")
	assert.Equal(t, []string{"tenant_acme/tenant_acme_user"}, h.execs)

	joined := Err(results)
	require.Error(t, joined)
	assert.ErrorIs(t, joined, pgtenant.ErrDecryption)
	assert.Contains(t, joined.Error(), `tenant "zeta"`)
}

func TestRun_DryRunDoesNotConnect(t *testing.T) {
	h := newHarness(snap("acme"), snap("beta"))

	results, err := h.runner.Run(context.Background(), "SELECT 1", Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Skipped)
		assert.NoError(t, res.Err)
	}
	assert.Zero(t, h.opened.Load())
}

func TestRun_ListingFailure(t *testing.T) {
	h := newHarness()
	h.source.err = pgtenant.ErrConnectionFailed

	_, err := h.runner.Run(context.Background(), "SELECT 1", Options{})
	assert.ErrorIs(t, err, pgtenant.ErrConnectionFailed)
}

func TestRun_EmptyScript(t *testing.T) {
	h := newHarness(snap("acme"))

	for _, script := range []string{"", "  \n-- nothing yet\n/* todo */\n"} {
		_, err := h.runner.Run(context.Background(), script, Options{})
		assert.ErrorIs(t, err, pgtenant.ErrValidation)
	}
	assert.Zero(t, h.opened.Load())
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []pgtenant.AuditLogEntry
	err     error
}

func (a *recordingAuditor) AppendAudit(_ context.Context, e pgtenant.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return a.err
}

func TestRun_AuditsMigratedTenants(t *testing.T) {
	h := newHarness(snap("acme"), snap("broken"))
	h.failOn = "tenant_broken"
	auditor := &recordingAuditor{}
	runner := h.build(WithAuditor(auditor, "ops"))

	script := "CREATE INDEX ON users (email)"
	results, err := runner.Run(context.Background(), script, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Checksum(script), results[0].Checksum)

	require.Len(t, auditor.entries, 1, "only the successful tenant is audited")
	e := auditor.entries[0]
	assert.Equal(t, ActionMigrationApplied, e.Action)
	assert.Equal(t, "ops", e.Actor)
	assert.JSONEq(t, `{"checksum":"`+Checksum(script)+`","admin_role":false}`, string(e.Details))
}

func TestRun_AuditFailureDoesNotFailTenant(t *testing.T) {
	h := newHarness(snap("acme"))
	runner := h.build(WithAuditor(&recordingAuditor{err: errors.New("registry down")}, "ops"))

	results, err := runner.Run(context.Background(), "SELECT 1", Options{})
	require.NoError(t, err)
	assert.NoError(t, Err(results))
}

func TestRun_AuditEncodingFailureStillRecordsEntry(t *testing.T) {
	orig := marshalDetails
	marshalDetails = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }
	t.Cleanup(func() { marshalDetails = orig })

	h := newHarness(snap("acme"))
	auditor := &recordingAuditor{}
	runner := h.build(WithAuditor(auditor, "ops"))

	results, err := runner.Run(context.Background(), "SELECT 1", Options{})
	require.NoError(t, err)
	assert.NoError(t, Err(results))
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, ActionMigrationApplied, auditor.entries[0].Action)
	assert.Nil(t, auditor.entries[0].Details)
}

func TestNewRunner_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		NewRunner(nil, plainDecrypter{}, &pgtenant.ConnectionConfig{}, nil, logging.NewNullLogger())
	})
}
