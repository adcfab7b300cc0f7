package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/retry"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func TestWrapConnectionError(t *testing.T) {
	cfg := &pgtenant.ConnectionConfig{Host: "pg", Port: 5432, Database: "tenant_acme", Username: "tenant_acme_user", SSLMode: "require"}

	tests := []struct {
		raw  string
		want string
	}{
		{"dial tcp 10.0.0.1:5432: connect: connection refused", "connection refused to pg:5432"},
		{"dial tcp: lookup pg: no such host", `cannot resolve host "pg"`},
		{`FATAL: password authentication failed for user "tenant_acme_user"`, `password authentication failed for role "tenant_acme_user"`},
		{`FATAL: database "tenant_acme" does not exist`, `database "tenant_acme" or role "tenant_acme_user" does not exist`},
		{"dial tcp: i/o timeout", "connection timed out to pg:5432"},
		{"FATAL: sorry, too many connections for role", `too many connections to database "tenant_acme"`},
		{"tls: handshake failure", "ssl negotiation with pg:5432 failed (sslmode=require)"},
		{"something odd", "failed to connect to pg:5432/tenant_acme"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			raw := errors.New(tt.raw)
			err := wrapConnectionError(raw, cfg)

			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, pgtenant.ErrConnectionFailed)
			assert.ErrorIs(t, err, raw)
		})
	}
}

func TestNewConnector_SelectsImplementation(t *testing.T) {
	std, err := NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodStandard})
	require.NoError(t, err)
	assert.IsType(t, &StandardConnector{}, std)

	cert, err := NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodCertificate})
	require.NoError(t, err)
	assert.IsType(t, &StandardConnector{}, cert)

	aws, err := NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodAWSIAM, Host: "rds", Port: 5432, AWSRegion: "eu-west-1", Username: "iam"})
	require.NoError(t, err)
	assert.IsType(t, &TokenBasedConnector{}, aws)

	google, err := NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodGoogleIAM, GoogleInstance: "p:r:i", Username: "sa@p.iam"})
	require.NoError(t, err)
	assert.IsType(t, &GoogleCloudSQLConnector{}, google)
}

func TestNewConnector_InvalidCloudConfig(t *testing.T) {
	_, err := NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodAWSIAM, Host: "rds", Port: 5432, Username: "iam"})
	assert.ErrorIs(t, err, pgtenant.ErrInvalidConfig)

	_, err = NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethodGoogleIAM})
	assert.ErrorIs(t, err, pgtenant.ErrInvalidConfig)

	_, err = NewConnector(&pgtenant.ConnectionConfig{AuthMethod: pgtenant.AuthMethod(99)})
	assert.ErrorIs(t, err, pgtenant.ErrUnsupportedAuthMethod)
}

type fakeTokenProvider struct {
	calls int
	err   error
}

func (f *fakeTokenProvider) GetToken(context.Context) (string, time.Time, error) {
	f.calls++
	return "", time.Time{}, f.err
}

func (f *fakeTokenProvider) String() string { return "fake" }

func TestTokenBasedConnector_TokenFailureIsNotRetried(t *testing.T) {
	provider := &fakeTokenProvider{err: errors.New("credentials expired")}
	exec := retry.NewExecutor(retry.NewPostgreSQLErrorClassifier(), retry.NewExponentialBackoff(3, retry.WithInitialDelay(time.Millisecond)))
	c := NewTokenBasedConnector(&pgtenant.ConnectionConfig{Host: "pg", Port: 5432}, provider, WithRetryExecutor(exec))

	pool, err := c.Connect(context.Background())

	assert.Nil(t, pool)
	assert.ErrorContains(t, err, "failed to acquire token from fake")
	assert.Equal(t, 1, provider.calls)
}

func TestDefaultPoolSettings(t *testing.T) {
	s := DefaultPoolSettings()
	assert.Equal(t, int32(10), s.MaxConns)
	assert.Equal(t, pgtenant.DefaultPoolIdleTimeout, s.MaxConnIdleTime)
}
