package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgreSQLErrorClassifier_PgErrors(t *testing.T) {
	c := NewPostgreSQLErrorClassifier()

	tests := []struct {
		code string
		want bool
	}{
		{"08006", true},  // connection_failure
		{"08001", true},  // sqlclient_unable_to_establish_sqlconnection
		{"53300", true},  // too_many_connections
		{"57P01", true},  // admin_shutdown
		{"57P03", true},  // cannot_connect_now
		{"40001", true},  // serialization_failure
		{"40P01", true},  // deadlock_detected
		{"55P03", true},  // lock_not_available
		{"28P01", false}, // invalid_password
		{"3D000", false}, // invalid_catalog_name
		{"42P07", false}, // duplicate_table
		{"42601", false}, // syntax_error
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.want, c.IsTransient(err))
		})
	}
}

func TestPostgreSQLErrorClassifier_NetworkErrors(t *testing.T) {
	c := NewPostgreSQLErrorClassifier()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	assert.True(t, c.IsTransient(refused))
	assert.True(t, c.IsTransient(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH}))
	assert.True(t, c.IsTransient(&net.DNSError{Err: "temporary failure", Name: "db", IsTemporary: true}))
	assert.False(t, c.IsTransient(&net.DNSError{Err: "server misbehaving", Name: "db"}))
}

func TestPostgreSQLErrorClassifier_Messages(t *testing.T) {
	c := NewPostgreSQLErrorClassifier()

	assert.True(t, c.IsTransient(errors.New("dial tcp 127.0.0.1:5432: Connection Refused")))
	assert.True(t, c.IsTransient(errors.New("FATAL: the database system is starting up")))
	assert.False(t, c.IsTransient(errors.New("password authentication failed for user \"tenant_acme_user\"")))
	assert.False(t, c.IsTransient(nil))
	assert.False(t, c.IsTransient(context.Canceled))
}
