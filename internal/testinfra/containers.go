// Package testinfra provides a PostgreSQL server for integration tests:
// either the one named by PGTENANT_TEST_CONN or a testcontainers instance
// shared by every test in the package binary.
package testinfra

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresImage    = "postgres:17-alpine"
	PostgresUser     = "postgres"
	PostgresPassword = "postgres"
	PostgresDB       = "postgres"

	// ConnEnvVar points tests at an existing superuser connection instead of Docker.
	ConnEnvVar = "PGTENANT_TEST_CONN"
)

type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnString string
}

// StartPostgres runs a disposable PostgreSQL server.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	ctr, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get connection string: %w", err)
	}
	return &PostgresContainer{PostgresContainer: ctr, ConnString: connStr}, nil
}

var (
	containerOnce sync.Once
	containerConn string
	containerErr  error
)

// RequireDatabase returns a superuser connection string to the maintenance
// database, skipping the test in -short mode or when no server is available.
func RequireDatabase(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if conn := os.Getenv(ConnEnvVar); conn != "" {
		return conn
	}

	containerOnce.Do(func() {
		ctr, err := StartPostgres(context.Background())
		if err != nil {
			containerErr = err
			return
		}
		containerConn = ctr.ConnString
	})
	if containerErr != nil {
		t.Skipf("%s not set and Docker unavailable: %v", ConnEnvVar, containerErr)
	}
	return containerConn
}

// ScratchDatabase creates an empty database for one test and drops it on
// cleanup. It returns a pool connected to it and its connection string.
func ScratchDatabase(t *testing.T, adminConn string) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, adminConn)
	if err != nil {
		t.Fatalf("connect admin: %v", err)
	}
	t.Cleanup(admin.Close)

	name := "scratch_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		t.Fatalf("create scratch database: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(adminConn)
	if err != nil {
		t.Fatalf("parse admin conn: %v", err)
	}
	cfg.ConnConfig.Database = name
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect scratch database: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)") //nolint:errcheck
	})
	return pool, ReplaceDatabase(adminConn, name)
}

// ReplaceDatabase swaps the database path of a postgres:// URI.
func ReplaceDatabase(connString, database string) string {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return connString
	}
	c := cfg.ConnConfig
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
