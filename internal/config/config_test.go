package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const validKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AllSections(t *testing.T) {
	path := writeConfig(t, `registry:
  url: postgres://app:pw@registry:5432/master
  max_conns: 20
  min_conns: 2
admin:
  host: pg-admin
  port: 5433
  username: postgres
  maintenance_database: template1
  auth_method: standard
tenant_db:
  host: pg-tenants
  sslmode: require
  connect_timeout: 3s
encryption:
  secret: s3cr3t
pool:
  max_conns: 8
  idle_timeout: 10m
  eviction_interval: 30s
cache:
  ttl: 15s
http:
  addr: ":9090"
log:
  level: debug
  env: dev
bootstrap:
  admin_email: ops@example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://app:pw@registry:5432/master", cfg.Registry.URL)
	assert.Equal(t, int32(20), cfg.Registry.MaxConns)
	assert.Equal(t, "pg-admin", cfg.Admin.Host)
	assert.Equal(t, "template1", cfg.Admin.MaintenanceDatabase)
	assert.Equal(t, 3*time.Second, cfg.TenantDB.ConnectTimeout.Std())
	assert.Equal(t, int32(8), cfg.Pool.MaxConns)
	assert.Equal(t, 10*time.Minute, cfg.Pool.IdleTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Pool.EvictionInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.Cache.TTL.Std())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "dev", cfg.Log.Env)
	assert.Equal(t, "ops@example.com", cfg.Bootstrap.AdminEmail)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsWhenImplicitFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, pgtenant.DefaultCacheTTL, cfg.Cache.TTL.Std())
	assert.Equal(t, pgtenant.DefaultPoolIdleTimeout, cfg.Pool.IdleTimeout.Std())
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, ErrConfigNotFound), "got %v", err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "{{invalid"))
	assert.ErrorIs(t, err, pgtenant.ErrInvalidConfig)

	_, err = Load(writeConfig(t, "cache:\n  ttl: soon\n"))
	assert.ErrorIs(t, err, pgtenant.ErrInvalidConfig)
}

func TestApplyEnv_Overrides(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":            "postgres://fallback/db",
		"PGTENANT_REGISTRY_URL":   "postgres://preferred/db",
		"PGTENANT_ENCRYPTION_KEY": validKey,
		"PGTENANT_HTTP_ADDR":      ":7000",
		"PGTENANT_LOG_LEVEL":      "warn",
		"PGTENANT_CACHE_TTL":      "5s",
		"PGTENANT_POOL_MAX_CONNS": "3",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "postgres://preferred/db", cfg.Registry.URL)
	assert.Equal(t, validKey, cfg.Encryption.Key)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL.Std())
	assert.Equal(t, int32(3), cfg.Pool.MaxConns)
}

func TestApplyEnv_DatabaseURLFallback(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(func(k string) string {
		if k == "DATABASE_URL" {
			return "postgres://fallback/db"
		}
		return ""
	})
	assert.Equal(t, "postgres://fallback/db", cfg.Registry.URL)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Encryption.Key = "short"
	cfg.Admin.AuthMethod = "kerberos"
	cfg.Cache.TTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, pgtenant.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "registry.url is required")
	assert.Contains(t, err.Error(), "64 hex characters")
	assert.Contains(t, err.Error(), `"kerberos"`)
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestValidate_RequiresKeyMaterial(t *testing.T) {
	cfg := Default()
	cfg.Registry.URL = "postgres://r/db"
	assert.ErrorIs(t, cfg.Validate(), pgtenant.ErrInvalidConfig)

	cfg.Encryption.Secret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFileName), []byte("PGTENANT_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("PGTENANT_TEST_DOTENV", "")
	os.Unsetenv("PGTENANT_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, ConfigFileName)))
	assert.Equal(t, "from-file", os.Getenv("PGTENANT_TEST_DOTENV"))
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ConfigFileName)))
}
