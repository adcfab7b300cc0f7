// Package config loads pgtenant.yaml, an optional .env file and PGTENANT_*
// environment overrides into a validated Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ErrConfigNotFound is returned when an explicitly requested config file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

const (
	ConfigFileName = "pgtenant.yaml"
	DotEnvFileName = ".env"

	DefaultHTTPAddr = ":8080"
)

// Duration accepts Go duration strings ("30m", "1h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type RegistryConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// AdminConfig is the server-level connection used to create and drop tenant
// roles and databases. When URL and Host are both empty the registry server
// is used.
type AdminConfig struct {
	URL                 string `yaml:"url"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Username            string `yaml:"username"`
	SSLMode             string `yaml:"sslmode"`
	SSLCert             string `yaml:"sslcert,omitempty"`
	SSLKey              string `yaml:"sslkey,omitempty"`
	SSLRootCert         string `yaml:"sslrootcert,omitempty"`
	MaintenanceDatabase string `yaml:"maintenance_database"`
	AuthMethod          string `yaml:"auth_method"`
	AWSRegion           string `yaml:"aws_region,omitempty"`
	GoogleInstance      string `yaml:"google_instance,omitempty"`
	AzureTenantID       string `yaml:"azure_tenant_id,omitempty"`
	AzureClientID       string `yaml:"azure_client_id,omitempty"`
}

// TenantDBConfig locates tenant databases. Empty fields fall back to the admin server.
type TenantDBConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	SSLMode        string   `yaml:"sslmode"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

type EncryptionConfig struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

type PoolConfig struct {
	MaxConns         int32    `yaml:"max_conns"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	EvictionInterval Duration `yaml:"eviction_interval"`
}

type CacheConfig struct {
	TTL Duration `yaml:"ttl"`
}

type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type BootstrapConfig struct {
	AdminEmail string `yaml:"admin_email"`
}

// Config is the complete process configuration.
type Config struct {
	Registry   RegistryConfig   `yaml:"registry"`
	Admin      AdminConfig      `yaml:"admin"`
	TenantDB   TenantDBConfig   `yaml:"tenant_db"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Pool       PoolConfig       `yaml:"pool"`
	Cache      CacheConfig      `yaml:"cache"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
}

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Registry:  RegistryConfig{MaxConns: 10, MinConns: 1},
		Admin:     AdminConfig{MaintenanceDatabase: pgtenant.DefaultManagementDB, AuthMethod: "standard"},
		TenantDB:  TenantDBConfig{ConnectTimeout: Duration(10 * time.Second)},
		Pool:      PoolConfig{MaxConns: pgtenant.DefaultTenantMaxConns, IdleTimeout: Duration(pgtenant.DefaultPoolIdleTimeout), EvictionInterval: Duration(pgtenant.DefaultEvictionInterval)},
		Cache:     CacheConfig{TTL: Duration(pgtenant.DefaultCacheTTL)},
		HTTP:      HTTPConfig{Addr: DefaultHTTPAddr, ShutdownTimeout: Duration(15 * time.Second)},
		Log:       LogConfig{Level: "info", Env: "prod"},
		Bootstrap: BootstrapConfig{AdminEmail: pgtenant.DefaultBootstrapAdminEmail},
	}
}

// Load reads path over the defaults. An empty path looks for pgtenant.yaml in
// the working directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w: %w", path, pgtenant.ErrInvalidConfig, err)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%s: %w", path, ErrConfigNotFound)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file next to the config file (or in the working
// directory) into the process environment. Variables already set win.
func LoadDotEnv(configPath string) error {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	envPath := filepath.Join(dir, DotEnvFileName)
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	set := func(dst *string, keys ...string) {
		if v := first(keys...); v != "" {
			*dst = v
		}
	}

	set(&c.Registry.URL, "PGTENANT_REGISTRY_URL", "DATABASE_URL")
	set(&c.Admin.URL, "PGTENANT_ADMIN_URL")
	set(&c.Admin.AuthMethod, "PGTENANT_ADMIN_AUTH")
	set(&c.Admin.AWSRegion, "AWS_REGION")
	set(&c.Admin.AzureTenantID, "AZURE_TENANT_ID")
	set(&c.Admin.AzureClientID, "AZURE_CLIENT_ID")
	set(&c.Encryption.Key, "PGTENANT_ENCRYPTION_KEY")
	set(&c.Encryption.Secret, "PGTENANT_SECRET")
	set(&c.HTTP.Addr, "PGTENANT_HTTP_ADDR")
	set(&c.Log.Level, "PGTENANT_LOG_LEVEL")
	set(&c.Log.Env, "PGTENANT_ENV")
	set(&c.Bootstrap.AdminEmail, "PGTENANT_BOOTSTRAP_EMAIL")

	if v := first("PGTENANT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = Duration(d)
		}
	}
	if v := first("PGTENANT_POOL_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MaxConns = int32(n)
		}
	}
}

// Validate reports every problem at once; each is wrapped with ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, pgtenant.ErrInvalidConfig)...))
	}

	if c.Registry.URL == "" {
		add("registry.url is required (or set PGTENANT_REGISTRY_URL / DATABASE_URL)")
	}
	if c.Encryption.Key == "" && c.Encryption.Secret == "" {
		add("encryption.key or encryption.secret is required")
	}
	if k := c.Encryption.Key; k != "" && len(k) != 64 {
		add("encryption.key must be 64 hex characters, got %d", len(k))
	}
	if _, err := pgtenant.ParseAuthMethod(c.Admin.AuthMethod); err != nil {
		add("admin.auth_method %q is not supported", c.Admin.AuthMethod)
	}
	if c.Pool.MaxConns <= 0 {
		add("pool.max_conns must be positive")
	}
	if c.Pool.IdleTimeout <= 0 || c.Pool.EvictionInterval <= 0 {
		add("pool.idle_timeout and pool.eviction_interval must be positive")
	}
	if c.Cache.TTL <= 0 {
		add("cache.ttl must be positive")
	}
	if c.Registry.MinConns > c.Registry.MaxConns {
		add("registry.min_conns (%d) exceeds registry.max_conns (%d)", c.Registry.MinConns, c.Registry.MaxConns)
	}
	return errors.Join(errs...)
}
