package config

import (
	"fmt"
	"os"

	"github.com/vvka-141/pgtenant/internal/db"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// RegistryConnection parses registry.url.
func (c *Config) RegistryConnection() (*pgtenant.ConnectionConfig, error) {
	cfg, err := db.ParseConnectionString(c.Registry.URL)
	if err != nil {
		return nil, fmt.Errorf("registry.url: %w", err)
	}
	if cfg.AppName == "" {
		cfg.AppName = "pgtenant"
	}
	return cfg, nil
}

// RegistryPoolSettings sizes the registry pool.
func (c *Config) RegistryPoolSettings() db.PoolSettings {
	s := db.DefaultPoolSettings()
	s.MaxConns = c.Registry.MaxConns
	s.MinConns = c.Registry.MinConns
	return s
}

// AdminConnection resolves the server-level connection targeting the
// maintenance database. Precedence: admin.url, then admin.host with the libpq
// environment filling gaps, then the registry server.
func (c *Config) AdminConnection() (*pgtenant.ConnectionConfig, error) {
	var (
		cfg *pgtenant.ConnectionConfig
		err error
	)
	switch {
	case c.Admin.URL != "":
		cfg, err = db.ParseConnectionString(c.Admin.URL)
	case c.Admin.Host != "":
		cfg, err = db.FromEnvironment(os.Getenv)
		if err == nil {
			c.overlayAdmin(cfg)
		}
	default:
		cfg, err = c.RegistryConnection()
	}
	if err != nil {
		return nil, fmt.Errorf("admin connection: %w", err)
	}

	cfg.AuthMethod, err = pgtenant.ParseAuthMethod(c.Admin.AuthMethod)
	if err != nil {
		return nil, err
	}
	cfg.AWSRegion = c.Admin.AWSRegion
	cfg.GoogleInstance = c.Admin.GoogleInstance
	cfg.AzureTenantID = c.Admin.AzureTenantID
	cfg.AzureClientID = c.Admin.AzureClientID
	cfg.AzureClientSecret = os.Getenv("AZURE_CLIENT_SECRET")
	if c.Admin.MaintenanceDatabase != "" {
		cfg.Database = c.Admin.MaintenanceDatabase
	}
	if cfg.AppName == "" {
		cfg.AppName = "pgtenant-admin"
	}
	return cfg, nil
}

func (c *Config) overlayAdmin(cfg *pgtenant.ConnectionConfig) {
	a := c.Admin
	cfg.Host = a.Host
	if a.Port != 0 {
		cfg.Port = a.Port
	}
	if a.Username != "" {
		cfg.Username = a.Username
	}
	if a.SSLMode != "" {
		cfg.SSLMode = a.SSLMode
	}
	if a.SSLCert != "" {
		cfg.SSLCert, cfg.SSLKey = a.SSLCert, a.SSLKey
	}
	if a.SSLRootCert != "" {
		cfg.SSLRootCert = a.SSLRootCert
	}
}

// TenantConnection builds the connection for a tenant database. admin is the
// resolved admin connection, used for any tenant_db field left empty.
func (c *Config) TenantConnection(admin *pgtenant.ConnectionConfig, database, user, password string) *pgtenant.ConnectionConfig {
	cfg := &pgtenant.ConnectionConfig{
		Host:           admin.Host,
		Port:           admin.Port,
		Database:       database,
		Username:       user,
		Password:       password,
		SSLMode:        admin.SSLMode,
		SSLRootCert:    admin.SSLRootCert,
		AuthMethod:     pgtenant.AuthMethodStandard,
		AppName:        "pgtenant-" + database,
		ConnectTimeout: c.TenantDB.ConnectTimeout.Std(),
	}
	if c.TenantDB.Host != "" {
		cfg.Host = c.TenantDB.Host
	}
	if c.TenantDB.Port != 0 {
		cfg.Port = c.TenantDB.Port
	}
	if c.TenantDB.SSLMode != "" {
		cfg.SSLMode = c.TenantDB.SSLMode
	}
	return cfg
}
