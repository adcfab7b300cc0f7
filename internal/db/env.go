package db

import (
	"os"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// FromEnvironment builds a connection config from the libpq environment
// variables (PGHOST, PGPORT, PGUSER, PGPASSWORD, PGDATABASE, PGSSLMODE).
// Unset variables keep the defaults of ParseConnectionString.
func FromEnvironment(getenv func(string) string) (*pgtenant.ConnectionConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := defaultConnectionConfig()
	for env, key := range map[string]string{
		"PGHOST":        "host",
		"PGPORT":        "port",
		"PGUSER":        "user",
		"PGPASSWORD":    "password",
		"PGDATABASE":    "dbname",
		"PGSSLMODE":     "sslmode",
		"PGSSLCERT":     "sslcert",
		"PGSSLKEY":      "sslkey",
		"PGSSLROOTCERT": "sslrootcert",
		"PGAPPNAME":     "application_name",
	} {
		if v := getenv(env); v != "" {
			if err := setParam(cfg, key, v); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}
