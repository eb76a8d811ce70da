package table

import (
	"context"
	"fmt"
	"strings"

	"scrubnotes/internal/infra/persistence/memory"
	"scrubnotes/internal/infra/persistence/postgres"
	"scrubnotes/internal/infra/persistence/sqlite"
	"scrubnotes/internal/infra/persistence/sqlstore"
)

// Options selects a relational backend.
//
//	Driver:      memory|sqlite|postgres (default sqlite)
//	SQLitePath:  path to the sqlite file (default ./scrubnotes.db)
//	PostgresDSN: DSN when driver=postgres
type Options struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Open selects a Store implementation from opts. SQL drivers apply the schema
// before returning.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.Open(ctx, opts.SQLitePath)
	case DriverPostgres:
		return postgres.Open(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// DDL renders the schema statements a SQL driver applies when it opens.
func DDL(driver string) ([]string, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(driver)))
	if d == "" {
		d = DriverSQLite
	}
	switch d {
	case DriverSQLite:
		return sqlstore.New(nil, sqlite.Dialect).DDL(), nil
	case DriverPostgres:
		return sqlstore.New(nil, postgres.Dialect).DDL(), nil
	default:
		return nil, fmt.Errorf("storage driver %s has no SQL schema", driver)
	}
}
