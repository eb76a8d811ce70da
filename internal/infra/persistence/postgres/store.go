// Package postgres opens the table store on PostgreSQL through pgx's
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"scrubnotes/internal/infra/persistence/sqlstore"
	"scrubnotes/internal/table/core"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/scrubnotes?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the postgres flavour of SQL used by sqlstore.
var Dialect = sqlstore.Dialect{
	Name:        core.DriverPostgres,
	Placeholder: sqlstore.Dollar,
	ColumnType: func(t core.ColumnType) string {
		switch t {
		case core.Integer:
			return "BIGINT"
		case core.Bool:
			return "BOOLEAN"
		}
		return "TEXT"
	},
}

// Open connects using dsn (falls back to defaultDSN), pings the server and
// applies the schema.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := sqlstore.New(db, Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
