// Package sqlite opens the table store on an embedded SQLite file using the
// pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"scrubnotes/internal/infra/persistence/sqlstore"
	"scrubnotes/internal/table/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "scrubnotes.db"

// Dialect is the sqlite flavour of SQL used by sqlstore.
var Dialect = sqlstore.Dialect{
	Name:        core.DriverSQLite,
	Placeholder: sqlstore.QuestionMark,
	ColumnType: func(t core.ColumnType) string {
		if t == core.Text {
			return "TEXT"
		}
		return "INTEGER"
	},
	BindBool: func(b bool) any {
		if b {
			return int64(1)
		}
		return int64(0)
	},
}

// Open opens (creating if needed) the sqlite file at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" coherent and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	s := sqlstore.New(db, Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
