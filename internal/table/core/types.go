// Package core defines the generic table contract shared by the relational
// drivers: equality-filtered select, insert-one, update and delete by filter.
package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Driver identifies a concrete relational backend.
type Driver string

const (
	DriverMemory   Driver = "memory"   // process memory (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Row is one record keyed by column name. Values are normalised to string,
// int64, bool or nil regardless of driver.
type Row map[string]any

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  any
}

// Eq builds a Filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Value: value} }

// Order sorts a select by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a select. Empty Columns selects every column of the table;
// Limit <= 0 means unlimited.
type Query struct {
	Table   string
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
}

// Store is the relational data collaborator.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	// Insert stores one row and returns it as stored, with an id and
	// created_at assigned when the table has them and the row omits them.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update sets the given columns on every row matching all filters and
	// returns the number of rows changed.
	Update(ctx context.Context, table string, set Row, filters []Filter) (int64, error)
	// Delete removes every row matching all filters.
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
	Driver() Driver
	Close() error
}

var (
	// ErrUnscoped is returned for an update or delete without filters.
	ErrUnscoped = errors.New("table: update or delete without filters")
	// ErrUnknownTable is returned for a table missing from the schema.
	ErrUnknownTable = errors.New("table: unknown table")
	// ErrUnknownColumn is returned for a column missing from its table.
	ErrUnknownColumn = errors.New("table: unknown column")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is safe to splice into SQL as an identifier.
func ValidIdent(name string) bool { return identRe.MatchString(name) }

// CheckQuery validates every identifier of q against the schema.
func CheckQuery(q Query) (TableDef, error) {
	def, err := lookupTable(q.Table)
	if err != nil {
		return TableDef{}, err
	}
	for _, c := range q.Columns {
		if _, err := def.column(c); err != nil {
			return TableDef{}, err
		}
	}
	if err := def.checkFilters(q.Filters); err != nil {
		return TableDef{}, err
	}
	for _, o := range q.Order {
		if _, err := def.column(o.Column); err != nil {
			return TableDef{}, err
		}
	}
	return def, nil
}

// CheckWrite validates a table name, the columns of row and the filters of
// an update or delete. requireFilters rejects unscoped writes.
func CheckWrite(table string, row Row, filters []Filter, requireFilters bool) (TableDef, error) {
	def, err := lookupTable(table)
	if err != nil {
		return TableDef{}, err
	}
	for c := range row {
		if _, err := def.column(c); err != nil {
			return TableDef{}, err
		}
	}
	if requireFilters && len(filters) == 0 {
		return TableDef{}, ErrUnscoped
	}
	if err := def.checkFilters(filters); err != nil {
		return TableDef{}, err
	}
	return def, nil
}

func lookupTable(name string) (TableDef, error) {
	if !ValidIdent(name) {
		return TableDef{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	def, ok := Lookup(name)
	if !ok {
		return TableDef{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return def, nil
}
