// Package sqlstore implements the table store over database/sql. The sqlite
// and postgres packages supply a Dialect and open the connection.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"scrubnotes/internal/table/core"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name core.Driver
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// ColumnType renders the DDL type of a column.
	ColumnType func(t core.ColumnType) string
	// BindBool converts a bool for drivers without a native boolean.
	BindBool func(b bool) any
}

// QuestionMark renders `?` placeholders (sqlite).
func QuestionMark(int) string { return "?" }

// Dollar renders `$n` placeholders (postgres).
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Store implements core.Store over an open *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ core.Store = (*Store)(nil)

// New wraps db. It does not apply the schema; call Migrate for that.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() core.Driver { return s.dialect.Name }

func (s *Store) Close() error { return s.db.Close() }

func quote(ident string) string { return `"` + ident + `"` }

// Migrate creates every table and index of core.Schema that is missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.DDL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// DDL renders the schema statements for this dialect.
func (s *Store) DDL() []string {
	var stmts []string
	for _, def := range core.Schema {
		cols := make([]string, 0, len(def.Columns))
		for _, c := range def.Columns {
			col := quote(c.Name) + " " + s.dialect.ColumnType(c.Type)
			if c.PrimaryKey {
				col += " PRIMARY KEY"
			}
			if c.NotNull {
				col += " NOT NULL"
			}
			if c.Unique {
				col += " UNIQUE"
			}
			cols = append(cols, col)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(def.Name), strings.Join(cols, ",\n\t")))
		for _, idx := range def.Indexes {
			quoted := make([]string, len(idx))
			for i, c := range idx {
				quoted[i] = quote(c)
			}
			name := "idx_" + def.Name + "_" + strings.Join(idx, "_")
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quote(name), quote(def.Name), strings.Join(quoted, ", ")))
		}
	}
	return stmts
}

type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) bind(c core.Column, v any) (string, error) {
	nv, err := core.Normalize(c, v)
	if err != nil {
		return "", err
	}
	if bv, ok := nv.(bool); ok && b.d.BindBool != nil {
		nv = b.d.BindBool(bv)
	}
	b.args = append(b.args, nv)
	return b.d.Placeholder(len(b.args)), nil
}

func (b *builder) where(def core.TableDef, filters []core.Filter) error {
	for i, f := range filters {
		c, _ := def.Column(f.Column)
		ph, err := b.bind(c, f.Value)
		if err != nil {
			return err
		}
		if i == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		b.sb.WriteString(quote(f.Column) + " = " + ph)
	}
	return nil
}

func (s *Store) Select(ctx context.Context, q core.Query) ([]core.Row, error) {
	def, err := core.CheckQuery(q)
	if err != nil {
		return nil, err
	}
	cols := q.Columns
	if len(cols) == 0 {
		cols = def.ColumnNames()
	}
	b := &builder{d: s.dialect}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	b.sb.WriteString("SELECT " + strings.Join(quoted, ", ") + " FROM " + quote(def.Name))
	if err := b.where(def, q.Filters); err != nil {
		return nil, err
	}
	for i, o := range q.Order {
		if i == 0 {
			b.sb.WriteString(" ORDER BY ")
		} else {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(quote(o.Column))
		if o.Descending {
			b.sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		b.sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	rows, err := s.db.QueryContext(ctx, b.sb.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []core.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", def.Name, err)
		}
		row := make(core.Row, len(cols))
		for i, name := range cols {
			c, _ := def.Column(name)
			v, err := core.Normalize(c, vals[i])
			if err != nil {
				return nil, err
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, table string, row core.Row) (core.Row, error) {
	def, err := core.CheckWrite(table, row, nil, false)
	if err != nil {
		return nil, err
	}
	full, err := core.PrepareInsert(def, row)
	if err != nil {
		return nil, err
	}
	b := &builder{d: s.dialect}
	names := make([]string, 0, len(def.Columns))
	phs := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		ph, err := b.bind(c, full[c.Name])
		if err != nil {
			return nil, err
		}
		names = append(names, quote(c.Name))
		phs = append(phs, ph)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(def.Name), strings.Join(names, ", "), strings.Join(phs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, b.args...); err != nil {
		return nil, err
	}
	return full, nil
}

func (s *Store) Update(ctx context.Context, table string, set core.Row, filters []core.Filter) (int64, error) {
	def, err := core.CheckWrite(table, set, filters, true)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("table: update of %s sets no columns", table)
	}
	b := &builder{d: s.dialect}
	b.sb.WriteString("UPDATE " + quote(def.Name) + " SET ")
	i := 0
	for _, c := range def.Columns {
		v, ok := set[c.Name]
		if !ok {
			continue
		}
		ph, err := b.bind(c, v)
		if err != nil {
			return 0, err
		}
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(quote(c.Name) + " = " + ph)
		i++
	}
	if err := b.where(def, filters); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, b.sb.String(), b.args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, table string, filters []core.Filter) (int64, error) {
	def, err := core.CheckWrite(table, nil, filters, true)
	if err != nil {
		return 0, err
	}
	b := &builder{d: s.dialect}
	b.sb.WriteString("DELETE FROM " + quote(def.Name))
	if err := b.where(def, filters); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, b.sb.String(), b.args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
