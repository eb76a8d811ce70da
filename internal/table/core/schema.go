package core

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ColumnType is the logical type of a column, mapped per SQL dialect.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Bool
)

// Column describes one column.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Unique     bool
}

// TableDef describes one table and its secondary indexes.
type TableDef struct {
	Name    string
	Columns []Column
	Indexes [][]string
}

func (d TableDef) column(name string) (Column, error) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return Column{}, fmt.Errorf("%w: %s.%q", ErrUnknownColumn, d.Name, name)
}

// Column returns the definition of name.
func (d TableDef) Column(name string) (Column, bool) {
	c, err := d.column(name)
	return c, err == nil
}

// ColumnNames lists the columns in declaration order.
func (d TableDef) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

func (d TableDef) checkFilters(filters []Filter) error {
	for _, f := range filters {
		if _, err := d.column(f.Column); err != nil {
			return err
		}
	}
	return nil
}

func text(name string) Column    { return Column{Name: name, Type: Text} }
func notNull(name string) Column { return Column{Name: name, Type: Text, NotNull: true} }

var (
	idColumn        = Column{Name: "id", Type: Text, PrimaryKey: true}
	createdAtColumn = Column{Name: "created_at", Type: Integer, NotNull: true}
)

// Schema lists every table scrubnotes stores.
var Schema = []TableDef{
	{
		Name: "surgeons",
		Columns: []Column{
			idColumn, notNull("user_id"),
			notNull("first_name"), notNull("last_name"), text("specialty"),
			text("photo_url"), text("gloves"), text("gown"),
			createdAtColumn,
		},
		Indexes: [][]string{{"user_id", "last_name"}},
	},
	{
		Name: "procedures",
		Columns: []Column{
			idColumn, notNull("user_id"), notNull("surgeon_id"),
			notNull("name"), notNull("draping"), notNull("instruments_trays"), notNull("workflow_notes"),
			text("setup_photos"),
			createdAtColumn, {Name: "updated_at", Type: Integer},
		},
		Indexes: [][]string{{"user_id", "surgeon_id", "created_at"}},
	},
	{
		Name: "procedure_photos",
		Columns: []Column{
			idColumn, notNull("user_id"), notNull("procedure_id"),
			notNull("url"), text("caption"),
			createdAtColumn,
		},
		Indexes: [][]string{{"user_id", "procedure_id", "created_at"}},
	},
	{
		Name: "users",
		Columns: []Column{
			idColumn, {Name: "email", Type: Text, NotNull: true, Unique: true},
			text("password_hash"), createdAtColumn,
		},
	},
	{
		Name: "sessions",
		Columns: []Column{
			idColumn, {Name: "token", Type: Text, NotNull: true, Unique: true},
			notNull("user_id"), {Name: "expires_at", Type: Integer, NotNull: true},
			createdAtColumn,
		},
		Indexes: [][]string{{"user_id"}},
	},
	{
		Name: "magic_tokens",
		Columns: []Column{
			idColumn, notNull("email"), {Name: "token", Type: Text, NotNull: true, Unique: true},
			{Name: "expires_at", Type: Integer, NotNull: true},
			{Name: "used", Type: Bool, NotNull: true},
			createdAtColumn,
		},
	},
}

var schemaIndex = func() map[string]TableDef {
	m := make(map[string]TableDef, len(Schema))
	for _, d := range Schema {
		m[d.Name] = d
	}
	return m
}()

// Lookup returns the definition of a table.
func Lookup(name string) (TableDef, bool) {
	d, ok := schemaIndex[name]
	return d, ok
}

var clock struct {
	mu   sync.Mutex
	last int64
}

// NextTimestamp returns the current Unix time in nanoseconds, bumped so that
// successive calls in this process are strictly increasing.
func NextTimestamp() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= clock.last {
		now = clock.last + 1
	}
	clock.last = now
	return now
}

// PrepareInsert returns the complete row to store: every column of def is
// present, id and created_at are filled when omitted, values are normalised.
func PrepareInsert(def TableDef, row Row) (Row, error) {
	out := make(Row, len(def.Columns))
	for _, c := range def.Columns {
		v, err := Normalize(c, row[c.Name])
		if err != nil {
			return nil, err
		}
		switch {
		case v != nil:
		case c.Name == "id":
			v = uuid.NewString()
		case c.Name == "created_at":
			v = NextTimestamp()
		case c.Type == Bool:
			v = false
		case c.NotNull:
			return nil, fmt.Errorf("table: %s.%s is required", def.Name, c.Name)
		}
		out[c.Name] = v
	}
	return out, nil
}

// Normalize coerces a driver or caller value into the Go type used for c:
// string for Text, int64 for Integer, bool for Bool. nil stays nil.
func Normalize(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case Text:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case *string:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		}
	case Integer:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case float64:
			return int64(t), nil
		case []byte:
			return strconv.ParseInt(string(t), 10, 64)
		case string:
			return strconv.ParseInt(t, 10, 64)
		}
	case Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		}
	}
	return nil, fmt.Errorf("table: column %s: unsupported value type %T", c.Name, v)
}

// NormalizeRow normalises every value in row against def.
func NormalizeRow(def TableDef, row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		c, err := def.column(k)
		if err != nil {
			return nil, err
		}
		nv, err := Normalize(c, v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// Project returns the subset of row named by columns (all when empty).
func Project(row Row, columns []string) Row {
	if len(columns) == 0 {
		out := make(Row, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}
