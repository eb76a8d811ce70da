// Package memory implements the table store in process memory. It applies
// the same schema checks and value normalisation as the SQL drivers so tests
// against it carry over.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"scrubnotes/internal/table/core"
)

// Store keeps rows per table in insertion order.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]core.Row
	closed bool
}

var _ core.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tables: make(map[string][]core.Row)}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return ctx.Err()
}

func (s *Store) Select(ctx context.Context, q core.Query) ([]core.Row, error) {
	def, err := core.CheckQuery(q)
	if err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(def, q.Filters)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var out []core.Row
	for _, row := range s.tables[q.Table] {
		if matches(row, filters) {
			out = append(out, row)
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j], q.Order) })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i, row := range out {
		out[i] = core.Project(row, q.Columns)
	}
	return out, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	for _, c := range def.Columns {
		if !c.PrimaryKey && !c.Unique {
			continue
		}
		for _, existing := range s.tables[table] {
			if existing[c.Name] == full[c.Name] {
				return nil, fmt.Errorf("duplicate key value violates unique constraint on %s.%s", table, c.Name)
			}
		}
	}
	s.tables[table] = append(s.tables[table], full)
	return core.Project(full, nil), nil
}

func (s *Store) Update(ctx context.Context, table string, set core.Row, filters []core.Filter) (int64, error) {
	def, err := core.CheckWrite(table, set, filters, true)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("table: update of %s sets no columns", table)
	}
	values, err := core.NormalizeRow(def, set)
	if err != nil {
		return 0, err
	}
	nf, err := normalizeFilters(def, filters)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	var n int64
	for i, row := range s.tables[table] {
		if !matches(row, nf) {
			continue
		}
		updated := core.Project(row, nil)
		for k, v := range values {
			updated[k] = v
		}
		s.tables[table][i] = updated
		n++
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, table string, filters []core.Filter) (int64, error) {
	def, err := core.CheckWrite(table, nil, filters, true)
	if err != nil {
		return 0, err
	}
	nf, err := normalizeFilters(def, filters)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	rows := s.tables[table]
	kept := rows[:0]
	var n int64
	for _, row := range rows {
		if matches(row, nf) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return n, nil
}

func normalizeFilters(def core.TableDef, filters []core.Filter) ([]core.Filter, error) {
	out := make([]core.Filter, len(filters))
	for i, f := range filters {
		c, _ := def.Column(f.Column)
		v, err := core.Normalize(c, f.Value)
		if err != nil {
			return nil, err
		}
		out[i] = core.Filter{Column: f.Column, Value: v}
	}
	return out, nil
}

// matches applies SQL equality: a NULL on either side never matches.
func matches(row core.Row, filters []core.Filter) bool {
	for _, f := range filters {
		v := row[f.Column]
		if v == nil || f.Value == nil || v != f.Value {
			return false
		}
	}
	return true
}

func less(a, b core.Row, order []core.Order) bool {
	for _, o := range order {
		c := compare(a[o.Column], b[o.Column])
		if c == 0 {
			continue
		}
		if o.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

// compare orders NULLs last ascending, matching postgres.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return 0
}
