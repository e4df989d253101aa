package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// table is an in-memory copy of one SQLite table, ordered by primary key.
type table struct {
	name    string
	columns []string
	index   map[string]int
	rows    [][]any
}

// table returns the cached copy of name, reading it on first use.
func (s *Store) table(ctx context.Context, name string) (*table, error) {
	if t, ok := s.cache[name]; ok {
		return t, nil
	}
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	t, err := readTable(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	s.cache[name] = t
	return t, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readTable(ctx context.Context, q queryer, name string) (*table, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY 1", name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", name, err)
	}
	t := &table{name: name, columns: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		t.index[c] = i
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", name, err)
		}
		t.rows = append(t.rows, vals)
	}
	return t, rows.Err()
}

func (t *table) has(col string) bool {
	_, ok := t.index[col]
	return ok
}

func (t *table) raw(i int, col string) any {
	j, ok := t.index[col]
	if !ok {
		return nil
	}
	return t.rows[i][j]
}

// float reads a numeric cell; NULL and missing columns are NaN.
func (t *table) float(i int, col string) float64 {
	switch v := t.raw(i, col).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return math.NaN()
	}
}

// intOK reads an integer cell and whether it was non-NULL.
func (t *table) intOK(i int, col string) (int, bool) {
	switch v := t.raw(i, col).(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (t *table) int(i int, col string) int {
	v, _ := t.intOK(i, col)
	return v
}

func (t *table) str(i int, col string) string {
	switch v := t.raw(i, col).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// lookup maps an id column to the row index holding it.
func (t *table) lookup(idCol string) map[int]int {
	out := make(map[int]int, len(t.rows))
	for i := range t.rows {
		out[t.int(i, idCol)] = i
	}
	return out
}

// covariateColumns returns the x_<n> columns in id order.
func (t *table) covariateColumns() []string {
	var out []string
	for _, c := range t.columns {
		if len(c) > 2 && c[:2] == "x_" {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		x, _ := strconv.Atoi(a[2:])
		y, _ := strconv.Atoi(b[2:])
		return x - y
	})
	return out
}

// readValues maps <table>_id to one value column.
func (s *Store) readValues(ctx context.Context, name, col string) (map[int]float64, error) {
	t, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(t.rows))
	for i := range t.rows {
		out[t.int(i, name+"_id")] = t.float(i, col)
	}
	return out, nil
}

func nullFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func nullInt(v int, ok bool) any {
	if !ok {
		return nil
	}
	return v
}
