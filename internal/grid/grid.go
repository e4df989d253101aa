package grid

import (
	"fmt"
	"math"
	"slices"

	"github.com/alec-deason/cascade/internal/errs"
)

// Row is one record of a grid: a primary (age, time) row or a mulstd row.
// Values are stored in a fixed slot order chosen at construction; the grid's
// column view maps names onto those slots.
type Row[V any] struct {
	Age    float64
	Time   float64
	kind   Kind
	mulstd bool
	owner  *AgeTimeGrid[V]
	values []V
	set    []bool
}

// Kind returns the multiplier kind and true for a mulstd row.
func (r *Row[V]) Kind() (Kind, bool) { return r.kind, r.mulstd }

// Get returns the value in column and whether it has been written.
func (r *Row[V]) Get(column string) (V, bool) {
	var zero V
	slot, ok := r.owner.slots[column]
	if !ok {
		return zero, false
	}
	return r.values[slot], r.set[slot]
}

// Set writes one field.
func (r *Row[V]) Set(column string, v V) error {
	slot, ok := r.owner.slots[column]
	if !ok {
		return errs.Invalid(column, "no such column")
	}
	r.values[slot] = v
	r.set[slot] = true
	return nil
}

// Values returns the row in the grid's current column order. Unset fields
// hold the zero value.
func (r *Row[V]) Values() []V {
	out := make([]V, len(r.owner.columns))
	for i, c := range r.owner.columns {
		out[i] = r.values[r.owner.slots[c]]
	}
	return out
}

// Complete reports whether every column has been written.
func (r *Row[V]) Complete() bool {
	for _, s := range r.set {
		if !s {
			return false
		}
	}
	return true
}

func (r *Row[V]) assign(values []V) {
	for i, c := range r.owner.columns {
		slot := r.owner.slots[c]
		r.values[slot] = values[i]
		r.set[slot] = true
	}
}

// AgeTimeGrid is the Cartesian (age, time) store plus the three-row mulstd
// side table.
type AgeTimeGrid[V any] struct {
	bp      Breakpoints
	columns []string
	slots   map[string]int
	rows    map[Key]*Row[V]
	mulstd  [3]*Row[V]
}

// New builds a grid over ages × times with the given columns, all unset.
// A single column name is the one-column shorthand.
func New[V any](ages, times []float64, columns ...string) (*AgeTimeGrid[V], error) {
	bp, err := NewBreakpoints(ages, times)
	if err != nil {
		return nil, err
	}
	return FromBreakpoints[V](bp, columns...)
}

// FromBreakpoints builds a grid over an existing breakpoint set.
func FromBreakpoints[V any](bp Breakpoints, columns ...string) (*AgeTimeGrid[V], error) {
	if bp.IsZero() {
		return nil, errs.Invalid("breakpoints", "grid needs ages and times")
	}
	if len(columns) == 0 {
		return nil, errs.Invalid("columns", "grid needs at least one column")
	}
	slots := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, errs.Invalid("columns", "column name must not be empty")
		}
		if _, dup := slots[c]; dup {
			return nil, errs.Invalid("columns", "duplicate column %q", c)
		}
		slots[c] = i
	}

	g := &AgeTimeGrid[V]{
		bp:      bp,
		columns: slices.Clone(columns),
		slots:   slots,
		rows:    make(map[Key]*Row[V], bp.Len()),
	}
	for _, k := range bp.Keys() {
		g.rows[k] = g.newRow(k.Age, k.Time)
	}
	for _, kind := range Kinds() {
		r := g.newRow(math.NaN(), math.NaN())
		r.kind, r.mulstd = kind, true
		g.mulstd[kind] = r
	}
	return g, nil
}

func (g *AgeTimeGrid[V]) newRow(age, time float64) *Row[V] {
	return &Row[V]{
		Age:    age,
		Time:   time,
		owner:  g,
		values: make([]V, len(g.slots)),
		set:    make([]bool, len(g.slots)),
	}
}

// Breakpoints returns the grid's axes.
func (g *AgeTimeGrid[V]) Breakpoints() Breakpoints { return g.bp }

// Columns returns the current column order.
func (g *AgeTimeGrid[V]) Columns() []string { return slices.Clone(g.columns) }

// Len is the number of primary rows.
func (g *AgeTimeGrid[V]) Len() int { return len(g.rows) }

// Reorder changes the column view order. The argument must be a permutation
// of the existing columns. Stored values and lookups are unaffected.
func (g *AgeTimeGrid[V]) Reorder(columns ...string) error {
	if len(columns) != len(g.columns) {
		return &errs.ShapeError{Want: len(g.columns), Got: len(columns)}
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if _, ok := g.slots[c]; !ok || seen[c] {
			return errs.Invalid(c, "not a permutation of the grid columns")
		}
		seen[c] = true
	}
	g.columns = slices.Clone(columns)
	return nil
}

// At returns the row at an exact (age, time) breakpoint.
func (g *AgeTimeGrid[V]) At(age, time float64) (*Row[V], error) {
	r, ok := g.rows[Key{Age: age, Time: time}]
	if !ok {
		return nil, &errs.RangeError{Axis: "age/time", Query: fmt.Sprintf("(%g, %g)", age, time)}
	}
	return r, nil
}

// Set writes a whole row at an exact breakpoint, one value per column in
// column order.
func (g *AgeTimeGrid[V]) Set(age, time float64, values ...V) error {
	r, err := g.At(age, time)
	if err != nil {
		return err
	}
	if len(values) != len(g.columns) {
		return &errs.ShapeError{Want: len(g.columns), Got: len(values)}
	}
	r.assign(values)
	return nil
}

// Select returns the rows whose age lies in ages and time lies in times.
// Matching nothing on either axis is a RangeError.
func (g *AgeTimeGrid[V]) Select(ages, times Span) (*Selection[V], error) {
	as := ages.match(g.bp.ages)
	if len(as) == 0 {
		return nil, &errs.RangeError{Axis: "age", Query: ages.String()}
	}
	ts := times.match(g.bp.times)
	if len(ts) == 0 {
		return nil, &errs.RangeError{Axis: "time", Query: times.String()}
	}
	sel := &Selection[V]{owner: g, rows: make([]*Row[V], 0, len(as)*len(ts))}
	for _, a := range as {
		for _, t := range ts {
			sel.rows = append(sel.rows, g.rows[Key{Age: a, Time: t}])
		}
	}
	return sel, nil
}

// Rows returns every primary row, age-major.
func (g *AgeTimeGrid[V]) Rows() []*Row[V] {
	out := make([]*Row[V], 0, len(g.rows))
	for _, k := range g.bp.Keys() {
		out = append(out, g.rows[k])
	}
	return out
}

// Mulstd returns the side-table row for kind.
func (g *AgeTimeGrid[V]) Mulstd(kind Kind) *Row[V] { return g.mulstd[kind] }

// MulstdRows returns the three side-table rows in kind order.
func (g *AgeTimeGrid[V]) MulstdRows() []*Row[V] { return g.mulstd[:] }

// Selection is a non-empty set of primary rows chosen by Select.
type Selection[V any] struct {
	owner *AgeTimeGrid[V]
	rows  []*Row[V]
}

// Len is the number of selected rows.
func (s *Selection[V]) Len() int { return len(s.rows) }

// Rows returns the selected rows, age-major.
func (s *Selection[V]) Rows() []*Row[V] { return slices.Clone(s.rows) }

// Fill writes v into every column of every selected row.
func (s *Selection[V]) Fill(v V) {
	values := make([]V, len(s.owner.columns))
	for i := range values {
		values[i] = v
	}
	for _, r := range s.rows {
		r.assign(values)
	}
}

// Assign broadcasts one whole row, given in column order, to every selected row.
func (s *Selection[V]) Assign(values ...V) error {
	if len(values) != len(s.owner.columns) {
		return &errs.ShapeError{Want: len(s.owner.columns), Got: len(values)}
	}
	for _, r := range s.rows {
		r.assign(values)
	}
	return nil
}

// AssignColumns broadcasts values onto the named columns only.
func (s *Selection[V]) AssignColumns(values map[string]V) error {
	for c := range values {
		if _, ok := s.owner.slots[c]; !ok {
			return errs.Invalid(c, "no such column")
		}
	}
	for _, r := range s.rows {
		for c, v := range values {
			slot := s.owner.slots[c]
			r.values[slot] = v
			r.set[slot] = true
		}
	}
	return nil
}

// SetField writes a single field. It is only defined for a one-row
// selection; a multi-row selection has no single target.
func (s *Selection[V]) SetField(column string, v V) error {
	if len(s.rows) != 1 {
		return &errs.ShapeError{Reason: fmt.Sprintf(
			"field %q assignment on %d rows is ambiguous; use Assign or AssignColumns", column, len(s.rows))}
	}
	return s.rows[0].Set(column, v)
}

// Column reads one column across the selection.
func (s *Selection[V]) Column(column string) ([]V, error) {
	slot, ok := s.owner.slots[column]
	if !ok {
		return nil, errs.Invalid(column, "no such column")
	}
	out := make([]V, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.values[slot]
	}
	return out, nil
}
