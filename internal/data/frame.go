// Package data holds tabular measurement and average-integrand input in a
// small column table, and normalizes it into the interval form the engine
// expects.
package data

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/alec-deason/cascade/internal/errs"
)

// Frame is an ordered set of equal-length columns. Numeric columns use NaN
// for null; text columns carry an explicit null mask.
type Frame struct {
	n     int
	order []string
	cols  map[string]*column
}

type column struct {
	num   []float64
	text  []string
	null  []bool
	isNum bool
}

// NewFrame creates an empty frame of n rows.
func NewFrame(n int) *Frame {
	return &Frame{n: n, cols: make(map[string]*column)}
}

// Len is the number of rows.
func (f *Frame) Len() int { return f.n }

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string { return slices.Clone(f.order) }

// Has reports whether the frame has a column.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// IsNumeric reports whether name is a numeric column.
func (f *Frame) IsNumeric(name string) bool {
	c, ok := f.cols[name]
	return ok && c.isNum
}

// SetFloat adds or replaces a numeric column.
func (f *Frame) SetFloat(name string, values []float64) error {
	if len(values) != f.n {
		return &errs.ShapeError{Want: f.n, Got: len(values), Reason: fmt.Sprintf("column %q has %d rows, frame has %d", name, len(values), f.n)}
	}
	f.put(name, &column{num: slices.Clone(values), isNum: true})
	return nil
}

// SetText adds or replaces a text column. A nil null mask means no nulls.
func (f *Frame) SetText(name string, values []string, null []bool) error {
	if len(values) != f.n || (null != nil && len(null) != f.n) {
		return &errs.ShapeError{Want: f.n, Got: len(values), Reason: fmt.Sprintf("column %q does not have %d rows", name, f.n)}
	}
	if null == nil {
		null = make([]bool, f.n)
	}
	f.put(name, &column{text: slices.Clone(values), null: slices.Clone(null)})
	return nil
}

func (f *Frame) put(name string, c *column) {
	if _, ok := f.cols[name]; !ok {
		f.order = append(f.order, name)
	}
	f.cols[name] = c
}

// Float returns a copy of a numeric column.
func (f *Frame) Float(name string) ([]float64, error) {
	c, ok := f.cols[name]
	if !ok {
		return nil, errs.Invalid(name, "no such column")
	}
	if !c.isNum {
		return nil, errs.Invalid(name, "column is text")
	}
	return slices.Clone(c.num), nil
}

// Text returns a copy of a column as strings with its null mask. Numeric
// columns are formatted; NaN counts as null.
func (f *Frame) Text(name string) ([]string, []bool, error) {
	c, ok := f.cols[name]
	if !ok {
		return nil, nil, errs.Invalid(name, "no such column")
	}
	if !c.isNum {
		return slices.Clone(c.text), slices.Clone(c.null), nil
	}
	out := make([]string, f.n)
	null := make([]bool, f.n)
	for i, v := range c.num {
		if math.IsNaN(v) {
			null[i] = true
			continue
		}
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out, null, nil
}

// Drop removes columns; absent names are ignored.
func (f *Frame) Drop(names ...string) {
	for _, name := range names {
		if _, ok := f.cols[name]; !ok {
			continue
		}
		delete(f.cols, name)
		f.order = slices.DeleteFunc(f.order, func(s string) bool { return s == name })
	}
}

// Clone returns an independent copy.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.n)
	for _, name := range f.order {
		c := f.cols[name]
		out.put(name, &column{
			num:   slices.Clone(c.num),
			text:  slices.Clone(c.text),
			null:  slices.Clone(c.null),
			isNum: c.isNum,
		})
	}
	return out
}

// Equal compares column order, kinds and values. NaN equals NaN.
func (f *Frame) Equal(other *Frame) bool {
	if f.n != other.n || !slices.Equal(f.order, other.order) {
		return false
	}
	for _, name := range f.order {
		a, b := f.cols[name], other.cols[name]
		if a.isNum != b.isNum {
			return false
		}
		if a.isNum {
			if !slices.EqualFunc(a.num, b.num, func(x, y float64) bool {
				return x == y || (math.IsNaN(x) && math.IsNaN(y))
			}) {
				return false
			}
			continue
		}
		if !slices.Equal(a.null, b.null) {
			return false
		}
		for i := range a.text {
			if !a.null[i] && a.text[i] != b.text[i] {
				return false
			}
		}
	}
	return true
}

// Select returns the rows at the given indices.
func (f *Frame) Select(rows []int) *Frame {
	out := NewFrame(len(rows))
	for _, name := range f.order {
		c := f.cols[name]
		nc := &column{isNum: c.isNum}
		for _, r := range rows {
			if c.isNum {
				nc.num = append(nc.num, c.num[r])
			} else {
				nc.text = append(nc.text, c.text[r])
				nc.null = append(nc.null, c.null[r])
			}
		}
		out.put(name, nc)
	}
	return out
}
