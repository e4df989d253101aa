// Package grid provides the two-dimensional (age, time) keyed container that
// underlies every smoothing specification and variable set.
//
// A grid is defined by sorted, distinct age and time breakpoints. Its primary
// store holds one row per (age, time) pair; a side table holds exactly one
// row per multiplier kind (value, dage, dtime). Rows are addressed by key and
// column name only, never by position.
package grid

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/alec-deason/cascade/internal/errs"
)

// Kind names a prior slot: the cell value or its age or time difference.
type Kind int

const (
	Value Kind = iota
	Dage
	Dtime
)

// Kinds lists the three kinds in side-table order.
func Kinds() []Kind { return []Kind{Value, Dage, Dtime} }

func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case Dage:
		return "dage"
	case Dtime:
		return "dtime"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key addresses one primary row.
type Key struct {
	Age  float64
	Time float64
}

// Breakpoints is an immutable pair of sorted, distinct axes.
type Breakpoints struct {
	ages  []float64
	times []float64
}

// NewBreakpoints validates and sorts the two axes. Each must be non-empty,
// finite, and free of duplicates.
func NewBreakpoints(ages, times []float64) (Breakpoints, error) {
	a, err := axis("ages", ages)
	if err != nil {
		return Breakpoints{}, err
	}
	t, err := axis("times", times)
	if err != nil {
		return Breakpoints{}, err
	}
	return Breakpoints{ages: a, times: t}, nil
}

func axis(name string, values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, errs.Invalid(name, "must contain at least one value")
	}
	out := slices.Clone(values)
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errs.Invalid(name, "value %g is not finite", v)
		}
	}
	sort.Float64s(out)
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			return nil, errs.Invalid(name, "duplicate value %g", out[i])
		}
	}
	return out, nil
}

// Ages returns a copy of the sorted age axis.
func (b Breakpoints) Ages() []float64 { return slices.Clone(b.ages) }

// Times returns a copy of the sorted time axis.
func (b Breakpoints) Times() []float64 { return slices.Clone(b.times) }

// Len is the number of (age, time) pairs.
func (b Breakpoints) Len() int { return len(b.ages) * len(b.times) }

// IsZero reports whether b was never initialized.
func (b Breakpoints) IsZero() bool { return len(b.ages) == 0 }

// Equal compares both axes exactly.
func (b Breakpoints) Equal(other Breakpoints) bool {
	return slices.Equal(b.ages, other.ages) && slices.Equal(b.times, other.times)
}

// Contains reports whether (age, time) is an exact breakpoint pair.
func (b Breakpoints) Contains(age, time float64) bool {
	_, okA := slices.BinarySearch(b.ages, age)
	_, okT := slices.BinarySearch(b.times, time)
	return okA && okT
}

// Keys enumerates every pair, age-major.
func (b Breakpoints) Keys() []Key {
	keys := make([]Key, 0, b.Len())
	for _, a := range b.ages {
		for _, t := range b.times {
			keys = append(keys, Key{Age: a, Time: t})
		}
	}
	return keys
}

func (b Breakpoints) String() string {
	return fmt.Sprintf("ages=%v times=%v", b.ages, b.times)
}

// Span is a closed interval on one axis. Either bound may be open, meaning
// no restriction on that side.
type Span struct {
	lo, hi       float64
	hasLo, hasHi bool
}

// All matches every breakpoint on the axis.
func All() Span { return Span{} }

// Between matches breakpoints in [lo, hi].
func Between(lo, hi float64) Span { return Span{lo: lo, hi: hi, hasLo: true, hasHi: true} }

// From matches breakpoints >= lo.
func From(lo float64) Span { return Span{lo: lo, hasLo: true} }

// Upto matches breakpoints <= hi.
func Upto(hi float64) Span { return Span{hi: hi, hasHi: true} }

// match returns the sub-slice of sorted values inside the span.
func (s Span) match(sorted []float64) []float64 {
	start, end := 0, len(sorted)
	if s.hasLo {
		start = sort.SearchFloat64s(sorted, s.lo)
	}
	if s.hasHi {
		// first index strictly greater than hi
		end = sort.Search(len(sorted), func(i int) bool { return sorted[i] > s.hi })
	}
	if start >= end {
		return nil
	}
	return sorted[start:end]
}

func (s Span) String() string {
	var b strings.Builder
	b.WriteString("[")
	if s.hasLo {
		fmt.Fprintf(&b, "%g", s.lo)
	}
	b.WriteString(":")
	if s.hasHi {
		fmt.Fprintf(&b, "%g", s.hi)
	}
	b.WriteString("]")
	return b.String()
}
