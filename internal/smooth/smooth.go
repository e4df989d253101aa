// Package smooth provides prior grids and the Smooth bundle that constrains
// how a rate or covariate effect varies over age and time.
package smooth

import (
	"fmt"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/priors"
)

// PriorColumn is the single column of a prior grid.
const PriorColumn = "prior"

// PriorGrid assigns a Prior to each cell of an age-time grid, for one kind
// (value, dage or dtime). Cells default to priors.NoPrior.
type PriorGrid struct {
	kind grid.Kind
	g    *grid.AgeTimeGrid[priors.Prior]
}

// NewPriorGrid creates a prior grid of kind over bp with every cell unset.
func NewPriorGrid(kind grid.Kind, bp grid.Breakpoints) (*PriorGrid, error) {
	g, err := grid.FromBreakpoints[priors.Prior](bp, PriorColumn)
	if err != nil {
		return nil, err
	}
	all, err := g.Select(grid.All(), grid.All())
	if err != nil {
		return nil, err
	}
	all.Fill(priors.NoPrior)
	return &PriorGrid{kind: kind, g: g}, nil
}

// Kind reports which slot of a Smooth this grid fills.
func (p *PriorGrid) Kind() grid.Kind { return p.kind }

// Breakpoints returns the grid's axes.
func (p *PriorGrid) Breakpoints() grid.Breakpoints { return p.g.Breakpoints() }

// Prior returns the prior at an exact breakpoint.
func (p *PriorGrid) Prior(age, time float64) (priors.Prior, error) {
	row, err := p.g.At(age, time)
	if err != nil {
		return priors.NoPrior, err
	}
	v, _ := row.Get(PriorColumn)
	return v, nil
}

// SetPrior sets the prior at an exact breakpoint.
func (p *PriorGrid) SetPrior(age, time float64, prior priors.Prior) error {
	return p.g.Set(age, time, prior)
}

// SetRange broadcasts prior onto every cell inside the spans.
func (p *PriorGrid) SetRange(ages, times grid.Span, prior priors.Prior) error {
	sel, err := p.g.Select(ages, times)
	if err != nil {
		return err
	}
	return sel.AssignColumns(map[string]priors.Prior{PriorColumn: prior})
}

// SetAll broadcasts prior onto every cell.
func (p *PriorGrid) SetAll(prior priors.Prior) error {
	return p.SetRange(grid.All(), grid.All(), prior)
}

// SetMulstd stores the grid-wide multiplier prior in the side-table row
// for this grid's kind.
func (p *PriorGrid) SetMulstd(prior priors.Prior) {
	_ = p.g.Mulstd(p.kind).Set(PriorColumn, prior)
}

// Mulstd returns the multiplier prior; NoPrior when none was set.
func (p *PriorGrid) Mulstd() priors.Prior {
	v, _ := p.g.Mulstd(p.kind).Get(PriorColumn)
	return v
}

// Cells returns each cell's key and prior, age-major.
func (p *PriorGrid) Cells() []Cell {
	rows := p.g.Rows()
	out := make([]Cell, len(rows))
	for i, r := range rows {
		v, _ := r.Get(PriorColumn)
		out[i] = Cell{Age: r.Age, Time: r.Time, Prior: v}
	}
	return out
}

// Cell is one (age, time, prior) entry.
type Cell struct {
	Age   float64
	Time  float64
	Prior priors.Prior
}

// ConstraintPoint pins a grid cell to a mean value.
type ConstraintPoint struct {
	Age  float64
	Time float64
	Mean float64
}

// NewConstraintGrid builds a value grid over bp where each supplied point gets
// a constant prior at its mean and every other cell gets NoPrior. A point that
// is not an exact breakpoint is a RangeError.
func NewConstraintGrid(bp grid.Breakpoints, points []ConstraintPoint) (*PriorGrid, error) {
	pg, err := NewPriorGrid(grid.Value, bp)
	if err != nil {
		return nil, err
	}
	for _, pt := range points {
		c, err := priors.Constant(pt.Mean)
		if err != nil {
			return nil, fmt.Errorf("constraint at (%g, %g): %w", pt.Age, pt.Time, err)
		}
		if err := pg.SetPrior(pt.Age, pt.Time, c); err != nil {
			return nil, err
		}
	}
	return pg, nil
}

// Smooth bundles value, dage and dtime prior grids over one breakpoint set,
// plus optional multiplier priors that apply to the whole grid.
type Smooth struct {
	grids [3]*PriorGrid
}

// New bundles three prior grids. Each must have the matching kind, and all
// three must share identical breakpoints.
func New(value, dage, dtime *PriorGrid) (*Smooth, error) {
	s := &Smooth{grids: [3]*PriorGrid{value, dage, dtime}}
	for i, want := range grid.Kinds() {
		pg := s.grids[i]
		if pg == nil {
			return nil, errs.Invalid(want.String(), "prior grid is required")
		}
		if pg.Kind() != want {
			return nil, errs.Invalid(want.String(), "got a %s prior grid", pg.Kind())
		}
	}
	bp := value.Breakpoints()
	var mismatched []string
	for _, pg := range s.grids[1:] {
		if !pg.Breakpoints().Equal(bp) {
			mismatched = append(mismatched, pg.Kind().String())
		}
	}
	if len(mismatched) > 0 {
		return nil, &errs.AlignmentError{What: "smooth prior grids", Mismatched: mismatched}
	}
	return s, nil
}

// Uniform builds a Smooth over bp where every value, dage and dtime cell
// carries the given priors. Pass NoPrior to leave a kind unconstrained.
func Uniform(bp grid.Breakpoints, value, dage, dtime priors.Prior) (*Smooth, error) {
	pgs := make([]*PriorGrid, 3)
	for i, kind := range grid.Kinds() {
		pg, err := NewPriorGrid(kind, bp)
		if err != nil {
			return nil, err
		}
		pgs[i] = pg
	}
	for i, p := range []priors.Prior{value, dage, dtime} {
		if err := pgs[i].SetAll(p); err != nil {
			return nil, err
		}
	}
	return New(pgs[0], pgs[1], pgs[2])
}

// Constraint builds a Smooth whose value grid pins each point to its mean.
// Breakpoints are the distinct ages and times of the points; dage and dtime
// are unconstrained.
func Constraint(points []ConstraintPoint) (*Smooth, error) {
	ages, times := distinct(points)
	bp, err := grid.NewBreakpoints(ages, times)
	if err != nil {
		return nil, err
	}
	value, err := NewConstraintGrid(bp, points)
	if err != nil {
		return nil, err
	}
	dage, err := NewPriorGrid(grid.Dage, bp)
	if err != nil {
		return nil, err
	}
	dtime, err := NewPriorGrid(grid.Dtime, bp)
	if err != nil {
		return nil, err
	}
	return New(value, dage, dtime)
}

func distinct(points []ConstraintPoint) (ages, times []float64) {
	seenA := make(map[float64]bool)
	seenT := make(map[float64]bool)
	for _, p := range points {
		if !seenA[p.Age] {
			seenA[p.Age] = true
			ages = append(ages, p.Age)
		}
		if !seenT[p.Time] {
			seenT[p.Time] = true
			times = append(times, p.Time)
		}
	}
	return ages, times
}

// Grid returns the shared breakpoints, for sizing dependent structures.
func (s *Smooth) Grid() grid.Breakpoints { return s.grids[grid.Value].Breakpoints() }

// PriorGrid returns the grid for kind.
func (s *Smooth) PriorGrid(kind grid.Kind) *PriorGrid { return s.grids[kind] }

// Value, Dage and Dtime are shorthands for PriorGrid.
func (s *Smooth) Value() *PriorGrid { return s.grids[grid.Value] }
func (s *Smooth) Dage() *PriorGrid  { return s.grids[grid.Dage] }
func (s *Smooth) Dtime() *PriorGrid { return s.grids[grid.Dtime] }

// SetMulstd sets the multiplier prior for kind. NoPrior clears it.
func (s *Smooth) SetMulstd(kind grid.Kind, p priors.Prior) { s.grids[kind].SetMulstd(p) }

// Mulstd returns the multiplier prior for kind; NoPrior when absent.
func (s *Smooth) Mulstd(kind grid.Kind) priors.Prior { return s.grids[kind].Mulstd() }

// HasMulstd reports whether kind carries a multiplier prior.
func (s *Smooth) HasMulstd(kind grid.Kind) bool { return s.Mulstd(kind).IsSet() }

// Clone returns a deep copy whose grids can be edited independently.
func (s *Smooth) Clone() *Smooth {
	out := &Smooth{}
	for i, pg := range s.grids {
		cp, _ := NewPriorGrid(pg.kind, pg.Breakpoints())
		for _, c := range pg.Cells() {
			_ = cp.SetPrior(c.Age, c.Time, c.Prior)
		}
		cp.SetMulstd(pg.Mulstd())
		out.grids[i] = cp
	}
	return out
}
