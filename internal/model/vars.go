package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
)

// Group is the family a model variable belongs to.
type Group string

const (
	GroupRate         Group = "rate"
	GroupRandomEffect Group = "random_effect"
	GroupAlpha        Group = "alpha" // covariate multiplier on a rate
	GroupBeta         Group = "beta"  // covariate multiplier on an integrand value
	GroupGamma        Group = "gamma" // covariate multiplier on an integrand std
)

// Groups lists the variable groups in engine order.
func Groups() []Group {
	return []Group{GroupRate, GroupRandomEffect, GroupAlpha, GroupBeta, GroupGamma}
}

// VarKey identifies one model variable within a VarSet. Target is a rate
// name for rate, random_effect and alpha variables and an integrand name for
// beta and gamma. Covariate is set only for multipliers, Location only for
// random effects.
type VarKey struct {
	Group     Group
	Target    string
	Covariate string
	Location  int
}

// RateKey is the key of a rate's parent smooth.
func RateKey(rate RateName) VarKey { return VarKey{Group: GroupRate, Target: string(rate)} }

// RandomEffectKey is the key of a rate's child smooth at location.
func RandomEffectKey(rate RateName, location int) VarKey {
	return VarKey{Group: GroupRandomEffect, Target: string(rate), Location: location}
}

// MultiplierKey is the key of a covariate multiplier in group.
func MultiplierKey(group Group, target, covariate string) VarKey {
	return VarKey{Group: group, Target: target, Covariate: covariate}
}

func (k VarKey) String() string {
	switch k.Group {
	case GroupRandomEffect:
		return fmt.Sprintf("%s-%s-%d", k.Group, k.Target, k.Location)
	case GroupAlpha, GroupBeta, GroupGamma:
		return fmt.Sprintf("%s-%s-%s", k.Group, k.Covariate, k.Target)
	default:
		return fmt.Sprintf("%s-%s", k.Group, k.Target)
	}
}

func compareKeys(a, b VarKey) int {
	if c := cmp.Compare(slices.Index(Groups(), a.Group), slices.Index(Groups(), b.Group)); c != 0 {
		return c
	}
	return cmp.Or(
		strings.Compare(a.Target, b.Target),
		strings.Compare(a.Covariate, b.Covariate),
		cmp.Compare(a.Location, b.Location),
	)
}

// VarColumn is the single column of a Var grid.
const VarColumn = "mean"

// Var holds one numeric value per cell of an age-time grid, plus optional
// values for the three multiplier variables.
type Var struct {
	g *grid.AgeTimeGrid[float64]
}

// NewVar creates an unset variable over bp.
func NewVar(bp grid.Breakpoints) (*Var, error) {
	g, err := grid.FromBreakpoints[float64](bp, VarColumn)
	if err != nil {
		return nil, err
	}
	return &Var{g: g}, nil
}

// ConstantVar creates a variable over bp with every cell set to value.
func ConstantVar(bp grid.Breakpoints, value float64) (*Var, error) {
	v, err := NewVar(bp)
	if err != nil {
		return nil, err
	}
	v.Fill(value)
	return v, nil
}

func (v *Var) Breakpoints() grid.Breakpoints { return v.g.Breakpoints() }

// Set writes the value at an exact breakpoint.
func (v *Var) Set(age, time, value float64) error { return v.g.Set(age, time, value) }

// Value reads the value at an exact breakpoint. An unset cell is a
// ValidationError.
func (v *Var) Value(age, time float64) (float64, error) {
	row, err := v.g.At(age, time)
	if err != nil {
		return 0, err
	}
	x, ok := row.Get(VarColumn)
	if !ok {
		return 0, errs.Invalid(VarColumn, "unset at (%g, %g)", age, time)
	}
	return x, nil
}

// Fill sets every cell.
func (v *Var) Fill(value float64) {
	all, _ := v.g.Select(grid.All(), grid.All())
	all.Fill(value)
}

// SetMulstd sets the multiplier variable for kind.
func (v *Var) SetMulstd(kind grid.Kind, value float64) {
	_ = v.g.Mulstd(kind).Set(VarColumn, value)
}

// Mulstd returns the multiplier variable for kind and whether it is set.
func (v *Var) Mulstd(kind grid.Kind) (float64, bool) { return v.g.Mulstd(kind).Get(VarColumn) }

// Cells returns every primary cell, age-major.
func (v *Var) Cells() []VarCell {
	rows := v.g.Rows()
	out := make([]VarCell, len(rows))
	for i, r := range rows {
		x, ok := r.Get(VarColumn)
		out[i] = VarCell{Age: r.Age, Time: r.Time, Value: x, Set: ok}
	}
	return out
}

// VarCell is one cell of a Var.
type VarCell struct {
	Age   float64
	Time  float64
	Value float64
	Set   bool
}

// Check fails with a ValidationError naming the first unset cell.
func (v *Var) Check(name string) error {
	for _, c := range v.Cells() {
		if !c.Set {
			return errs.Invalid(name, "no value at age %g time %g", c.Age, c.Time)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (v *Var) Clone() *Var {
	cp, _ := NewVar(v.Breakpoints())
	for _, c := range v.Cells() {
		if c.Set {
			_ = cp.Set(c.Age, c.Time, c.Value)
		}
	}
	for _, k := range grid.Kinds() {
		if x, ok := v.Mulstd(k); ok {
			cp.SetMulstd(k, x)
		}
	}
	return cp
}

// VarSet is a complete or partial assignment of values to model variables.
type VarSet map[VarKey]*Var

// Keys returns the keys in a stable order: group, target, covariate, location.
func (vs VarSet) Keys() []VarKey {
	keys := make([]VarKey, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Check verifies every variable is fully assigned.
func (vs VarSet) Check() error {
	for _, k := range vs.Keys() {
		v := vs[k]
		if v == nil {
			return errs.Invalid(k.String(), "variable is nil")
		}
		if err := v.Check(k.String()); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies every variable.
func (vs VarSet) Clone() VarSet {
	out := make(VarSet, len(vs))
	for k, v := range vs {
		out[k] = v.Clone()
	}
	return out
}
