// Package model aggregates rates, covariate multipliers and random effects
// into the Model a session writes for the engine, and defines the variable
// sets the engine reads and writes.
package model

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/priors"
	"github.com/alec-deason/cascade/internal/smooth"
)

// Rate holds the smoothing for one hazard function at the parent location
// and, for random effects, at each child location.
type Rate struct {
	name   RateName
	parent *smooth.Smooth
	child  map[int]*smooth.Smooth
}

func (r *Rate) Name() RateName               { return r.name }
func (r *Rate) ParentSmooth() *smooth.Smooth { return r.parent }

// SetParentSmooth enables the rate at the parent location. A nil smooth
// disables it.
func (r *Rate) SetParentSmooth(s *smooth.Smooth) { r.parent = s }

// Enabled reports whether the rate is part of the model.
func (r *Rate) Enabled() bool { return r.parent != nil }

// SetChildSmooth sets the random-effect smooth for one child location.
// A nil smooth removes it.
func (r *Rate) SetChildSmooth(location int, s *smooth.Smooth) {
	if s == nil {
		delete(r.child, location)
		return
	}
	r.child[location] = s
}

// ChildSmooth returns the random-effect smooth at location, or nil.
func (r *Rate) ChildSmooth(location int) *smooth.Smooth { return r.child[location] }

// ChildLocations returns the locations that carry a random effect, sorted.
func (r *Rate) ChildLocations() []int {
	return slices.Sorted(maps.Keys(r.child))
}

// Attachment places a covariate multiplier on a rate or integrand.
type Attachment struct {
	Group      Group
	Target     string
	Multiplier *CovariateMultiplier
}

// Key is the variable key of the multiplier.
func (a Attachment) Key() VarKey {
	return MultiplierKey(a.Group, a.Target, a.Multiplier.Column().Name())
}

// VarSpec is one model variable together with the smooth that shapes it.
type VarSpec struct {
	Key    VarKey
	Smooth *smooth.Smooth
}

// Model is the set of rates, covariate multipliers, random effects and
// weights a session writes for the engine.
type Model struct {
	ParentLocation int

	rates          map[RateName]*Rate
	covariates     []CovariateColumn
	attachments    []Attachment
	weights        map[string]*Var
	scale          VarSet
	scaleSetByUser bool
}

// New creates a model with all five rates present and empty.
func New(parentLocation int) *Model {
	m := &Model{
		ParentLocation: parentLocation,
		rates:          make(map[RateName]*Rate, 5),
		weights:        make(map[string]*Var),
	}
	for _, name := range RateNames() {
		m.rates[name] = &Rate{name: name, child: make(map[int]*smooth.Smooth)}
	}
	return m
}

// Rate returns the named rate. Every rate exists from construction.
func (m *Model) Rate(name RateName) *Rate { return m.rates[name] }

// AddCovariate declares a covariate column. A second declaration with the
// same name must match the first.
func (m *Model) AddCovariate(c CovariateColumn) error {
	for _, have := range m.covariates {
		if have.Name() == c.Name() {
			if have != c {
				return errs.Invalid(c.Name(), "covariate declared twice as %s and %s", have, c)
			}
			return nil
		}
	}
	m.covariates = append(m.covariates, c)
	return nil
}

// Covariates returns the declared covariate columns in declaration order.
func (m *Model) Covariates() []CovariateColumn { return slices.Clone(m.covariates) }

// Covariate looks up a declared covariate by name.
func (m *Model) Covariate(name string) (CovariateColumn, bool) {
	for _, c := range m.covariates {
		if c.Name() == name {
			return c, true
		}
	}
	return CovariateColumn{}, false
}

// AddRateMultiplier attaches a covariate effect on a rate (alpha).
func (m *Model) AddRateMultiplier(rate RateName, mul *CovariateMultiplier) error {
	return m.attach(GroupAlpha, string(rate), mul)
}

// AddValueMultiplier attaches a covariate effect on an integrand's value (beta).
func (m *Model) AddValueMultiplier(integrand Integrand, mul *CovariateMultiplier) error {
	return m.attach(GroupBeta, string(integrand), mul)
}

// AddStdMultiplier attaches a covariate effect on an integrand's
// measurement standard deviation (gamma).
func (m *Model) AddStdMultiplier(integrand Integrand, mul *CovariateMultiplier) error {
	return m.attach(GroupGamma, string(integrand), mul)
}

func (m *Model) attach(group Group, target string, mul *CovariateMultiplier) error {
	if mul == nil {
		return errs.Invalid(target, "nil covariate multiplier")
	}
	a := Attachment{Group: group, Target: target, Multiplier: mul}
	for _, have := range m.attachments {
		if have.Key() == a.Key() {
			return errs.Invalid(a.Key().String(), "multiplier already attached")
		}
	}
	if err := m.AddCovariate(mul.Column()); err != nil {
		return err
	}
	m.attachments = append(m.attachments, a)
	return nil
}

// Multipliers returns the attached covariate multipliers in attachment order.
func (m *Model) Multipliers() []Attachment { return slices.Clone(m.attachments) }

// HasRandomEffects reports whether any rate carries a child smooth.
func (m *Model) HasRandomEffects() bool {
	for _, r := range m.rates {
		if len(r.child) > 0 {
			return true
		}
	}
	return false
}

// SetWeight sets one of the named weight functions.
func (m *Model) SetWeight(name string, w *Var) error {
	if !slices.Contains(WeightNames(), name) {
		return errs.Invalid(name, "unknown weight, want one of %v", WeightNames())
	}
	if w == nil {
		delete(m.weights, name)
		return nil
	}
	if err := w.Check("weight " + name); err != nil {
		return err
	}
	m.weights[name] = w
	return nil
}

// Weight returns the named weight, or nil.
func (m *Model) Weight(name string) *Var { return m.weights[name] }

// SetScale supplies scaling values for the optimizer. A model whose scale
// was set this way keeps it through fitting.
func (m *Model) SetScale(vs VarSet) {
	m.scale = vs
	m.scaleSetByUser = true
}

// AdoptScale records a scale computed elsewhere without marking it as user
// supplied.
func (m *Model) AdoptScale(vs VarSet) { m.scale = vs }

// Scale returns the current scale variables, or nil.
func (m *Model) Scale() VarSet { return m.scale }

// ScaleSetByUser reports whether SetScale was called.
func (m *Model) ScaleSetByUser() bool { return m.scaleSetByUser }

// Vars lists every model variable with its smooth, in key order.
func (m *Model) Vars() []VarSpec {
	var out []VarSpec
	for _, name := range RateNames() {
		r := m.rates[name]
		if r.parent != nil {
			out = append(out, VarSpec{Key: RateKey(name), Smooth: r.parent})
		}
		for _, loc := range r.ChildLocations() {
			out = append(out, VarSpec{Key: RandomEffectKey(name, loc), Smooth: r.child[loc]})
		}
	}
	for _, a := range m.attachments {
		out = append(out, VarSpec{Key: a.Key(), Smooth: a.Multiplier.Smooth()})
	}
	slices.SortFunc(out, func(a, b VarSpec) int { return compareKeys(a.Key, b.Key) })
	return out
}

// Smooth returns the smooth behind key, or nil.
func (m *Model) Smooth(key VarKey) *smooth.Smooth {
	for _, spec := range m.Vars() {
		if spec.Key == key {
			return spec.Smooth
		}
	}
	return nil
}

// CheckAlignment compares the model's variables with vs. It returns nil
// when both have the same keys over the same breakpoints, otherwise an
// *errs.AlignmentError naming every difference.
func (m *Model) CheckAlignment(vs VarSet) error {
	aerr := &errs.AlignmentError{What: "model and variables"}
	seen := make(map[VarKey]bool)
	for _, spec := range m.Vars() {
		seen[spec.Key] = true
		v, ok := vs[spec.Key]
		if !ok || v == nil {
			aerr.Missing = append(aerr.Missing, spec.Key.String())
			continue
		}
		if !v.Breakpoints().Equal(spec.Smooth.Grid()) {
			aerr.Mismatched = append(aerr.Mismatched, fmt.Sprintf("%s (%s vs %s)",
				spec.Key, spec.Smooth.Grid(), v.Breakpoints()))
		}
	}
	for _, k := range vs.Keys() {
		if !seen[k] {
			aerr.Unexpected = append(aerr.Unexpected, k.String())
		}
	}
	if aerr.Empty() {
		return nil
	}
	return aerr
}

// PriorMeans builds the variable set whose values are the value-prior means
// of every cell; cells without a value prior take zero.
func (m *Model) PriorMeans() VarSet {
	out := make(VarSet)
	for _, spec := range m.Vars() {
		v, _ := NewVar(spec.Smooth.Grid())
		for _, c := range spec.Smooth.Value().Cells() {
			mean := 0.0
			if c.Prior.IsSet() {
				mean = c.Prior.Mean()
			}
			_ = v.Set(c.Age, c.Time, mean)
		}
		for _, k := range grid.Kinds() {
			if p := spec.Smooth.Mulstd(k); p.IsSet() {
				v.SetMulstd(k, p.Mean())
			}
		}
		out[spec.Key] = v
	}
	return out
}

// FromVar builds a model whose smooths reproduce vs exactly: each value
// prior is an unbounded uniform whose mean is the variable's value. It is
// used for prediction, which evaluates a variable set rather than fitting
// one. Covariates named by multiplier keys must appear in covariates.
func FromVar(vs VarSet, parentLocation int, weights map[string]*Var, covariates []CovariateColumn) (*Model, error) {
	if err := vs.Check(); err != nil {
		return nil, err
	}
	m := New(parentLocation)
	for _, c := range covariates {
		if err := m.AddCovariate(c); err != nil {
			return nil, err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(weights)) {
		if err := m.SetWeight(name, weights[name]); err != nil {
			return nil, err
		}
	}
	for _, key := range vs.Keys() {
		s, err := smoothAt(vs[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		switch key.Group {
		case GroupRate, GroupRandomEffect:
			rate, err := ParseRate(key.Target)
			if err != nil {
				return nil, err
			}
			if key.Group == GroupRate {
				m.rates[rate].SetParentSmooth(s)
			} else {
				m.rates[rate].SetChildSmooth(key.Location, s)
			}
		case GroupAlpha, GroupBeta, GroupGamma:
			col, ok := m.Covariate(key.Covariate)
			if !ok {
				return nil, errs.Invalid(key.String(), "covariate %q not supplied", key.Covariate)
			}
			mul, err := NewCovariateMultiplier(col, s)
			if err != nil {
				return nil, err
			}
			if err := m.attach(key.Group, key.Target, mul); err != nil {
				return nil, err
			}
		default:
			return nil, errs.Invalid(key.String(), "unknown variable group")
		}
	}
	return m, nil
}

func smoothAt(v *Var) (*smooth.Smooth, error) {
	s, err := smooth.Uniform(v.Breakpoints(), priors.NoPrior, priors.NoPrior, priors.NoPrior)
	if err != nil {
		return nil, err
	}
	for _, c := range v.Cells() {
		p, err := priors.NewUniform(c.Value)
		if err != nil {
			return nil, err
		}
		if err := s.Value().SetPrior(c.Age, c.Time, p); err != nil {
			return nil, err
		}
	}
	for _, k := range grid.Kinds() {
		if x, ok := v.Mulstd(k); ok {
			p, err := priors.NewUniform(x)
			if err != nil {
				return nil, err
			}
			s.SetMulstd(k, p)
		}
	}
	return s, nil
}

// WithPriorMeans returns a copy of the model whose value, dage and dtime
// prior means are replaced by the matching cells of the given sets. A nil
// set leaves that kind alone; cells without a prior are skipped.
func (m *Model) WithPriorMeans(value, dage, dtime VarSet) (*Model, error) {
	out := m.clone()
	for _, spec := range out.Vars() {
		for kind, vs := range map[grid.Kind]VarSet{grid.Value: value, grid.Dage: dage, grid.Dtime: dtime} {
			v := vs[spec.Key]
			if v == nil {
				continue
			}
			pg := spec.Smooth.PriorGrid(kind)
			for _, c := range pg.Cells() {
				if !c.Prior.IsSet() {
					continue
				}
				x, err := v.Value(c.Age, c.Time)
				if err != nil || math.IsNaN(x) {
					continue
				}
				p, err := c.Prior.WithMean(x)
				if err != nil {
					return nil, fmt.Errorf("%s %s: %w", spec.Key, kind, err)
				}
				if err := pg.SetPrior(c.Age, c.Time, p); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func (m *Model) clone() *Model {
	out := New(m.ParentLocation)
	out.covariates = slices.Clone(m.covariates)
	for name, r := range m.rates {
		if r.parent != nil {
			out.rates[name].parent = r.parent.Clone()
		}
		for loc, s := range r.child {
			out.rates[name].child[loc] = s.Clone()
		}
	}
	for _, a := range m.attachments {
		mul := &CovariateMultiplier{column: a.Multiplier.column, smooth: a.Multiplier.smooth.Clone()}
		out.attachments = append(out.attachments, Attachment{Group: a.Group, Target: a.Target, Multiplier: mul})
	}
	for name, w := range m.weights {
		out.weights[name] = w.Clone()
	}
	if m.scale != nil {
		out.scale = m.scale.Clone()
	}
	out.scaleSetByUser = m.scaleSetByUser
	return out
}
