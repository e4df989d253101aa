package main

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/priors"
	"github.com/alec-deason/cascade/internal/session"
	"github.com/alec-deason/cascade/internal/smooth"
	"github.com/alec-deason/cascade/internal/store"
)

// modelFile is the YAML description of a model and its location hierarchy.
type modelFile struct {
	ParentLocation int                 `yaml:"parent_location"`
	Locations      []locationSpec      `yaml:"locations"`
	Ages           []float64           `yaml:"ages"`
	Times          []float64           `yaml:"times"`
	Rates          map[string]rateSpec `yaml:"rates"`
	Covariates     []covariateSpec     `yaml:"covariates"`
	Multipliers    []multiplierSpec    `yaml:"multipliers"`
	Weights        map[string]float64  `yaml:"weights"`
	MinimumMeasCV  map[string]float64  `yaml:"minimum_meas_cv"`
	Options        session.Options     `yaml:"options"`
}

type locationSpec struct {
	ID     int    `yaml:"id"`
	Parent *int   `yaml:"parent"`
	Name   string `yaml:"name"`
}

type priorSpec struct {
	Density string   `yaml:"density"`
	Mean    float64  `yaml:"mean"`
	Std     float64  `yaml:"std"`
	Nu      float64  `yaml:"nu"`
	Eta     float64  `yaml:"eta"`
	Lower   *float64 `yaml:"lower"`
	Upper   *float64 `yaml:"upper"`
	Name    string   `yaml:"name"`
}

type constraintSpec struct {
	Age  float64 `yaml:"age"`
	Time float64 `yaml:"time"`
	Mean float64 `yaml:"mean"`
}

// smoothSpec is a uniform smooth over the model's grid, or over its own
// ages and times, or a constraint through the listed points.
type smoothSpec struct {
	Ages        []float64        `yaml:"ages"`
	Times       []float64        `yaml:"times"`
	Value       *priorSpec       `yaml:"value"`
	Dage        *priorSpec       `yaml:"dage"`
	Dtime       *priorSpec       `yaml:"dtime"`
	Constraint  []constraintSpec `yaml:"constraint"`
	MulstdValue *priorSpec       `yaml:"mulstd_value"`
	MulstdDage  *priorSpec       `yaml:"mulstd_dage"`
	MulstdDtime *priorSpec       `yaml:"mulstd_dtime"`
}

type rateSpec struct {
	smoothSpec `yaml:",inline"`
	Children   map[int]smoothSpec `yaml:"children"`
}

type covariateSpec struct {
	Name          string   `yaml:"name"`
	Reference     float64  `yaml:"reference"`
	MaxDifference *float64 `yaml:"max_difference"`
}

type multiplierSpec struct {
	smoothSpec `yaml:",inline"`
	Group      string `yaml:"group"`
	Target     string `yaml:"target"`
	Covariate  string `yaml:"covariate"`
}

// readModelFile parses path, rejecting unknown keys.
func readModelFile(path string) (*modelFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var mf modelFile
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("parsing model file %s: %w", path, err)
	}
	if err := mf.Options.Validate(); err != nil {
		return nil, fmt.Errorf("model file options: %w", err)
	}
	return &mf, nil
}

func (mf *modelFile) locations() []store.Location {
	out := make([]store.Location, len(mf.Locations))
	for i, l := range mf.Locations {
		parent := store.NoParent
		if l.Parent != nil {
			parent = *l.Parent
		}
		out[i] = store.Location{ID: l.ID, ParentID: parent, Name: l.Name}
	}
	return out
}

func (mf *modelFile) minimumMeasCV() (map[model.Integrand]float64, error) {
	out := make(map[model.Integrand]float64, len(mf.MinimumMeasCV))
	for name, cv := range mf.MinimumMeasCV {
		integrand, err := model.ParseIntegrand(name)
		if err != nil {
			return nil, err
		}
		out[integrand] = cv
	}
	return out, nil
}

func (mf *modelFile) covariates() ([]model.CovariateColumn, error) {
	out := make([]model.CovariateColumn, 0, len(mf.Covariates))
	for _, c := range mf.Covariates {
		var opts []model.CovariateOption
		if c.MaxDifference != nil {
			opts = append(opts, model.WithMaxDifference(*c.MaxDifference))
		}
		col, err := model.NewCovariateColumn(c.Name, c.Reference, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func (mf *modelFile) weights() (map[string]*model.Var, error) {
	if len(mf.Weights) == 0 {
		return nil, nil
	}
	bp, err := grid.NewBreakpoints(mf.Ages, mf.Times)
	if err != nil {
		return nil, fmt.Errorf("model grid: %w", err)
	}
	out := make(map[string]*model.Var, len(mf.Weights))
	for name, w := range mf.Weights {
		v, err := model.ConstantVar(bp, w)
		if err != nil {
			return nil, fmt.Errorf("weight %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// build turns the description into a model.
func (mf *modelFile) build() (*model.Model, error) {
	m := model.New(mf.ParentLocation)
	covariates, err := mf.covariates()
	if err != nil {
		return nil, err
	}
	for _, c := range covariates {
		if err := m.AddCovariate(c); err != nil {
			return nil, err
		}
	}

	for _, name := range sortedKeys(mf.Rates) {
		spec := mf.Rates[name]
		rate, err := model.ParseRate(name)
		if err != nil {
			return nil, err
		}
		s, err := mf.smooth(spec.smoothSpec)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", name, err)
		}
		m.Rate(rate).SetParentSmooth(s)
		for _, loc := range sortedKeys(spec.Children) {
			child, err := mf.smooth(spec.Children[loc])
			if err != nil {
				return nil, fmt.Errorf("rate %s location %d: %w", name, loc, err)
			}
			m.Rate(rate).SetChildSmooth(loc, child)
		}
	}

	for _, spec := range mf.Multipliers {
		col, ok := m.Covariate(spec.Covariate)
		if !ok {
			return nil, fmt.Errorf("multiplier on %s: unknown covariate %q", spec.Target, spec.Covariate)
		}
		s, err := mf.smooth(spec.smoothSpec)
		if err != nil {
			return nil, fmt.Errorf("multiplier %s %s %s: %w", spec.Group, spec.Target, spec.Covariate, err)
		}
		mul, err := model.NewCovariateMultiplier(col, s)
		if err != nil {
			return nil, err
		}
		switch model.Group(spec.Group) {
		case model.GroupAlpha:
			rate, err := model.ParseRate(spec.Target)
			if err != nil {
				return nil, err
			}
			err = m.AddRateMultiplier(rate, mul)
			if err != nil {
				return nil, err
			}
		case model.GroupBeta, model.GroupGamma:
			integrand, err := model.ParseIntegrand(spec.Target)
			if err != nil {
				return nil, err
			}
			if model.Group(spec.Group) == model.GroupBeta {
				err = m.AddValueMultiplier(integrand, mul)
			} else {
				err = m.AddStdMultiplier(integrand, mul)
			}
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown multiplier group %q", spec.Group)
		}
	}

	weights, err := mf.weights()
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(weights) {
		if err := m.SetWeight(name, weights[name]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (mf *modelFile) smooth(spec smoothSpec) (*smooth.Smooth, error) {
	var s *smooth.Smooth
	if len(spec.Constraint) > 0 {
		points := make([]smooth.ConstraintPoint, len(spec.Constraint))
		for i, c := range spec.Constraint {
			points[i] = smooth.ConstraintPoint{Age: c.Age, Time: c.Time, Mean: c.Mean}
		}
		var err error
		if s, err = smooth.Constraint(points); err != nil {
			return nil, err
		}
	} else {
		ages, times := spec.Ages, spec.Times
		if len(ages) == 0 {
			ages = mf.Ages
		}
		if len(times) == 0 {
			times = mf.Times
		}
		bp, err := grid.NewBreakpoints(ages, times)
		if err != nil {
			return nil, err
		}
		value, err := spec.Value.build()
		if err != nil {
			return nil, fmt.Errorf("value prior: %w", err)
		}
		dage, err := spec.Dage.build()
		if err != nil {
			return nil, fmt.Errorf("dage prior: %w", err)
		}
		dtime, err := spec.Dtime.build()
		if err != nil {
			return nil, fmt.Errorf("dtime prior: %w", err)
		}
		if s, err = smooth.Uniform(bp, value, dage, dtime); err != nil {
			return nil, err
		}
	}
	for kind, p := range map[grid.Kind]*priorSpec{grid.Value: spec.MulstdValue, grid.Dage: spec.MulstdDage, grid.Dtime: spec.MulstdDtime} {
		if p == nil {
			continue
		}
		prior, err := p.build()
		if err != nil {
			return nil, fmt.Errorf("mulstd %s prior: %w", kind, err)
		}
		s.SetMulstd(kind, prior)
	}
	return s, nil
}

// build returns NoPrior for a missing spec. Bounds default to unbounded.
func (p *priorSpec) build() (priors.Prior, error) {
	if p == nil {
		return priors.NoPrior, nil
	}
	params := priors.Parameters{
		Density: priors.Density(p.Density),
		Mean:    p.Mean,
		Std:     p.Std,
		Nu:      p.Nu,
		Eta:     p.Eta,
		Lower:   math.Inf(-1),
		Upper:   math.Inf(1),
	}
	if p.Lower != nil {
		params.Lower = *p.Lower
	}
	if p.Upper != nil {
		params.Upper = *p.Upper
	}
	return priors.FromParameters(params, p.Name)
}

// varsFrame lays a variable set out one row per grid cell, for CSV output.
func varsFrame(vs model.VarSet) *data.Frame {
	var groups, targets, covariates []string
	var locations, ages, times, values []float64
	for _, key := range vs.Keys() {
		for _, c := range vs[key].Cells() {
			groups = append(groups, string(key.Group))
			targets = append(targets, key.Target)
			covariates = append(covariates, key.Covariate)
			locations = append(locations, float64(key.Location))
			ages = append(ages, c.Age)
			times = append(times, c.Time)
			value := c.Value
			if !c.Set {
				value = math.NaN()
			}
			values = append(values, value)
		}
	}
	f := data.NewFrame(len(values))
	_ = f.SetText("group", groups, nil)
	_ = f.SetText("target", targets, nil)
	_ = f.SetText("covariate", covariates, nil)
	_ = f.SetFloat(data.ColLocation, locations)
	_ = f.SetFloat(data.ColAge, ages)
	_ = f.SetFloat(data.ColTime, times)
	_ = f.SetFloat("value", values)
	return f
}

func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
