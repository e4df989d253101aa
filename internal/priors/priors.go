// Package priors provides the immutable univariate distributions attached to
// smoothing grid cells and to multiplier (mulstd) slots.
//
// A Prior is a plain value. Equality is structural over its density and
// parameters; the optional name never participates. Parameters is comparable,
// so it can be used directly as a map key when priors are deduplicated for the
// store's prior table.
package priors

import (
	"fmt"
	"math"

	"github.com/alec-deason/cascade/internal/errs"
)

// Density tags the distribution family of a Prior.
type Density string

const (
	Uniform     Density = "uniform"
	Gaussian    Density = "gaussian"
	Laplace     Density = "laplace"
	Students    Density = "students"
	LogGaussian Density = "log_gaussian"
	LogLaplace  Density = "log_laplace"
	LogStudents Density = "log_students"
)

// Densities lists every density in the order the engine numbers them.
func Densities() []Density {
	return []Density{Uniform, Gaussian, Laplace, Students, LogGaussian, LogLaplace, LogStudents}
}

// ParseDensity maps a density name to its tag.
func ParseDensity(name string) (Density, error) {
	for _, d := range Densities() {
		if string(d) == name {
			return d, nil
		}
	}
	return "", errs.Invalid("density", "unknown density %q", name)
}

// UsesStd reports whether the density has a standard deviation.
func (d Density) UsesStd() bool { return d != Uniform && d != "" }

// UsesNu reports whether the density has a degrees-of-freedom parameter.
func (d Density) UsesNu() bool { return d == Students || d == LogStudents }

// UsesEta reports whether the density has a log offset.
func (d Density) UsesEta() bool { return d == LogGaussian || d == LogLaplace || d == LogStudents }

// Parameters is the complete, density-tagged parameter set of a Prior.
// Fields a density does not use are zero.
type Parameters struct {
	Density Density
	Lower   float64
	Upper   float64
	Mean    float64
	Std     float64
	Nu      float64
	Eta     float64
}

// Prior is a validated distribution with bounds.
// The zero value is NoPrior.
type Prior struct {
	params Parameters
	name   string
}

// NoPrior marks a cell that is neither smoothed nor constrained.
var NoPrior = Prior{}

// Option adjusts optional prior fields at construction.
type Option func(*Prior)

// WithBounds sets the lower and upper bounds. Defaults are -Inf and +Inf.
func WithBounds(lower, upper float64) Option {
	return func(p *Prior) {
		p.params.Lower = lower
		p.params.Upper = upper
	}
}

// WithName attaches a display name. Names do not affect equality.
func WithName(name string) Option {
	return func(p *Prior) { p.name = name }
}

// NewUniform constructs a uniform prior.
func NewUniform(mean float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: Uniform, Mean: mean}, opts)
}

// NewGaussian constructs a gaussian prior.
func NewGaussian(mean, std float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: Gaussian, Mean: mean, Std: std}, opts)
}

// NewLaplace constructs a laplace prior. It shares the gaussian parameter shape.
func NewLaplace(mean, std float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: Laplace, Mean: mean, Std: std}, opts)
}

// NewStudentsT constructs a Student's-t prior.
func NewStudentsT(mean, std, nu float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: Students, Mean: mean, Std: std, Nu: nu}, opts)
}

// NewLogGaussian constructs a log-gaussian prior.
func NewLogGaussian(mean, std, eta float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: LogGaussian, Mean: mean, Std: std, Eta: eta}, opts)
}

// NewLogLaplace constructs a log-laplace prior. It shares the log-gaussian parameter shape.
func NewLogLaplace(mean, std, eta float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: LogLaplace, Mean: mean, Std: std, Eta: eta}, opts)
}

// NewLogStudentsT constructs a log Student's-t prior.
func NewLogStudentsT(mean, std, nu, eta float64, opts ...Option) (Prior, error) {
	return build(Parameters{Density: LogStudents, Mean: mean, Std: std, Nu: nu, Eta: eta}, opts)
}

// Constant constructs a degenerate uniform prior pinned at value.
func Constant(value float64, opts ...Option) (Prior, error) {
	opts = append([]Option{WithBounds(value, value)}, opts...)
	return build(Parameters{Density: Uniform, Mean: value}, opts)
}

// FromParameters validates a full parameter set, as read back from a store
// or a configuration file. Unused fields are cleared.
func FromParameters(params Parameters, name string) (Prior, error) {
	if _, err := ParseDensity(string(params.Density)); err != nil {
		return NoPrior, err
	}
	p := Prior{params: params, name: name}
	p.clearUnused()
	if err := p.validate(); err != nil {
		return NoPrior, err
	}
	return p, nil
}

func build(params Parameters, opts []Option) (Prior, error) {
	params.Lower = math.Inf(-1)
	params.Upper = math.Inf(1)
	p := Prior{params: params}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.validate(); err != nil {
		return NoPrior, err
	}
	return p, nil
}

func (p *Prior) clearUnused() {
	d := p.params.Density
	if !d.UsesStd() {
		p.params.Std = 0
	}
	if !d.UsesNu() {
		p.params.Nu = 0
	}
	if !d.UsesEta() {
		p.params.Eta = 0
	}
}

func (p Prior) validate() error {
	field := string(p.params.Density)
	lower, mean, upper := p.params.Lower, p.params.Mean, p.params.Upper
	if !(lower <= mean && mean <= upper) {
		return errs.Invalid(field, "bounds are inconsistent: need %g <= %g <= %g", lower, mean, upper)
	}
	if p.params.Density.UsesStd() {
		if math.IsNaN(p.params.Std) || p.params.Std < 0 {
			return errs.Invalid(field, "standard deviation must be non-negative, got %g", p.params.Std)
		}
	}
	if p.params.Density.UsesNu() {
		if math.IsNaN(p.params.Nu) || p.params.Nu < 0 {
			return errs.Invalid(field, "nu must be non-negative, got %g", p.params.Nu)
		}
	}
	if p.params.Density.UsesEta() && math.IsNaN(p.params.Eta) {
		return errs.Invalid(field, "eta must be a number")
	}
	return nil
}

// IsSet reports whether p is a real prior rather than NoPrior.
func (p Prior) IsSet() bool { return p.params.Density != "" }

// Parameters returns the density-tagged parameter set.
func (p Prior) Parameters() Parameters { return p.params }

func (p Prior) Density() Density { return p.params.Density }
func (p Prior) Mean() float64    { return p.params.Mean }
func (p Prior) Lower() float64   { return p.params.Lower }
func (p Prior) Upper() float64   { return p.params.Upper }
func (p Prior) Name() string     { return p.name }

// Std returns the standard deviation and whether the density uses one.
func (p Prior) Std() (float64, bool) { return p.params.Std, p.params.Density.UsesStd() }

// Nu returns the degrees of freedom and whether the density uses them.
func (p Prior) Nu() (float64, bool) { return p.params.Nu, p.params.Density.UsesNu() }

// Eta returns the log offset and whether the density uses one.
func (p Prior) Eta() (float64, bool) { return p.params.Eta, p.params.Density.UsesEta() }

// Equal compares density and parameters. Names are ignored.
func (p Prior) Equal(other Prior) bool { return p.params == other.params }

// WithMean returns a copy centered on mean, revalidated against the bounds.
func (p Prior) WithMean(mean float64) (Prior, error) {
	if !p.IsSet() {
		return NoPrior, errs.Invalid("prior", "cannot recenter an unset prior")
	}
	out := p
	out.params.Mean = mean
	if err := out.validate(); err != nil {
		return NoPrior, err
	}
	return out, nil
}

func (p Prior) String() string {
	if !p.IsSet() {
		return "NoPrior"
	}
	s := fmt.Sprintf("%s(mean=%g, lower=%g, upper=%g", p.params.Density, p.params.Mean, p.params.Lower, p.params.Upper)
	if p.params.Density.UsesStd() {
		s += fmt.Sprintf(", std=%g", p.params.Std)
	}
	if p.params.Density.UsesNu() {
		s += fmt.Sprintf(", nu=%g", p.params.Nu)
	}
	if p.params.Density.UsesEta() {
		s += fmt.Sprintf(", eta=%g", p.params.Eta)
	}
	return s + ")"
}
