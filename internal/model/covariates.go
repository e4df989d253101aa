package model

import (
	"fmt"
	"math"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/smooth"
)

// CovariateColumn establishes the reference value of a covariate column in
// input and output data. Data whose covariate lies farther than the maximum
// difference from the reference is excluded from the calculation.
//
// CovariateColumn is comparable.
type CovariateColumn struct {
	name          string
	reference     float64
	maxDifference float64
	hasMax        bool
}

// CovariateOption adjusts a CovariateColumn at construction.
type CovariateOption func(*CovariateColumn)

// WithMaxDifference sets the exclusion cutoff. It must be positive.
func WithMaxDifference(d float64) CovariateOption {
	return func(c *CovariateColumn) {
		c.maxDifference = d
		c.hasMax = true
	}
}

// NewCovariateColumn validates and builds a covariate column.
func NewCovariateColumn(name string, reference float64, opts ...CovariateOption) (CovariateColumn, error) {
	c := CovariateColumn{name: name, reference: reference}
	for _, opt := range opts {
		opt(&c)
	}
	if name == "" {
		return CovariateColumn{}, errs.Invalid("covariate", "name must not be empty")
	}
	if math.IsNaN(reference) || math.IsInf(reference, 0) {
		return CovariateColumn{}, errs.Invalid(name, "reference must be finite, got %g", reference)
	}
	if c.hasMax && !(c.maxDifference > 0) {
		return CovariateColumn{}, errs.Invalid(name, "max difference must be positive, got %g", c.maxDifference)
	}
	return c, nil
}

func (c CovariateColumn) Name() string       { return c.name }
func (c CovariateColumn) Reference() float64 { return c.reference }

// MaxDifference returns the cutoff and whether one is set.
func (c CovariateColumn) MaxDifference() (float64, bool) { return c.maxDifference, c.hasMax }

// Excludes reports whether a covariate value lies beyond the cutoff.
func (c CovariateColumn) Excludes(value float64) bool {
	return c.hasMax && math.Abs(value-c.reference) > c.maxDifference
}

func (c CovariateColumn) String() string {
	if c.hasMax {
		return fmt.Sprintf("CovariateColumn(%s, %g, %g)", c.name, c.reference, c.maxDifference)
	}
	return fmt.Sprintf("CovariateColumn(%s, %g)", c.name, c.reference)
}

// CovariateMultiplier makes a covariate column the predictor of a model
// variable. Attaching it to a rate, an integrand value or an integrand
// standard deviation happens on the Model.
type CovariateMultiplier struct {
	column CovariateColumn
	smooth *smooth.Smooth
}

// NewCovariateMultiplier pairs a column with the smoothing grid of its effect.
func NewCovariateMultiplier(column CovariateColumn, s *smooth.Smooth) (*CovariateMultiplier, error) {
	if column.name == "" {
		return nil, errs.Invalid("covariate multiplier", "covariate column is required")
	}
	if s == nil {
		return nil, errs.Invalid(column.name, "covariate multiplier needs a smooth")
	}
	return &CovariateMultiplier{column: column, smooth: s}, nil
}

func (m *CovariateMultiplier) Column() CovariateColumn { return m.column }
func (m *CovariateMultiplier) Smooth() *smooth.Smooth  { return m.smooth }
