package model

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/priors"
	"github.com/alec-deason/cascade/internal/smooth"
)

func bp(t *testing.T, ages, times []float64) grid.Breakpoints {
	t.Helper()
	b, err := grid.NewBreakpoints(ages, times)
	require.NoError(t, err)
	return b
}

func uniformSmooth(t *testing.T, b grid.Breakpoints, mean float64) *smooth.Smooth {
	t.Helper()
	u, err := priors.NewUniform(mean, priors.WithBounds(0, 1))
	require.NoError(t, err)
	s, err := smooth.Uniform(b, u, priors.NoPrior, priors.NoPrior)
	require.NoError(t, err)
	return s
}

func incomeColumn(t *testing.T) CovariateColumn {
	t.Helper()
	c, err := NewCovariateColumn("income", 1000, WithMaxDifference(500))
	require.NoError(t, err)
	return c
}

func sampleModel(t *testing.T) *Model {
	t.Helper()
	b := bp(t, []float64{0, 50}, []float64{2000, 2010})
	m := New(1)
	m.Rate(Iota).SetParentSmooth(uniformSmooth(t, b, 0.01))
	m.Rate(Omega).SetParentSmooth(uniformSmooth(t, b, 0.02))
	mul, err := NewCovariateMultiplier(incomeColumn(t), uniformSmooth(t, bp(t, []float64{0}, []float64{2000}), 0))
	require.NoError(t, err)
	require.NoError(t, m.AddRateMultiplier(Iota, mul))
	return m
}

func TestCovariateColumnValidation(t *testing.T) {
	_, err := NewCovariateColumn("", 0)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = NewCovariateColumn("sex", 0, WithMaxDifference(0))
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = NewCovariateColumn("sex", math.NaN())
	assert.ErrorIs(t, err, errs.ErrValidation)

	c := incomeColumn(t)
	assert.True(t, c.Excludes(1600))
	assert.False(t, c.Excludes(1500))
	plain, err := NewCovariateColumn("sex", 0)
	require.NoError(t, err)
	assert.False(t, plain.Excludes(1e9))
}

func TestModelStartsWithEveryRateEmpty(t *testing.T) {
	m := New(1)
	for _, name := range RateNames() {
		require.NotNil(t, m.Rate(name))
		assert.False(t, m.Rate(name).Enabled())
	}
	assert.Empty(t, m.Vars())
	assert.False(t, m.HasRandomEffects())
}

func TestModelVarsAndRandomEffects(t *testing.T) {
	m := sampleModel(t)
	m.Rate(Iota).SetChildSmooth(3, uniformSmooth(t, bp(t, []float64{0}, []float64{2000}), 0))
	assert.True(t, m.HasRandomEffects())

	var keys []string
	for _, spec := range m.Vars() {
		keys = append(keys, spec.Key.String())
	}
	want := []string{"rate-iota", "rate-omega", "random_effect-iota-3", "alpha-income-iota"}
	assert.Empty(t, cmp.Diff(want, keys))
}

func TestAttachDuplicateMultiplier(t *testing.T) {
	m := sampleModel(t)
	mul, _ := NewCovariateMultiplier(incomeColumn(t), uniformSmooth(t, bp(t, []float64{0}, []float64{2000}), 0))
	assert.ErrorIs(t, m.AddRateMultiplier(Iota, mul), errs.ErrValidation)
	require.NoError(t, m.AddValueMultiplier(Prevalence, mul))

	other, _ := NewCovariateColumn("income", 5)
	mul2, _ := NewCovariateMultiplier(other, uniformSmooth(t, bp(t, []float64{0}, []float64{2000}), 0))
	assert.ErrorIs(t, m.AddStdMultiplier(Prevalence, mul2), errs.ErrValidation, "conflicting reference")
}

func TestCheckAlignment(t *testing.T) {
	m := sampleModel(t)
	vs := m.PriorMeans()
	require.NoError(t, m.CheckAlignment(vs))

	delete(vs, RateKey(Omega))
	vs[RateKey(Chi)], _ = ConstantVar(bp(t, []float64{0}, []float64{2000}), 0.1)
	vs[RateKey(Iota)], _ = ConstantVar(bp(t, []float64{0, 60}, []float64{2000, 2010}), 0.1)

	err := m.CheckAlignment(vs)
	var aerr *errs.AlignmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, []string{"rate-omega"}, aerr.Missing)
	assert.Equal(t, []string{"rate-chi"}, aerr.Unexpected)
	require.Len(t, aerr.Mismatched, 1)
	assert.Contains(t, aerr.Mismatched[0], "rate-iota")
	assert.ErrorIs(t, err, errs.ErrAlignment)
}

func TestPriorMeans(t *testing.T) {
	m := sampleModel(t)
	vs := m.PriorMeans()
	require.NoError(t, vs.Check())
	x, err := vs[RateKey(Omega)].Value(50, 2010)
	require.NoError(t, err)
	assert.Equal(t, 0.02, x)
}

func TestVarCheck(t *testing.T) {
	v, err := NewVar(bp(t, []float64{0, 1}, []float64{2000}))
	require.NoError(t, err)
	require.NoError(t, v.Set(0, 2000, 1))
	assert.ErrorIs(t, v.Check("rate-iota"), errs.ErrValidation)
	_, err = v.Value(1, 2000)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = v.Value(2, 2000)
	assert.ErrorIs(t, err, errs.ErrRange)

	require.NoError(t, v.Set(1, 2000, 2))
	assert.NoError(t, v.Check("rate-iota"))

	vs := VarSet{RateKey(Iota): v, RateKey(Chi): nil}
	assert.ErrorIs(t, vs.Check(), errs.ErrValidation)
}

func TestFromVar(t *testing.T) {
	b := bp(t, []float64{0, 50}, []float64{2000})
	incidence, _ := ConstantVar(b, 0.03)
	incidence.SetMulstd(grid.Value, 1.5)
	re, _ := ConstantVar(b, -0.1)
	alpha, _ := ConstantVar(bp(t, []float64{0}, []float64{2000}), 0.2)
	vs := VarSet{RateKey(Iota): incidence, RandomEffectKey(Iota, 4): re}
	vs[MultiplierKey(GroupAlpha, "iota", "income")] = alpha

	_, err := FromVar(vs, 1, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "covariate not supplied")

	weight, _ := ConstantVar(b, 1)
	m, err := FromVar(vs, 1, map[string]*Var{WeightTotal: weight}, []CovariateColumn{incomeColumn(t)})
	require.NoError(t, err)
	require.NoError(t, m.CheckAlignment(vs))
	assert.True(t, m.HasRandomEffects())
	assert.NotNil(t, m.Weight(WeightTotal))

	p, err := m.Rate(Iota).ParentSmooth().Value().Prior(50, 2000)
	require.NoError(t, err)
	assert.Equal(t, 0.03, p.Mean())
	assert.True(t, math.IsInf(p.Upper(), 1))
	assert.Equal(t, 1.5, m.Rate(Iota).ParentSmooth().Mulstd(grid.Value).Mean())

	incomplete, _ := NewVar(b)
	_, err = FromVar(VarSet{RateKey(Iota): incomplete}, 1, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestWithPriorMeans(t *testing.T) {
	m := sampleModel(t)
	sim := m.PriorMeans()
	sim[RateKey(Iota)].Fill(0.5)

	cp, err := m.WithPriorMeans(sim, nil, nil)
	require.NoError(t, err)
	p, _ := cp.Rate(Iota).ParentSmooth().Value().Prior(0, 2000)
	assert.Equal(t, 0.5, p.Mean())
	p, _ = m.Rate(Iota).ParentSmooth().Value().Prior(0, 2000)
	assert.Equal(t, 0.01, p.Mean(), "original untouched")

	sim[RateKey(Iota)].Fill(7)
	_, err = m.WithPriorMeans(sim, nil, nil)
	assert.ErrorIs(t, err, errs.ErrValidation, "mean outside bounds")
}

func TestParseNames(t *testing.T) {
	r, err := ParseRate("chi")
	require.NoError(t, err)
	assert.Equal(t, Chi, r)
	_, err = ParseRate("zeta")
	assert.ErrorIs(t, err, errs.ErrValidation)

	i, err := ParseIntegrand("Tincidence")
	require.NoError(t, err)
	assert.Equal(t, Tincidence, i)
	assert.Len(t, Integrands(), 13)
	_, err = ParseIntegrand("incidence")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSetWeight(t *testing.T) {
	m := New(1)
	w, _ := ConstantVar(bp(t, []float64{0}, []float64{2000}), 1)
	assert.ErrorIs(t, m.SetWeight("everyone", w), errs.ErrValidation)
	require.NoError(t, m.SetWeight(WeightSusceptible, w))
	assert.Same(t, w, m.Weight(WeightSusceptible))
}
