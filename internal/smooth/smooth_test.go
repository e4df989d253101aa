package smooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/priors"
)

func breakpoints(t *testing.T, ages, times []float64) grid.Breakpoints {
	t.Helper()
	bp, err := grid.NewBreakpoints(ages, times)
	require.NoError(t, err)
	return bp
}

func TestPriorGridDefaultsToNoPrior(t *testing.T) {
	pg, err := NewPriorGrid(grid.Dage, breakpoints(t, []float64{0, 50}, []float64{2000}))
	require.NoError(t, err)
	for _, c := range pg.Cells() {
		assert.False(t, c.Prior.IsSet())
	}
	assert.False(t, pg.Mulstd().IsSet())
}

func TestPriorGridBroadcast(t *testing.T) {
	pg, err := NewPriorGrid(grid.Value, breakpoints(t, []float64{0, 1, 10}, []float64{2000, 2010}))
	require.NoError(t, err)

	u, err := priors.NewUniform(0.01, priors.WithBounds(1e-10, 1))
	require.NoError(t, err)
	require.NoError(t, pg.SetAll(u))
	for _, c := range pg.Cells() {
		assert.True(t, c.Prior.Equal(u))
	}

	g, _ := priors.NewGaussian(0.1, 0.05, priors.WithBounds(0, 1))
	require.NoError(t, pg.SetRange(grid.All(), grid.Between(2005, 2020), g))
	got, err := pg.Prior(10, 2010)
	require.NoError(t, err)
	assert.True(t, got.Equal(g))
	got, _ = pg.Prior(10, 2000)
	assert.True(t, got.Equal(u))

	assert.ErrorIs(t, pg.SetRange(grid.Between(20, 30), grid.All(), g), errs.ErrRange)
	_, err = pg.Prior(2, 2000)
	assert.ErrorIs(t, err, errs.ErrRange)
}

func TestConstraintGrid(t *testing.T) {
	bp := breakpoints(t, []float64{0, 5, 10}, []float64{1990, 2000})
	points := []ConstraintPoint{{Age: 0, Time: 1990, Mean: 0.002}, {Age: 10, Time: 2000, Mean: 0.01}}
	pg, err := NewConstraintGrid(bp, points)
	require.NoError(t, err)

	set := 0
	for _, c := range pg.Cells() {
		if !c.Prior.IsSet() {
			continue
		}
		set++
		assert.Equal(t, c.Prior.Lower(), c.Prior.Upper())
	}
	assert.Equal(t, 2, set)
	p, _ := pg.Prior(10, 2000)
	assert.Equal(t, 0.01, p.Mean())

	_, err = NewConstraintGrid(bp, []ConstraintPoint{{Age: 3, Time: 1990, Mean: 1}})
	assert.ErrorIs(t, err, errs.ErrRange)
}

func TestSmoothAlignment(t *testing.T) {
	a := breakpoints(t, []float64{0, 10}, []float64{2000})
	b := breakpoints(t, []float64{0, 20}, []float64{2000})
	value, _ := NewPriorGrid(grid.Value, a)
	dage, _ := NewPriorGrid(grid.Dage, a)
	dtime, _ := NewPriorGrid(grid.Dtime, b)

	_, err := New(value, dage, dtime)
	assert.ErrorIs(t, err, errs.ErrAlignment)

	dtime, _ = NewPriorGrid(grid.Dtime, a)
	s, err := New(value, dage, dtime)
	require.NoError(t, err)
	assert.True(t, s.Grid().Equal(a))

	_, err = New(value, dtime, dage)
	assert.ErrorIs(t, err, errs.ErrValidation, "kinds out of order")
}

func TestSmoothMulstd(t *testing.T) {
	u, _ := priors.NewUniform(0.5, priors.WithBounds(0, 1))
	s, err := Uniform(breakpoints(t, []float64{0}, []float64{2000}), u, priors.NoPrior, priors.NoPrior)
	require.NoError(t, err)
	assert.False(t, s.HasMulstd(grid.Value))

	m, _ := priors.NewGaussian(1, 0.1)
	s.SetMulstd(grid.Dtime, m)
	assert.True(t, s.HasMulstd(grid.Dtime))
	assert.True(t, s.Mulstd(grid.Dtime).Equal(m))
	assert.False(t, s.HasMulstd(grid.Dage))
}

func TestConstraintSmooth(t *testing.T) {
	points := []ConstraintPoint{
		{Age: 50, Time: 2000, Mean: 0.01},
		{Age: 0, Time: 2000, Mean: 0.001},
		{Age: 0, Time: 1990, Mean: 0.002},
	}
	s, err := Constraint(points)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 50}, s.Grid().Ages())
	assert.Equal(t, []float64{1990, 2000}, s.Grid().Times())

	p, err := s.Value().Prior(50, 1990)
	require.NoError(t, err)
	assert.False(t, p.IsSet(), "uncovered cell gets NoPrior")
	for _, c := range s.Dage().Cells() {
		assert.False(t, c.Prior.IsSet())
	}
}

func TestSmoothCloneIsIndependent(t *testing.T) {
	bp := breakpoints(t, []float64{0, 10}, []float64{2000})
	u, _ := priors.NewUniform(0.1, priors.WithBounds(0, 1))
	s, err := Uniform(bp, u, priors.NoPrior, priors.NoPrior)
	require.NoError(t, err)
	m, _ := priors.NewGaussian(1, 0.2)
	s.SetMulstd(grid.Value, m)

	cp := s.Clone()
	other, _ := u.WithMean(0.5)
	require.NoError(t, cp.Value().SetPrior(10, 2000, other))

	p, _ := s.Value().Prior(10, 2000)
	assert.Equal(t, 0.1, p.Mean())
	p, _ = cp.Value().Prior(10, 2000)
	assert.Equal(t, 0.5, p.Mean())
	assert.True(t, cp.Mulstd(grid.Value).Equal(m))
}
