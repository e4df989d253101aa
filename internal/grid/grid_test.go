package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/cascade/internal/errs"
)

func TestCreate(t *testing.T) {
	g, err := New[float64]([]float64{0, 1, 10}, []float64{2000, 2010}, "var_id")
	require.NoError(t, err)
	assert.Equal(t, 6, g.Len())
	assert.Len(t, g.MulstdRows(), 3)

	cols := []string{"var_id", "other_id", "residual"}
	g, err = New[float64]([]float64{0, 1, 10}, []float64{2000, 2010}, cols...)
	require.NoError(t, err)
	assert.ElementsMatch(t, cols, g.Columns())
}

func TestCreateRowCountProperty(t *testing.T) {
	axes := [][]float64{{0}, {0, 5}, {1, 2, 3, 4}, {-15, 2.4, 3.7}}
	for _, ages := range axes {
		for _, times := range axes {
			g, err := New[int](ages, times, "a", "b")
			require.NoError(t, err)
			assert.Equal(t, len(ages)*len(times), g.Len())
			assert.Len(t, g.MulstdRows(), 3)
			for _, k := range g.Breakpoints().Keys() {
				_, err := g.At(k.Age, k.Time)
				assert.NoError(t, err)
			}
		}
	}
}

func TestCreateWrong(t *testing.T) {
	_, err := New[float64](nil, []float64{2010}, "mean")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = New[float64]([]float64{1, 1}, []float64{2010}, "mean")
	assert.ErrorIs(t, err, errs.ErrValidation, "duplicate ages")

	_, err = New[float64]([]float64{1}, []float64{2010}, "mean", "mean")
	assert.ErrorIs(t, err, errs.ErrValidation, "duplicate columns")

	g, err := New[float64]([]float64{40}, []float64{2010}, "not_a_column")
	require.NoError(t, err)
	assert.Contains(t, g.Columns(), "not_a_column")
}

func TestAssignPoint(t *testing.T) {
	g, err := New[float64]([]float64{0, 1, 10}, []float64{2000, 2010}, "var_id")
	require.NoError(t, err)

	require.NoError(t, g.Set(1, 2010, 37))
	row, err := g.At(1, 2010)
	require.NoError(t, err)
	v, ok := row.Get("var_id")
	assert.True(t, ok)
	assert.Equal(t, 37.0, v)

	_, err = g.At(2, 2010)
	assert.ErrorIs(t, err, errs.ErrRange)
	assert.ErrorIs(t, g.Set(1, 2010, 1, 2), errs.ErrShape)
}

func TestPointRoundTripEveryBreakpoint(t *testing.T) {
	g, err := New[float64]([]float64{0, 1, 5, 10}, []float64{1990, 2000, 2010}, "v")
	require.NoError(t, err)
	for i, k := range g.Breakpoints().Keys() {
		require.NoError(t, g.Set(k.Age, k.Time, float64(i)))
	}
	for i, k := range g.Breakpoints().Keys() {
		row, err := g.At(k.Age, k.Time)
		require.NoError(t, err)
		v, _ := row.Get("v")
		assert.Equal(t, float64(i), v)
	}
}

func TestSetRegionsSingleColumn(t *testing.T) {
	g, err := New[float64]([]float64{0, 1, 10}, []float64{2000, 2010}, "var_id")
	require.NoError(t, err)

	all, err := g.Select(All(), All())
	require.NoError(t, err)
	assert.ErrorIs(t, all.SetField("var_id", 204), errs.ErrShape)

	require.NoError(t, all.Assign(204))
	assert.Equal(t, 204.0, get(t, g, 10, 2000, "var_id"))

	sel, err := g.Select(Between(5, 17), All())
	require.NoError(t, err)
	sel.Fill(37)
	assert.Equal(t, 37.0, get(t, g, 10, 2010, "var_id"))
	assert.Equal(t, 204.0, get(t, g, 1, 2010, "var_id"))

	sel, err = g.Select(All(), Between(2005, 2015))
	require.NoError(t, err)
	require.NoError(t, sel.Assign(321))
	assert.Equal(t, 321.0, get(t, g, 0, 2010, "var_id"))
	assert.Equal(t, 204.0, get(t, g, 0, 2000, "var_id"))

	require.NoError(t, sel.AssignColumns(map[string]float64{"var_id": 21}))
	assert.Equal(t, 21.0, get(t, g, 0, 2010, "var_id"))

	_, err = g.Select(All(), Between(2015, 2020))
	assert.ErrorIs(t, err, errs.ErrRange)
}

func TestRangeAssignmentTouchesOnlyInterval(t *testing.T) {
	ages := []float64{0, 1, 5, 10, 20}
	times := []float64{1990, 1995, 2000, 2005}
	g, err := New[int](ages, times, "v")
	require.NoError(t, err)
	all, _ := g.Select(All(), All())
	all.Fill(-1)

	sel, err := g.Select(Between(0.5, 10), Upto(1997))
	require.NoError(t, err)
	sel.Fill(9)

	for _, r := range g.Rows() {
		v, _ := r.Get("v")
		inside := r.Age >= 0.5 && r.Age <= 10 && r.Time <= 1997
		if inside {
			assert.Equal(t, 9, v, "age=%g time=%g", r.Age, r.Time)
		} else {
			assert.Equal(t, -1, v, "age=%g time=%g", r.Age, r.Time)
		}
	}
	assert.Equal(t, 3*2, sel.Len())
}

func TestOpenBoundRestrictsOtherAxisOnly(t *testing.T) {
	g, err := New[int]([]float64{0, 10}, []float64{2000, 2010}, "v")
	require.NoError(t, err)

	sel, err := g.Select(From(5), All())
	require.NoError(t, err)
	assert.Equal(t, 2, sel.Len())
	for _, r := range sel.Rows() {
		assert.Equal(t, 10.0, r.Age)
	}

	_, err = g.Select(From(11), All())
	assert.ErrorIs(t, err, errs.ErrRange)
}

func TestMultipleColumnsAndReorder(t *testing.T) {
	g, err := New[float64]([]float64{3.7, 2.4, -15}, []float64{0, 5, 10}, "height", "weight")
	require.NoError(t, err)
	assert.Equal(t, []float64{-15, 2.4, 3.7}, g.Breakpoints().Ages())

	require.NoError(t, g.Set(2.4, 10, 6, 199))
	assert.Equal(t, 6.0, get(t, g, 2.4, 10, "height"))
	assert.Equal(t, 199.0, get(t, g, 2.4, 10, "weight"))

	all, _ := g.Select(All(), All())
	require.NoError(t, all.Assign(5.1, 130))
	assert.Equal(t, 5.1, get(t, g, -15, 10, "height"))
	assert.Equal(t, 5.1, get(t, g, 2.4, 10, "height"))
	require.NoError(t, g.Set(2.4, 10, 6, 199))

	require.NoError(t, g.Reorder("weight", "height"))
	require.NoError(t, g.Set(3.7, 5, 205, 4.7))
	assert.Equal(t, 4.7, get(t, g, 3.7, 5, "height"))
	assert.Equal(t, 205.0, get(t, g, 3.7, 5, "weight"))
	// values written before the reorder are still found by name
	assert.Equal(t, 6.0, get(t, g, 2.4, 10, "height"))
	assert.Equal(t, 199.0, get(t, g, 2.4, 10, "weight"))

	row, _ := g.At(2.4, 0)
	require.NoError(t, row.Set("height", 5.6))
	assert.Equal(t, 5.6, get(t, g, 2.4, 0, "height"))

	assert.ErrorIs(t, g.Reorder("weight"), errs.ErrShape)
	assert.ErrorIs(t, g.Reorder("weight", "weight"), errs.ErrValidation)
}

func TestMulstdRows(t *testing.T) {
	g, err := New[string]([]float64{0}, []float64{2000}, "prior")
	require.NoError(t, err)
	for _, k := range Kinds() {
		row := g.Mulstd(k)
		kind, ok := row.Kind()
		assert.True(t, ok)
		assert.Equal(t, k, kind)
		_, set := row.Get("prior")
		assert.False(t, set)
	}
	require.NoError(t, g.Mulstd(Dage).Set("prior", "x"))
	v, _ := g.Mulstd(Dage).Get("prior")
	assert.Equal(t, "x", v)
	_, isMulstd := g.Rows()[0].Kind()
	assert.False(t, isMulstd)
}

func TestSelectionColumn(t *testing.T) {
	g, err := New[int]([]float64{0, 1}, []float64{2000}, "a", "b")
	require.NoError(t, err)
	require.NoError(t, g.Set(0, 2000, 1, 2))
	require.NoError(t, g.Set(1, 2000, 3, 4))
	sel, _ := g.Select(All(), All())
	col, err := sel.Column("b")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, col)
	_, err = sel.Column("c")
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.ErrorIs(t, sel.AssignColumns(map[string]int{"c": 1}), errs.ErrValidation)
}

func get[V any](t *testing.T, g *AgeTimeGrid[V], age, time float64, col string) V {
	t.Helper()
	row, err := g.At(age, time)
	require.NoError(t, err)
	v, ok := row.Get(col)
	require.True(t, ok, "column %s unset at (%g, %g)", col, age, time)
	return v
}
