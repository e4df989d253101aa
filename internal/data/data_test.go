package data

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/cascade/internal/errs"
)

func pointFrame(t *testing.T) *Frame {
	t.Helper()
	f := NewFrame(3)
	require.NoError(t, f.SetText(ColIntegrand, []string{"prevalence", "Sincidence", "prevalence"}, nil))
	require.NoError(t, f.SetFloat(ColAge, []float64{0, 10, 50}))
	require.NoError(t, f.SetFloat(ColTime, []float64{2000, 2000, 2010}))
	require.NoError(t, f.SetFloat(ColMeasValue, []float64{0.01, 0.02, 0.03}))
	return f
}

func TestPointToInterval(t *testing.T) {
	f := pointFrame(t)
	require.NoError(t, f.SetFloat(ColAgeUpper, []float64{5, 15, 55}))
	out, err := PointToInterval(f)
	require.NoError(t, err)

	assert.False(t, out.Has(ColAge))
	assert.False(t, out.Has(ColTime))
	lower, err := out.Float(ColAgeLower)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 50}, lower)
	upper, _ := out.Float(ColAgeUpper)
	assert.Equal(t, []float64{5, 15, 55}, upper, "existing bound kept")
	tl, _ := out.Float(ColTimeLower)
	tu, _ := out.Float(ColTimeUpper)
	assert.Equal(t, tl, tu)
	assert.True(t, f.Has(ColAge), "input untouched")
}

func TestNormalizeRejectsTextPoints(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("integrand,age,time,meas_value\nprevalence,n/a,2000,0.1\n"))
	require.NoError(t, err)
	require.False(t, f.IsNumeric(ColAge))

	_, err = Normalize(f)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.ErrorContains(t, err, ColAge)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	out, err := Normalize(pointFrame(t))
	require.NoError(t, err)

	names, null, err := out.Text(ColName)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, names)
	assert.Equal(t, []bool{false, false, false}, null)

	hold, _ := out.Float(ColHoldOut)
	assert.Equal(t, []float64{0, 0, 0}, hold)
	for _, col := range []string{ColNu, ColEta} {
		vals, err := out.Float(col)
		require.NoError(t, err)
		for _, v := range vals {
			assert.True(t, math.IsNaN(v), "%s defaults to unspecified", col)
		}
	}
}

func TestNormalizeRejectsNullNames(t *testing.T) {
	f := pointFrame(t)
	require.NoError(t, f.SetText(ColName, []string{"a", "", "c"}, []bool{false, true, false}))
	_, err := Normalize(f)
	assert.ErrorIs(t, err, errs.ErrValidation)

	f = pointFrame(t)
	require.NoError(t, f.SetFloat(ColName, []float64{1, math.NaN(), 3}))
	_, err = Normalize(f)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestNormalizeKeepsSuppliedColumns(t *testing.T) {
	f := pointFrame(t)
	require.NoError(t, f.SetFloat(ColHoldOut, []float64{1, 0, 1}))
	require.NoError(t, f.SetFloat(ColEta, []float64{1e-5, 1e-5, 1e-5}))
	out, err := Normalize(f)
	require.NoError(t, err)
	hold, _ := out.Float(ColHoldOut)
	assert.Equal(t, []float64{1, 0, 1}, hold)
	eta, _ := out.Float(ColEta)
	assert.Equal(t, 1e-5, eta[2])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []*Frame{pointFrame(t)}
	named := pointFrame(t)
	require.NoError(t, named.SetFloat(ColName, []float64{7, 8, 9}))
	inputs = append(inputs, named)

	for _, f := range inputs {
		once, err := Normalize(f)
		require.NoError(t, err)
		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.True(t, once.Equal(twice), "columns %v vs %v", once.Columns(), twice.Columns())
	}
}

func TestFrameShapeAndSelect(t *testing.T) {
	f := NewFrame(2)
	assert.ErrorIs(t, f.SetFloat("x", []float64{1}), errs.ErrShape)
	require.NoError(t, f.SetFloat("x", []float64{1, 2}))
	require.NoError(t, f.SetText("y", []string{"a", "b"}, nil))

	sub := f.Select([]int{1})
	assert.Equal(t, 1, sub.Len())
	x, _ := sub.Float("x")
	assert.Equal(t, []float64{2}, x)
	_, err := sub.Float("y")
	assert.ErrorIs(t, err, errs.ErrValidation)

	f.Drop("x", "missing")
	assert.Equal(t, []string{"y"}, f.Columns())
}

func TestCSVRoundTrip(t *testing.T) {
	in := "name,integrand,age,meas_value,note\n" +
		"a,prevalence,0,0.1,\n" +
		"b,Sincidence,10,,hi\n"
	f, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.True(t, f.IsNumeric(ColAge))
	assert.False(t, f.IsNumeric(ColName))
	assert.False(t, f.IsNumeric("note"))
	mv, _ := f.Float(ColMeasValue)
	assert.True(t, math.IsNaN(mv[1]))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, f))
	assert.Equal(t, in, buf.String())

	_, err = ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}
