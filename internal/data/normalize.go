package data

import (
	"math"
	"strconv"

	"github.com/alec-deason/cascade/internal/errs"
)

// Standard column names.
const (
	ColName      = "name"
	ColHoldOut   = "hold_out"
	ColNu        = "nu"
	ColEta       = "eta"
	ColAge       = "age"
	ColTime      = "time"
	ColAgeLower  = "age_lower"
	ColAgeUpper  = "age_upper"
	ColTimeLower = "time_lower"
	ColTimeUpper = "time_upper"
	ColIntegrand = "integrand"
	ColLocation  = "location"
	ColDensity   = "density"
	ColMeasValue = "meas_value"
	ColMeasStd   = "meas_std"
)

// PointToInterval fills missing lower and upper bounds from point age and
// time columns, then drops the point columns. It returns a new frame. A point
// column that is not numeric is a ValidationError.
func PointToInterval(f *Frame) (*Frame, error) {
	out := f.Clone()
	for _, axis := range []string{ColAge, ColTime} {
		if !out.Has(axis) {
			continue
		}
		if !out.IsNumeric(axis) {
			return nil, errs.Invalid(axis, "must be numeric")
		}
		point, err := out.Float(axis)
		if err != nil {
			return nil, err
		}
		for _, bound := range []string{axis + "_lower", axis + "_upper"} {
			if !out.Has(bound) {
				_ = out.SetFloat(bound, point)
			}
		}
	}
	out.Drop(ColAge, ColTime)
	return out, nil
}

// Normalize converts point ages and times to intervals and fills optional
// columns: name from row position, hold_out as 0, nu and eta as NaN. A name
// column that is present but has nulls is a ValidationError. Normalize is
// idempotent.
func Normalize(f *Frame) (*Frame, error) {
	out, err := PointToInterval(f)
	if err != nil {
		return nil, err
	}

	if !out.Has(ColName) {
		names := make([]string, out.Len())
		for i := range names {
			names[i] = strconv.Itoa(i)
		}
		_ = out.SetText(ColName, names, nil)
	} else {
		names, null, err := out.Text(ColName)
		if err != nil {
			return nil, err
		}
		var missing []int
		for i, isNull := range null {
			if isNull {
				missing = append(missing, i)
			}
		}
		if len(missing) > 0 {
			return nil, errs.Invalid(ColName, "%d rows lack a data name, first at row %d", len(missing), missing[0])
		}
		_ = out.SetText(ColName, names, nil)
	}

	if !out.Has(ColHoldOut) {
		_ = out.SetFloat(ColHoldOut, make([]float64, out.Len()))
	}
	for _, col := range []string{ColNu, ColEta} {
		if !out.Has(col) {
			nan := make([]float64, out.Len())
			for i := range nan {
				nan[i] = math.NaN()
			}
			_ = out.SetFloat(col, nan)
		}
	}
	return out, nil
}
