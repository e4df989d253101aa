package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/model"
)

// PriorResidual is the weighted residual of one variable's priors at the fit.
// Residuals the engine did not report are NaN.
type PriorResidual struct {
	Key    model.VarKey
	Mulstd bool
	Age    float64
	Time   float64
	Value  float64
	Dage   float64
	Dtime  float64
}

// PriorResiduals reads the residual columns of the fit_var table.
func (s *Store) PriorResiduals(ctx context.Context) ([]PriorResidual, error) {
	lay, err := s.layout(ctx)
	if err != nil {
		return nil, err
	}
	fit, err := s.table(ctx, TableFitVar)
	if err != nil {
		return nil, err
	}
	byID := fit.lookup("fit_var_id")
	out := make([]PriorResidual, 0, len(lay.rows))
	for _, row := range lay.rows {
		i, ok := byID[row.id]
		if !ok {
			continue
		}
		out = append(out, PriorResidual{
			Key:    row.key,
			Mulstd: row.mulstd,
			Age:    row.age,
			Time:   row.time,
			Value:  fit.float(i, "residual_value"),
			Dage:   fit.float(i, "residual_dage"),
			Dtime:  fit.float(i, "residual_dtime"),
		})
	}
	return out, nil
}

// DataResidual is the fit's average integrand and weighted residual for one
// data row, identified by its name.
type DataResidual struct {
	Name             string
	AvgIntegrand     float64
	WeightedResidual float64
}

// DataResiduals reads fit_data_subset joined through data_subset to data.
func (s *Store) DataResiduals(ctx context.Context) ([]DataResidual, error) {
	fit, err := s.table(ctx, TableFitDataSubset)
	if err != nil {
		return nil, err
	}
	subset, err := s.table(ctx, TableDataSubset)
	if err != nil {
		return nil, err
	}
	rows, err := s.table(ctx, TableData)
	if err != nil {
		return nil, err
	}
	subsetRow := subset.lookup("data_subset_id")
	dataRow := rows.lookup("data_id")
	out := make([]DataResidual, 0, len(fit.rows))
	for i := range fit.rows {
		id := fit.int(i, "fit_data_subset_id")
		j, ok := subsetRow[id]
		if !ok {
			return nil, fmt.Errorf("fit_data_subset %d has no data_subset row", id)
		}
		k, ok := dataRow[subset.int(j, "data_id")]
		if !ok {
			return nil, fmt.Errorf("data_subset %d refers to missing data %d", id, subset.int(j, "data_id"))
		}
		out = append(out, DataResidual{
			Name:             rows.str(k, "data_name"),
			AvgIntegrand:     fit.float(i, "avg_integrand"),
			WeightedResidual: fit.float(i, "weighted_residual"),
		})
	}
	return out, nil
}

// Prediction column names beyond the avgint columns.
const (
	ColSampleIndex = "sample_index"
	ColMean        = "mean"
)

// Predict reads the predict table. Avgint rows the engine did not predict,
// because a covariate was too far from its reference, come back separately.
func (s *Store) Predict(ctx context.Context) (predicted, notPredicted *data.Frame, err error) {
	predict, err := s.table(ctx, TablePredict)
	if err != nil {
		return nil, nil, err
	}
	avgint, err := s.table(ctx, TableAvgint)
	if err != nil {
		return nil, nil, err
	}
	avgintRow := avgint.lookup("avgint_id")
	seen := make(map[int]bool, len(avgint.rows))
	var rows []int
	for i := range predict.rows {
		id := predict.int(i, "avgint_id")
		j, ok := avgintRow[id]
		if !ok {
			return nil, nil, fmt.Errorf("predict row %d refers to missing avgint %d", i, id)
		}
		seen[id] = true
		rows = append(rows, j)
	}
	var missing []int
	for i := range avgint.rows {
		if !seen[avgint.int(i, "avgint_id")] {
			missing = append(missing, i)
		}
	}

	if predicted, err = s.avgintFrame(ctx, avgint, rows); err != nil {
		return nil, nil, err
	}
	index := make([]float64, len(predict.rows))
	mean := make([]float64, len(predict.rows))
	for i := range predict.rows {
		index[i] = predict.float(i, "sample_index")
		mean[i] = predict.float(i, "avg_integrand")
	}
	if err := predicted.SetFloat(ColSampleIndex, index); err != nil {
		return nil, nil, err
	}
	if err := predicted.SetFloat(ColMean, mean); err != nil {
		return nil, nil, err
	}
	if notPredicted, err = s.avgintFrame(ctx, avgint, missing); err != nil {
		return nil, nil, err
	}
	return predicted, notPredicted, nil
}

// avgintFrame turns the chosen avgint rows back into the caller's vocabulary:
// location ids, integrand names and covariate names.
func (s *Store) avgintFrame(ctx context.Context, avgint *table, rows []int) (*data.Frame, error) {
	locations, err := s.nodeLocations(ctx)
	if err != nil {
		return nil, err
	}
	covariates, err := s.table(ctx, TableCovariate)
	if err != nil {
		return nil, err
	}
	covRow := covariates.lookup("covariate_id")

	f := data.NewFrame(len(rows))
	integrands := model.Integrands()
	names := make([]string, len(rows))
	nulls := make([]bool, len(rows))
	loc := make([]float64, len(rows))
	for k, i := range rows {
		id, ok := avgint.intOK(i, "integrand_id")
		if ok && id >= 0 && id < len(integrands) {
			names[k] = string(integrands[id])
		} else {
			nulls[k] = true
		}
		loc[k] = float64(locations[avgint.int(i, "node_id")])
	}
	if err := f.SetText(data.ColIntegrand, names, nulls); err != nil {
		return nil, err
	}
	if err := f.SetFloat(data.ColLocation, loc); err != nil {
		return nil, err
	}
	for _, c := range []string{data.ColAgeLower, data.ColAgeUpper, data.ColTimeLower, data.ColTimeUpper} {
		if err := f.SetFloat(c, avgintColumn(avgint, rows, c)); err != nil {
			return nil, err
		}
	}
	for _, c := range avgint.covariateColumns() {
		id, _ := strconv.Atoi(c[2:])
		j, ok := covRow[id]
		if !ok {
			return nil, fmt.Errorf("avgint column %s has no covariate", c)
		}
		if err := f.SetFloat(covariates.str(j, "covariate_name"), avgintColumn(avgint, rows, c)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func avgintColumn(avgint *table, rows []int, col string) []float64 {
	out := make([]float64, len(rows))
	for k, i := range rows {
		out[k] = avgint.float(i, col)
	}
	return out
}

// ReadSimulation rebuilds simulated realization index: the model with its
// prior means replaced by the prior_sim draw, and the data subset the engine
// used with meas_value replaced by data_sim values. Rows of dataFrame are
// matched to the engine's data_id by position.
func (s *Store) ReadSimulation(ctx context.Context, index int, m *model.Model, dataFrame *data.Frame) (*model.Model, *data.Frame, error) {
	draws, err := s.PriorSim(ctx)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(draws) {
		return nil, nil, fmt.Errorf("simulation %d out of range: %d simulations", index, len(draws))
	}
	if dataFrame == nil {
		return nil, nil, fmt.Errorf("simulation %d: no data frame to match data_sim rows", index)
	}
	draw := draws[index]
	simModel, err := m.WithPriorMeans(draw.Value, draw.Dage, draw.Dtime)
	if err != nil {
		return nil, nil, fmt.Errorf("simulation %d: %w", index, err)
	}

	sim, err := s.table(ctx, TableDataSim)
	if err != nil {
		return nil, nil, err
	}
	subset, err := s.table(ctx, TableDataSubset)
	if err != nil {
		return nil, nil, err
	}
	subsetRow := subset.lookup("data_subset_id")
	var rows []int
	var values []float64
	for i := range sim.rows {
		if sim.int(i, "simulate_index") != index {
			continue
		}
		j, ok := subsetRow[sim.int(i, "data_subset_id")]
		if !ok {
			return nil, nil, fmt.Errorf("data_sim row %d refers to missing data_subset", i)
		}
		dataID := subset.int(j, "data_id")
		if dataID < 0 || dataID >= dataFrame.Len() {
			return nil, nil, fmt.Errorf("data_sim refers to data row %d of %d", dataID, dataFrame.Len())
		}
		rows = append(rows, dataID)
		values = append(values, sim.float(i, "data_sim_value"))
	}
	simData := dataFrame.Select(rows)
	if values == nil {
		values = []float64{}
	}
	if err := simData.SetFloat(data.ColMeasValue, values); err != nil {
		return nil, nil, err
	}
	return simModel, simData, nil
}
