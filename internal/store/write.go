package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/priors"
	"github.com/alec-deason/cascade/internal/smooth"
)

// Mulcov types in the engine's vocabulary.
const (
	MulcovRateValue = "rate_value"
	MulcovMeasValue = "meas_value"
	MulcovMeasNoise = "meas_noise"
)

// ConstantWeight is the weight used where the model supplies none.
const ConstantWeight = "constant"

var mulcovType = map[model.Group]string{
	model.GroupAlpha: MulcovRateValue,
	model.GroupBeta:  MulcovMeasValue,
	model.GroupGamma: MulcovMeasNoise,
}

// integrandWeight picks the population each integrand is averaged over.
func integrandWeight(i model.Integrand) string {
	switch i {
	case model.Sincidence:
		return model.WeightSusceptible
	case model.Remission, model.MTExcess, model.MTWith, model.RelRisk:
		return model.WeightWithCondition
	default:
		return model.WeightTotal
	}
}

// inputWriter assigns engine ids while writing the input tables of one flush.
type inputWriter struct {
	ctx        context.Context
	tx         *sql.Tx
	ageID      map[float64]int
	timeID     map[float64]int
	nodeID     map[int]int
	priorID    map[priors.Parameters]int
	priorNames map[string]bool
	smoothID   map[model.VarKey]int
	weightID   map[string]int
	covariates []model.CovariateColumn
	gridRows   int
}

func (w *inputWriter) exec(query string, args ...any) error {
	if _, err := w.tx.ExecContext(w.ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", query, err)
	}
	return nil
}

func (s *Store) writeInputs(ctx context.Context, tx *sql.Tx) error {
	m := s.model
	if m == nil {
		return errs.Invalid("model", "no model to write")
	}
	w := &inputWriter{
		ctx:        ctx,
		tx:         tx,
		ageID:      make(map[float64]int),
		timeID:     make(map[float64]int),
		nodeID:     make(map[int]int),
		priorID:    make(map[priors.Parameters]int),
		priorNames: make(map[string]bool),
		smoothID:   make(map[model.VarKey]int),
		weightID:   make(map[string]int),
		covariates: m.Covariates(),
	}

	// Outputs of an earlier init no longer match the new ids.
	for _, t := range append(slices.Clone(InputTables), OutputTables[1:]...) {
		if t == TableData || t == TableAvgint {
			if err := w.exec("DROP TABLE IF EXISTS " + t); err != nil {
				return err
			}
			if err := w.exec(measurementDDL(t, len(w.covariates))); err != nil {
				return err
			}
			continue
		}
		if err := w.exec("DELETE FROM " + t); err != nil {
			return err
		}
	}

	ages, times, err := s.axes()
	if err != nil {
		return err
	}
	for i, a := range ages {
		w.ageID[a] = i
		if err := w.exec("INSERT INTO age (age_id, age) VALUES (?, ?)", i, a); err != nil {
			return err
		}
	}
	for i, t := range times {
		w.timeID[t] = i
		if err := w.exec("INSERT INTO time (time_id, time) VALUES (?, ?)", i, t); err != nil {
			return err
		}
	}
	if err := s.writeNodes(w); err != nil {
		return err
	}
	for i, d := range priors.Densities() {
		if err := w.exec("INSERT INTO density (density_id, density_name) VALUES (?, ?)", i, string(d)); err != nil {
			return err
		}
	}
	for _, spec := range m.Vars() {
		id, err := w.writeSmooth(spec.Key, spec.Smooth)
		if err != nil {
			return fmt.Errorf("writing smooth %s: %w", spec.Key, err)
		}
		w.smoothID[spec.Key] = id
	}
	if err := w.writeRates(m); err != nil {
		return err
	}
	if err := s.writeIntegrands(ctx, tx); err != nil {
		return err
	}
	if err := w.writeCovariates(m); err != nil {
		return err
	}
	if err := w.writeWeights(m, ages, times); err != nil {
		return err
	}
	if s.data != nil {
		if err := w.writeMeasurements(TableData, s.data, s.modelParent()); err != nil {
			return err
		}
	}
	if s.avgint != nil {
		if err := w.writeMeasurements(TableAvgint, s.avgint, s.modelParent()); err != nil {
			return err
		}
	}
	return nil
}

// axes collects every age and time the model, weights and data refer to.
// Data contribute only their extremes.
func (s *Store) axes() ([]float64, []float64, error) {
	ages := make(map[float64]bool)
	times := make(map[float64]bool)
	addGrid := func(bp grid.Breakpoints) {
		for _, a := range bp.Ages() {
			ages[a] = true
		}
		for _, t := range bp.Times() {
			times[t] = true
		}
	}
	for _, spec := range s.model.Vars() {
		addGrid(spec.Smooth.Grid())
	}
	for _, name := range model.WeightNames() {
		if w := s.model.Weight(name); w != nil {
			addGrid(w.Breakpoints())
		}
	}
	for _, f := range []*data.Frame{s.data, s.avgint} {
		if f == nil || f.Len() == 0 {
			continue
		}
		for _, pair := range [][3]string{
			{data.ColAgeLower, data.ColAgeUpper, "age"},
			{data.ColTimeLower, data.ColTimeUpper, "time"},
		} {
			lo, err := f.Float(pair[0])
			if err != nil {
				return nil, nil, err
			}
			hi, err := f.Float(pair[1])
			if err != nil {
				return nil, nil, err
			}
			target := ages
			if pair[2] == "time" {
				target = times
			}
			target[slices.Min(lo)] = true
			target[slices.Max(hi)] = true
		}
	}
	if len(ages) == 0 || len(times) == 0 {
		return nil, nil, errs.Invalid("model", "model has no smoothing grids and no data")
	}
	return sortedKeys(ages), sortedKeys(times), nil
}

func sortedKeys(m map[float64]bool) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		if !math.IsNaN(k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Store) writeNodes(w *inputWriter) error {
	for i, loc := range s.locations {
		w.nodeID[loc.ID] = i
	}
	for i, loc := range s.locations {
		name := loc.Name
		if name == "" {
			name = strconv.Itoa(loc.ID)
		}
		parent, ok := w.nodeID[loc.ParentID]
		if err := w.exec("INSERT INTO node (node_id, node_name, parent, c_location_id) VALUES (?, ?, ?, ?)",
			i, name, nullInt(parent, ok && loc.ParentID != NoParent), loc.ID); err != nil {
			return err
		}
	}
	return nil
}

// nodeOf returns the node id of a location.
func (s *Store) nodeOf(location int) (int, bool) {
	for i, loc := range s.locations {
		if loc.ID == location {
			return i, true
		}
	}
	return 0, false
}

// prior writes p once per distinct parameter set and returns its id.
// NoPrior has no row.
func (w *inputWriter) prior(p priors.Prior) (any, error) {
	if !p.IsSet() {
		return nil, nil
	}
	params := p.Parameters()
	if id, ok := w.priorID[params]; ok {
		return id, nil
	}
	id := len(w.priorID)
	name := p.Name()
	if name == "" || w.priorNames[name] {
		name = fmt.Sprintf("prior_%d", id)
	}
	w.priorNames[name] = true
	w.priorID[params] = id

	density := slices.Index(priors.Densities(), p.Density())
	var std, nu, eta any
	if v, ok := p.Std(); ok {
		std = v
	}
	if v, ok := p.Nu(); ok {
		nu = v
	}
	if v, ok := p.Eta(); ok {
		eta = v
	}
	err := w.exec(`INSERT INTO prior (prior_id, prior_name, density_id, lower, upper, mean, std, eta, nu)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, density, nullFloat(p.Lower()), nullFloat(p.Upper()), p.Mean(), std, eta, nu)
	return id, err
}

func (w *inputWriter) writeSmooth(key model.VarKey, s *smooth.Smooth) (int, error) {
	id := len(w.smoothID)
	var mulstd [3]any
	for _, kind := range grid.Kinds() {
		pid, err := w.prior(s.Mulstd(kind))
		if err != nil {
			return 0, err
		}
		mulstd[kind] = pid
	}
	bp := s.Grid()
	if err := w.exec(`INSERT INTO smooth (smooth_id, smooth_name, n_age, n_time,
		mulstd_value_prior_id, mulstd_dage_prior_id, mulstd_dtime_prior_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, key.String(), len(bp.Ages()), len(bp.Times()), mulstd[0], mulstd[1], mulstd[2]); err != nil {
		return 0, err
	}
	for _, k := range bp.Keys() {
		var ids [3]any
		for _, kind := range grid.Kinds() {
			p, err := s.PriorGrid(kind).Prior(k.Age, k.Time)
			if err != nil {
				return 0, err
			}
			if ids[kind], err = w.prior(p); err != nil {
				return 0, err
			}
		}
		if err := w.exec(`INSERT INTO smooth_grid (smooth_grid_id, smooth_id, age_id, time_id,
			value_prior_id, dage_prior_id, dtime_prior_id, const_value) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			w.gridRows, id, w.ageID[k.Age], w.timeID[k.Time], ids[0], ids[1], ids[2]); err != nil {
			return 0, err
		}
		w.gridRows++
	}
	return id, nil
}

func (w *inputWriter) writeRates(m *model.Model) error {
	nslist := 0
	pair := 0
	for id, name := range model.RateNames() {
		r := m.Rate(name)
		parent, ok := w.smoothID[model.RateKey(name)]
		parentID := nullInt(parent, ok)

		var nslistID any
		if locs := r.ChildLocations(); len(locs) > 0 {
			if err := w.exec("INSERT INTO nslist (nslist_id, nslist_name) VALUES (?, ?)",
				nslist, string(name)+"_children"); err != nil {
				return err
			}
			for _, loc := range locs {
				node, ok := w.nodeID[loc]
				if !ok {
					return errs.Invalid(string(name), "random effect at location %d, which is not in the hierarchy", loc)
				}
				if err := w.exec("INSERT INTO nslist_pair (nslist_pair_id, nslist_id, node_id, smooth_id) VALUES (?, ?, ?, ?)",
					pair, nslist, node, w.smoothID[model.RandomEffectKey(name, loc)]); err != nil {
					return err
				}
				pair++
			}
			nslistID = nslist
			nslist++
		}
		if err := w.exec(`INSERT INTO rate (rate_id, rate_name, parent_smooth_id, child_smooth_id, child_nslist_id)
			VALUES (?, ?, ?, NULL, ?)`, id, string(name), parentID, nslistID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeIntegrands(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM integrand"); err != nil {
		return err
	}
	for id, name := range model.Integrands() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO integrand (integrand_id, integrand_name, minimum_meas_cv) VALUES (?, ?, ?)",
			id, string(name), s.minCV[name]); err != nil {
			return fmt.Errorf("writing integrand %s: %w", name, err)
		}
	}
	return nil
}

func (w *inputWriter) writeCovariates(m *model.Model) error {
	covID := make(map[string]int, len(w.covariates))
	for id, c := range w.covariates {
		covID[c.Name()] = id
		var maxDiff any
		if d, ok := c.MaxDifference(); ok {
			maxDiff = d
		}
		if err := w.exec("INSERT INTO covariate (covariate_id, covariate_name, reference, max_difference) VALUES (?, ?, ?, ?)",
			id, c.Name(), c.Reference(), maxDiff); err != nil {
			return err
		}
	}
	for id, a := range m.Multipliers() {
		var rateID, integrandID any
		if a.Group == model.GroupAlpha {
			rate, err := model.ParseRate(a.Target)
			if err != nil {
				return err
			}
			rateID = slices.Index(model.RateNames(), rate)
		} else {
			integrand, err := model.ParseIntegrand(a.Target)
			if err != nil {
				return err
			}
			integrandID = slices.Index(model.Integrands(), integrand)
		}
		if err := w.exec(`INSERT INTO mulcov (mulcov_id, mulcov_type, rate_id, integrand_id, covariate_id, smooth_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, mulcovType[a.Group], rateID, integrandID, covID[a.Multiplier.Column().Name()], w.smoothID[a.Key()]); err != nil {
			return err
		}
	}
	return nil
}

func (w *inputWriter) writeWeights(m *model.Model, ages, times []float64) error {
	bp, err := grid.NewBreakpoints(ages[:1], times[:1])
	if err != nil {
		return err
	}
	constant, err := model.ConstantVar(bp, 1)
	if err != nil {
		return err
	}
	type namedWeight struct {
		name string
		v    *model.Var
	}
	weights := []namedWeight{{ConstantWeight, constant}}
	for _, name := range model.WeightNames() {
		if v := m.Weight(name); v != nil {
			weights = append(weights, namedWeight{name, v})
		}
	}
	gridID := 0
	for id, wt := range weights {
		w.weightID[wt.name] = id
		bp := wt.v.Breakpoints()
		if err := w.exec("INSERT INTO weight (weight_id, weight_name, n_age, n_time) VALUES (?, ?, ?, ?)",
			id, wt.name, len(bp.Ages()), len(bp.Times())); err != nil {
			return err
		}
		for _, c := range wt.v.Cells() {
			if err := w.exec("INSERT INTO weight_grid (weight_grid_id, weight_id, age_id, time_id, weight) VALUES (?, ?, ?, ?, ?)",
				gridID, id, w.ageID[c.Age], w.timeID[c.Time], c.Value); err != nil {
				return err
			}
			gridID++
		}
	}
	return nil
}

// writeMeasurements writes the data or avgint table. Rows keep their frame
// order, so <table>_id is the row index.
func (w *inputWriter) writeMeasurements(tableName string, f *data.Frame, parentLocation int) error {
	integrands, null, err := f.Text(data.ColIntegrand)
	if err != nil {
		return fmt.Errorf("%s: %w", tableName, err)
	}
	locations := make([]float64, f.Len())
	if f.Has(data.ColLocation) {
		if locations, err = f.Float(data.ColLocation); err != nil {
			return fmt.Errorf("%s: %w", tableName, err)
		}
	} else {
		for i := range locations {
			locations[i] = float64(parentLocation)
		}
	}
	floats := make(map[string][]float64)
	cols := []string{data.ColAgeLower, data.ColAgeUpper, data.ColTimeLower, data.ColTimeUpper}
	if tableName == TableData {
		cols = append(cols, data.ColHoldOut, data.ColMeasValue, data.ColMeasStd, data.ColEta, data.ColNu)
	}
	for j, c := range cols {
		if j >= 4 && !f.Has(c) {
			floats[c] = nanColumn(f.Len())
			continue
		}
		if floats[c], err = f.Float(c); err != nil {
			return fmt.Errorf("%s: %w", tableName, err)
		}
	}
	covValues := make([][]float64, len(w.covariates))
	for j, c := range w.covariates {
		if !f.Has(c.Name()) {
			continue
		}
		if covValues[j], err = f.Float(c.Name()); err != nil {
			return fmt.Errorf("%s covariate: %w", tableName, err)
		}
	}
	var names, densities []string
	var densityNull []bool
	if tableName == TableData {
		if names, _, err = f.Text(data.ColName); err != nil {
			return fmt.Errorf("%s: %w", tableName, err)
		}
		if f.Has(data.ColDensity) {
			densities, densityNull, _ = f.Text(data.ColDensity)
		}
	}

	for i := 0; i < f.Len(); i++ {
		if null[i] {
			return errs.Invalid(data.ColIntegrand, "%s row %d has no integrand", tableName, i)
		}
		integrand, err := model.ParseIntegrand(integrands[i])
		if err != nil {
			return err
		}
		node, ok := w.nodeID[int(locations[i])]
		if !ok || math.IsNaN(locations[i]) {
			return errs.Invalid(data.ColLocation, "%s row %d: location %g is not in the hierarchy", tableName, i, locations[i])
		}
		weight, ok := w.weightID[integrandWeight(integrand)]
		if !ok {
			weight = w.weightID[ConstantWeight]
		}

		colNames := []string{tableName + "_id", "integrand_id", "node_id", "weight_id"}
		args := []any{i, slices.Index(model.Integrands(), integrand), node, weight}
		if tableName == TableData {
			density := priors.Gaussian
			if densities != nil && !densityNull[i] {
				if density, err = priors.ParseDensity(densities[i]); err != nil {
					return err
				}
			}
			hold := floats[data.ColHoldOut][i]
			if math.IsNaN(hold) {
				hold = 0
			}
			colNames = append(colNames, "data_name", "density_id", "hold_out", "meas_value", "meas_std", "eta", "nu")
			args = append(args, names[i], slices.Index(priors.Densities(), density), int(hold),
				nullFloat(floats[data.ColMeasValue][i]), nullFloat(floats[data.ColMeasStd][i]),
				nullFloat(floats[data.ColEta][i]), nullFloat(floats[data.ColNu][i]))
		}
		for _, c := range []string{data.ColAgeLower, data.ColAgeUpper, data.ColTimeLower, data.ColTimeUpper} {
			colNames = append(colNames, c)
			args = append(args, floats[c][i])
		}
		for j := range w.covariates {
			colNames = append(colNames, "x_"+strconv.Itoa(j))
			if covValues[j] == nil {
				args = append(args, nil)
			} else {
				args = append(args, nullFloat(covValues[j][i]))
			}
		}
		if err := w.exec(insertSQL(tableName, colNames), args...); err != nil {
			return err
		}
	}
	return nil
}

func nanColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func insertSQL(tableName string, cols []string) string {
	q := "INSERT INTO " + tableName + " ("
	marks := ""
	for i, c := range cols {
		if i > 0 {
			q += ", "
			marks += ", "
		}
		q += c
		marks += "?"
	}
	return q + ") VALUES (" + marks + ")"
}

func (s *Store) writeOptions(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM option"); err != nil {
		return err
	}
	options := s.Options()
	if node, ok := s.nodeOf(s.modelParent()); ok {
		if _, set := options["parent_node_name"]; !set {
			options["parent_node_id"] = strconv.Itoa(node)
		}
	}
	names := make([]string, 0, len(options))
	for k := range options {
		names = append(names, k)
	}
	slices.Sort(names)
	for id, name := range names {
		if _, err := tx.ExecContext(ctx, "INSERT INTO option (option_id, option_name, option_value) VALUES (?, ?, ?)",
			id, name, options[name]); err != nil {
			return fmt.Errorf("writing option %s: %w", name, err)
		}
	}
	return nil
}

func writeVarTable(ctx context.Context, tx *sql.Tx, lay *layout, tableName string, vs model.VarSet, existing map[int]float64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableName); err != nil {
		return err
	}
	for _, row := range lay.rows {
		v, ok := row.lookup(vs)
		if !ok {
			if v, ok = existing[row.id]; !ok || math.IsNaN(v) {
				return errs.Invalid(tableName, "no value for %s", row)
			}
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s_id, %s_value) VALUES (?, ?)", tableName, tableName, tableName),
			row.id, v); err != nil {
			return fmt.Errorf("writing %s: %w", tableName, err)
		}
	}
	return nil
}
