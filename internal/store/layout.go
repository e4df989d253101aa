package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/grid"
	"github.com/alec-deason/cascade/internal/model"
)

// varRow places one engine variable in the model.
type varRow struct {
	id     int
	key    model.VarKey
	mulstd bool
	kind   grid.Kind
	age    float64
	time   float64
}

func (r varRow) String() string {
	if r.mulstd {
		return fmt.Sprintf("%s mulstd %s", r.key, r.kind)
	}
	return fmt.Sprintf("%s at age %g time %g", r.key, r.age, r.time)
}

func (r varRow) lookup(vs model.VarSet) (float64, bool) {
	v := vs[r.key]
	if v == nil {
		return 0, false
	}
	if r.mulstd {
		return v.Mulstd(r.kind)
	}
	x, err := v.Value(r.age, r.time)
	return x, err == nil
}

// layout is the engine's numbering of model variables, read back from the
// var table after init.
type layout struct {
	rows []varRow
	grid map[model.VarKey]grid.Breakpoints
}

var mulstdKinds = map[string]grid.Kind{
	"mulstd_value": grid.Value,
	"mulstd_dage":  grid.Dage,
	"mulstd_dtime": grid.Dtime,
}

func (s *Store) layout(ctx context.Context) (*layout, error) {
	if s.lay != nil {
		return s.lay, nil
	}
	keys, err := s.smoothKeys(ctx)
	if err != nil {
		return nil, err
	}
	vars, err := s.table(ctx, TableVar)
	if err != nil {
		return nil, err
	}
	if len(vars.rows) == 0 {
		return nil, fmt.Errorf("the var table is empty; run init first")
	}
	ages, err := s.axisValues(ctx, TableAge)
	if err != nil {
		return nil, err
	}
	times, err := s.axisValues(ctx, TableTime)
	if err != nil {
		return nil, err
	}

	lay := &layout{grid: make(map[model.VarKey]grid.Breakpoints)}
	ageSets := make(map[model.VarKey]map[float64]bool)
	timeSets := make(map[model.VarKey]map[float64]bool)
	for i := range vars.rows {
		smoothID, ok := vars.intOK(i, "smooth_id")
		key, known := keys[smoothID]
		if !ok || !known {
			return nil, fmt.Errorf("var %d refers to unknown smooth %d", vars.int(i, "var_id"), smoothID)
		}
		row := varRow{id: vars.int(i, "var_id"), key: key}
		if kind, isMulstd := mulstdKinds[vars.str(i, "var_type")]; isMulstd {
			row.mulstd = true
			row.kind = kind
		} else {
			row.age = ages[vars.int(i, "age_id")]
			row.time = times[vars.int(i, "time_id")]
			if ageSets[key] == nil {
				ageSets[key] = make(map[float64]bool)
				timeSets[key] = make(map[float64]bool)
			}
			ageSets[key][row.age] = true
			timeSets[key][row.time] = true
		}
		lay.rows = append(lay.rows, row)
	}
	for key, a := range ageSets {
		bp, err := grid.NewBreakpoints(slices.Sorted(maps.Keys(a)), slices.Sorted(maps.Keys(timeSets[key])))
		if err != nil {
			return nil, fmt.Errorf("grid of %s: %w", key, err)
		}
		lay.grid[key] = bp
	}
	s.lay = lay
	return lay, nil
}

func (s *Store) axisValues(ctx context.Context, name string) (map[int]float64, error) {
	return s.readValues(ctx, name, name)
}

// smoothKeys recovers which model variable owns each smooth from the rate,
// nslist_pair and mulcov tables.
func (s *Store) smoothKeys(ctx context.Context) (map[int]model.VarKey, error) {
	rates, err := s.table(ctx, TableRate)
	if err != nil {
		return nil, err
	}
	pairs, err := s.table(ctx, TableNslistPair)
	if err != nil {
		return nil, err
	}
	mulcovs, err := s.table(ctx, TableMulcov)
	if err != nil {
		return nil, err
	}
	locations, err := s.nodeLocations(ctx)
	if err != nil {
		return nil, err
	}
	covariates, err := s.table(ctx, TableCovariate)
	if err != nil {
		return nil, err
	}
	covName := make(map[int]string, len(covariates.rows))
	for i := range covariates.rows {
		covName[covariates.int(i, "covariate_id")] = covariates.str(i, "covariate_name")
	}

	keys := make(map[int]model.VarKey)
	nslistRate := make(map[int]model.RateName)
	for i := range rates.rows {
		name, err := model.ParseRate(rates.str(i, "rate_name"))
		if err != nil {
			return nil, err
		}
		if id, ok := rates.intOK(i, "parent_smooth_id"); ok {
			keys[id] = model.RateKey(name)
		}
		if id, ok := rates.intOK(i, "child_nslist_id"); ok {
			nslistRate[id] = name
		}
	}
	for i := range pairs.rows {
		rate, ok := nslistRate[pairs.int(i, "nslist_id")]
		if !ok {
			continue
		}
		keys[pairs.int(i, "smooth_id")] = model.RandomEffectKey(rate, locations[pairs.int(i, "node_id")])
	}
	integrands := model.Integrands()
	rateNames := model.RateNames()
	for i := range mulcovs.rows {
		id, ok := mulcovs.intOK(i, "smooth_id")
		if !ok {
			continue
		}
		var group model.Group
		var target string
		switch mulcovs.str(i, "mulcov_type") {
		case MulcovRateValue:
			group, target = model.GroupAlpha, string(rateNames[mulcovs.int(i, "rate_id")])
		case MulcovMeasValue:
			group, target = model.GroupBeta, string(integrands[mulcovs.int(i, "integrand_id")])
		case MulcovMeasNoise:
			group, target = model.GroupGamma, string(integrands[mulcovs.int(i, "integrand_id")])
		default:
			return nil, fmt.Errorf("unknown mulcov type %q", mulcovs.str(i, "mulcov_type"))
		}
		keys[id] = model.MultiplierKey(group, target, covName[mulcovs.int(i, "covariate_id")])
	}
	return keys, nil
}

// nodeLocations maps node_id to the location it stands for.
func (s *Store) nodeLocations(ctx context.Context) (map[int]int, error) {
	nodes, err := s.table(ctx, TableNode)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(nodes.rows))
	for i := range nodes.rows {
		out[nodes.int(i, "node_id")] = nodes.int(i, "c_location_id")
	}
	return out, nil
}

// varSet assembles values keyed by var_id into model variables.
func (lay *layout) varSet(values map[int]float64) (model.VarSet, error) {
	vs := make(model.VarSet)
	get := func(key model.VarKey) (*model.Var, error) {
		if v, ok := vs[key]; ok {
			return v, nil
		}
		bp, ok := lay.grid[key]
		if !ok {
			return nil, fmt.Errorf("%s has no grid", key)
		}
		v, err := model.NewVar(bp)
		if err != nil {
			return nil, err
		}
		vs[key] = v
		return v, nil
	}
	var missing []string
	for _, row := range lay.rows {
		x, ok := values[row.id]
		if !ok {
			missing = append(missing, row.String())
			continue
		}
		v, err := get(row.key)
		if err != nil {
			return nil, err
		}
		if row.mulstd {
			v.SetMulstd(row.kind, x)
		} else if err := v.Set(row.age, row.time, x); err != nil {
			return nil, err
		}
	}
	if len(missing) > 0 {
		return nil, errs.Invalid("var", "no value for %s", strings.Join(missing, ", "))
	}
	return vs, nil
}

func (s *Store) readVarSet(ctx context.Context, tableName, col string) (model.VarSet, error) {
	lay, err := s.layout(ctx)
	if err != nil {
		return nil, err
	}
	values, err := s.readValues(ctx, tableName, col)
	if err != nil {
		return nil, err
	}
	vs, err := lay.varSet(values)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", tableName, err)
	}
	return vs, nil
}

// FitVar reads the optimizer's solution.
func (s *Store) FitVar(ctx context.Context) (model.VarSet, error) {
	return s.readVarSet(ctx, TableFitVar, "fit_var_value")
}

// StartVar reads the optimizer's starting point.
func (s *Store) StartVar(ctx context.Context) (model.VarSet, error) {
	return s.readVarSet(ctx, TableStartVar, "start_var_value")
}

// ScaleVar reads the values at which the objective is scaled.
func (s *Store) ScaleVar(ctx context.Context) (model.VarSet, error) {
	return s.readVarSet(ctx, TableScaleVar, "scale_var_value")
}

// TruthVar reads the variables used by predict and simulate.
func (s *Store) TruthVar(ctx context.Context) (model.VarSet, error) {
	return s.readVarSet(ctx, TableTruthVar, "truth_var_value")
}

// groupedVarSets reads a table holding one full set of variables per index.
func (s *Store) groupedVarSets(ctx context.Context, tableName, indexCol string, valueCols ...string) ([][]model.VarSet, error) {
	lay, err := s.layout(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int][]map[int]float64)
	for i := range t.rows {
		idx := t.int(i, indexCol)
		if byIndex[idx] == nil {
			byIndex[idx] = make([]map[int]float64, len(valueCols))
			for j := range valueCols {
				byIndex[idx][j] = make(map[int]float64)
			}
		}
		for j, c := range valueCols {
			byIndex[idx][j][t.int(i, "var_id")] = t.float(i, c)
		}
	}
	out := make([][]model.VarSet, len(byIndex))
	for idx, cols := range byIndex {
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("%s: %s %d out of sequence", tableName, indexCol, idx)
		}
		out[idx] = make([]model.VarSet, len(cols))
		for j, values := range cols {
			if out[idx][j], err = lay.varSet(values); err != nil {
				return nil, fmt.Errorf("%s %s %d: %w", tableName, indexCol, idx, err)
			}
		}
	}
	return out, nil
}

// Samples reads the sample table, one set of variables per sample index.
func (s *Store) Samples(ctx context.Context) ([]model.VarSet, error) {
	sets, err := s.groupedVarSets(ctx, TableSample, "sample_index", "var_value")
	if err != nil {
		return nil, err
	}
	out := make([]model.VarSet, len(sets))
	for i, set := range sets {
		out[i] = set[0]
	}
	return out, nil
}

// PriorDraw is one simulated draw of the prior means.
type PriorDraw struct {
	Value model.VarSet
	Dage  model.VarSet
	Dtime model.VarSet
}

// PriorSim reads the prior_sim table, one draw per simulate index.
func (s *Store) PriorSim(ctx context.Context) ([]PriorDraw, error) {
	sets, err := s.groupedVarSets(ctx, TablePriorSim, "simulate_index",
		"prior_sim_value", "prior_sim_dage", "prior_sim_dtime")
	if err != nil {
		return nil, err
	}
	out := make([]PriorDraw, len(sets))
	for i, set := range sets {
		out[i] = PriorDraw{Value: set[0], Dage: set[1], Dtime: set[2]}
	}
	return out, nil
}
