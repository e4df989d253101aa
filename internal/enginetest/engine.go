// Package enginetest provides a fake engine that reads and writes a real
// interchange file, so sessions can be exercised without the solver binary.
// Its numbers are placeholders: a fit returns the starting point, and
// simulations perturb the data by a fixed fraction per index.
package enginetest

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/dismod"
	"github.com/alec-deason/cascade/internal/model"
)

// Behavior overrides what the fake does for one command name.
type Behavior struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// SkipEnd leaves the "end <command>" log message out.
	SkipEnd bool
	// SkipWork writes nothing but log messages.
	SkipWork bool
}

// Engine is a dismod.Runner. The zero value completes every command.
type Engine struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	calls     []string
	// BeforeRun, when set, runs before each command touches the file.
	BeforeRun func(cmd dismod.Command)
}

// New returns a fake engine.
func New() *Engine { return &Engine{} }

// On scripts the behavior for a command name such as "fit" or "init".
func (e *Engine) On(name string, b Behavior) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.behaviors == nil {
		e.behaviors = make(map[string]Behavior)
	}
	e.behaviors[name] = b
	return e
}

// Calls returns every command run so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Run implements dismod.Runner.
func (e *Engine) Run(ctx context.Context, path string, cmd dismod.Command) (dismod.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, cmd.String())
	b := e.behaviors[cmd.Name()]
	before := e.BeforeRun
	e.mu.Unlock()
	if before != nil {
		before(cmd)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return dismod.Result{}, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	res := dismod.Result{ExitCode: b.ExitCode, Stdout: b.Stdout, Stderr: b.Stderr}
	if err := e.run(ctx, db, cmd, b, &res); err != nil {
		res.ExitCode = 1
		res.Stderr += err.Error()
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, db *sql.DB, cmd dismod.Command, b Behavior, res *dismod.Result) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := logMessage(ctx, tx, "command", "begin "+cmd.String()); err != nil {
		return err
	}
	if !b.SkipWork {
		args := cmd.Args()
		switch cmd.Name() {
		case "init":
			err = initCommand(ctx, tx)
		case "fit":
			err = fitCommand(ctx, tx)
			if err == nil && res.Stdout == "" {
				res.Stdout = "EXIT: " + constants.OptimalSolutionSentinel + ".\n"
			}
		case "predict":
			err = predictCommand(ctx, tx)
		case "simulate":
			n, _ := strconv.Atoi(args[1])
			err = simulateCommand(ctx, tx, n)
		case "sample":
			n, _ := strconv.Atoi(args[2])
			err = sampleCommand(ctx, tx, n)
		default:
			err = fmt.Errorf("fake engine does not know %q", cmd)
		}
		if err != nil {
			return err
		}
	}
	if !b.SkipEnd {
		if err := logMessage(ctx, tx, "command", constants.EndMessagePrefix+cmd.Name()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func logMessage(ctx context.Context, tx *sql.Tx, kind, msg string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO log (log_id, message_type, unix_time, message)
		VALUES ((SELECT COALESCE(MAX(log_id), -1) + 1 FROM log), ?, ?, ?)`,
		kind, time.Now().Unix(), msg)
	return err
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

// initCommand lists one variable per smooth grid cell and one per mulstd
// prior, starts and scales them at their value prior means, and keeps the
// data rows whose covariates are within max_difference of the reference.
func initCommand(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx,
		"DELETE FROM var", "DELETE FROM start_var", "DELETE FROM scale_var", "DELETE FROM data_subset",
		"DELETE FROM fit_var", "DELETE FROM fit_data_subset", "DELETE FROM predict",
		"DELETE FROM data_sim", "DELETE FROM prior_sim", "DELETE FROM sample",
	); err != nil {
		return err
	}
	if err := execAll(ctx, tx,
		`INSERT INTO var (var_id, var_type, smooth_id, age_id, time_id, node_id, rate_id, mulcov_id)
		SELECT g.smooth_grid_id,
			CASE WHEN m.mulcov_id IS NOT NULL THEN 'mulcov_' || m.mulcov_type ELSE 'rate' END,
			g.smooth_id, g.age_id, g.time_id,
			COALESCE(p.node_id, CASE WHEN r.rate_id IS NOT NULL
				THEN (SELECT CAST(option_value AS INTEGER) FROM option WHERE option_name = 'parent_node_id') END),
			COALESCE(r.rate_id, cr.rate_id, m.rate_id), m.mulcov_id
		FROM smooth_grid g
		LEFT JOIN rate r ON r.parent_smooth_id = g.smooth_id
		LEFT JOIN nslist_pair p ON p.smooth_id = g.smooth_id
		LEFT JOIN rate cr ON cr.child_nslist_id = p.nslist_id
		LEFT JOIN mulcov m ON m.smooth_id = g.smooth_id
		ORDER BY g.smooth_grid_id`,
	); err != nil {
		return err
	}
	for _, kind := range []string{"value", "dage", "dtime"} {
		if err := execAll(ctx, tx, fmt.Sprintf(
			`INSERT INTO var (var_id, var_type, smooth_id)
			SELECT (SELECT COALESCE(MAX(var_id), -1) FROM var) + ROW_NUMBER() OVER (ORDER BY smooth_id),
				'mulstd_%[1]s', smooth_id
			FROM smooth WHERE mulstd_%[1]s_prior_id IS NOT NULL`, kind)); err != nil {
			return err
		}
	}
	mean := `COALESCE((SELECT p.mean FROM prior p WHERE p.prior_id = CASE v.var_type
			WHEN 'mulstd_value' THEN s.mulstd_value_prior_id
			WHEN 'mulstd_dage' THEN s.mulstd_dage_prior_id
			WHEN 'mulstd_dtime' THEN s.mulstd_dtime_prior_id
			ELSE (SELECT g.value_prior_id FROM smooth_grid g
				WHERE g.smooth_id = v.smooth_id AND g.age_id = v.age_id AND g.time_id = v.time_id) END), 0)`
	for _, t := range []string{"start_var", "scale_var"} {
		if err := execAll(ctx, tx, fmt.Sprintf(
			`INSERT INTO %[1]s (%[1]s_id, %[1]s_value)
			SELECT v.var_id, %[2]s FROM var v JOIN smooth s ON s.smooth_id = v.smooth_id ORDER BY v.var_id`,
			t, mean)); err != nil {
			return err
		}
	}
	return writeDataSubset(ctx, tx)
}

func writeDataSubset(ctx context.Context, tx *sql.Tx) error {
	covs, err := covariateLimits(ctx, tx)
	if err != nil {
		return err
	}
	rows, err := measurementCovariates(ctx, tx, "data", len(covs))
	if err != nil {
		return err
	}
	n := 0
	for _, r := range rows {
		if excluded(r.x, covs) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO data_subset (data_subset_id, data_id) VALUES (?, ?)", n, r.id); err != nil {
			return err
		}
		n++
	}
	return nil
}

type covariateLimit struct {
	reference float64
	maxDiff   float64
}

func covariateLimits(ctx context.Context, tx *sql.Tx) ([]covariateLimit, error) {
	rows, err := tx.QueryContext(ctx, "SELECT reference, max_difference FROM covariate ORDER BY covariate_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []covariateLimit
	for rows.Next() {
		var ref float64
		var maxDiff sql.NullFloat64
		if err := rows.Scan(&ref, &maxDiff); err != nil {
			return nil, err
		}
		c := covariateLimit{reference: ref, maxDiff: math.Inf(1)}
		if maxDiff.Valid {
			c.maxDiff = maxDiff.Float64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type measurementRow struct {
	id        int
	integrand int
	x         []sql.NullFloat64
}

func measurementCovariates(ctx context.Context, tx *sql.Tx, table string, n int) ([]measurementRow, error) {
	q := fmt.Sprintf("SELECT %[1]s_id, integrand_id", table)
	for i := 0; i < n; i++ {
		q += fmt.Sprintf(", x_%d", i)
	}
	rows, err := tx.QueryContext(ctx, q+fmt.Sprintf(" FROM %[1]s ORDER BY %[1]s_id", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []measurementRow
	for rows.Next() {
		r := measurementRow{x: make([]sql.NullFloat64, n)}
		dest := []any{&r.id, &r.integrand}
		for i := range r.x {
			dest = append(dest, &r.x[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func excluded(x []sql.NullFloat64, covs []covariateLimit) bool {
	for i, v := range x {
		if v.Valid && math.Abs(v.Float64-covs[i].reference) > covs[i].maxDiff {
			return true
		}
	}
	return false
}

// fitCommand reports the starting point as the solution with zero residuals.
func fitCommand(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		"DELETE FROM fit_var",
		"DELETE FROM fit_data_subset",
		`INSERT INTO fit_var (fit_var_id, fit_var_value, residual_value, residual_dage, residual_dtime,
			lagrange_value, lagrange_dage, lagrange_dtime)
		SELECT start_var_id, start_var_value, 0, NULL, NULL, 0, 0, 0 FROM start_var ORDER BY start_var_id`,
		`INSERT INTO fit_data_subset (fit_data_subset_id, avg_integrand, weighted_residual)
		SELECT s.data_subset_id, d.meas_value, 0 FROM data_subset s JOIN data d ON d.data_id = s.data_id
		ORDER BY s.data_subset_id`,
	)
}

// predictCommand evaluates each avgint row as the mean truth value of the
// rate the integrand measures, or zero for integrands without one.
func predictCommand(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM predict"); err != nil {
		return err
	}
	covs, err := covariateLimits(ctx, tx)
	if err != nil {
		return err
	}
	rows, err := measurementCovariates(ctx, tx, "avgint", len(covs))
	if err != nil {
		return err
	}
	integrands := model.Integrands()
	rateOf := make(map[model.Integrand]int)
	for id, name := range model.RateNames() {
		rateOf[model.RateIntegrand[name]] = id
	}
	n := 0
	for _, r := range rows {
		if excluded(r.x, covs) {
			continue
		}
		var value sql.NullFloat64
		if rate, ok := rateOf[integrands[r.integrand]]; ok {
			if err := tx.QueryRowContext(ctx,
				`SELECT AVG(t.truth_var_value) FROM truth_var t JOIN var v ON v.var_id = t.truth_var_id
				WHERE v.var_type = 'rate' AND v.rate_id = ?`, rate).Scan(&value); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO predict (predict_id, sample_index, avgint_id, avg_integrand) VALUES (?, NULL, ?, ?)",
			n, r.id, value.Float64); err != nil {
			return err
		}
		n++
	}
	return nil
}

// simulateCommand scales each kept data value by 1 + (index+1)/100 and draws
// the priors at the truth values.
func simulateCommand(ctx context.Context, tx *sql.Tx, n int) error {
	if err := execAll(ctx, tx, "DELETE FROM data_sim", "DELETE FROM prior_sim"); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_sim (data_sim_id, simulate_index, data_subset_id, data_sim_value)
			SELECT ? * (SELECT COUNT(*) FROM data_subset) + s.data_subset_id, ?, s.data_subset_id,
				d.meas_value * (1 + (? + 1) / 100.0)
			FROM data_subset s JOIN data d ON d.data_id = s.data_id ORDER BY s.data_subset_id`,
			i, i, i); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prior_sim (prior_sim_id, simulate_index, var_id, prior_sim_value, prior_sim_dage, prior_sim_dtime)
			SELECT ? * (SELECT COUNT(*) FROM truth_var) + truth_var_id, ?, truth_var_id, truth_var_value, NULL, NULL
			FROM truth_var ORDER BY truth_var_id`,
			i, i); err != nil {
			return err
		}
	}
	return nil
}

// sampleCommand reports the truth values, shifted by the sample index, as
// every sample.
func sampleCommand(ctx context.Context, tx *sql.Tx, n int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM sample"); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sample (sample_id, sample_index, var_id, var_value)
			SELECT ? * (SELECT COUNT(*) FROM truth_var) + truth_var_id, ?, truth_var_id, truth_var_value + ? / 1000.0
			FROM truth_var ORDER BY truth_var_id`,
			i, i, i); err != nil {
			return err
		}
	}
	return nil
}
