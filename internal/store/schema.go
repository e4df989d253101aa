// Package store reads and writes the engine's SQLite interchange file: model
// tables, data and avgint tables, options, the engine log and the output
// tables each command produces.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 holds every table the engine reads or writes. The data and avgint
// tables are recreated with one x_<covariate_id> column per covariate when
// they are written.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS age (age_id INTEGER PRIMARY KEY, age REAL NOT NULL);
CREATE TABLE IF NOT EXISTS time (time_id INTEGER PRIMARY KEY, time REAL NOT NULL);

CREATE TABLE IF NOT EXISTS node (
    node_id INTEGER PRIMARY KEY,
    node_name TEXT UNIQUE,
    parent INTEGER,
    c_location_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS density (density_id INTEGER PRIMARY KEY, density_name TEXT UNIQUE);

CREATE TABLE IF NOT EXISTS prior (
    prior_id INTEGER PRIMARY KEY,
    prior_name TEXT UNIQUE,
    density_id INTEGER NOT NULL,
    lower REAL,
    upper REAL,
    mean REAL NOT NULL,
    std REAL,
    eta REAL,
    nu REAL
);

CREATE TABLE IF NOT EXISTS smooth (
    smooth_id INTEGER PRIMARY KEY,
    smooth_name TEXT UNIQUE,
    n_age INTEGER NOT NULL,
    n_time INTEGER NOT NULL,
    mulstd_value_prior_id INTEGER,
    mulstd_dage_prior_id INTEGER,
    mulstd_dtime_prior_id INTEGER
);

CREATE TABLE IF NOT EXISTS smooth_grid (
    smooth_grid_id INTEGER PRIMARY KEY,
    smooth_id INTEGER NOT NULL,
    age_id INTEGER NOT NULL,
    time_id INTEGER NOT NULL,
    value_prior_id INTEGER,
    dage_prior_id INTEGER,
    dtime_prior_id INTEGER,
    const_value REAL
);

CREATE TABLE IF NOT EXISTS nslist (nslist_id INTEGER PRIMARY KEY, nslist_name TEXT UNIQUE);
CREATE TABLE IF NOT EXISTS nslist_pair (
    nslist_pair_id INTEGER PRIMARY KEY,
    nslist_id INTEGER NOT NULL,
    node_id INTEGER NOT NULL,
    smooth_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rate (
    rate_id INTEGER PRIMARY KEY,
    rate_name TEXT UNIQUE,
    parent_smooth_id INTEGER,
    child_smooth_id INTEGER,
    child_nslist_id INTEGER
);

CREATE TABLE IF NOT EXISTS integrand (
    integrand_id INTEGER PRIMARY KEY,
    integrand_name TEXT UNIQUE,
    minimum_meas_cv REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS covariate (
    covariate_id INTEGER PRIMARY KEY,
    covariate_name TEXT UNIQUE,
    reference REAL NOT NULL,
    max_difference REAL
);

CREATE TABLE IF NOT EXISTS mulcov (
    mulcov_id INTEGER PRIMARY KEY,
    mulcov_type TEXT NOT NULL,
    rate_id INTEGER,
    integrand_id INTEGER,
    covariate_id INTEGER NOT NULL,
    smooth_id INTEGER
);

CREATE TABLE IF NOT EXISTS weight (
    weight_id INTEGER PRIMARY KEY,
    weight_name TEXT UNIQUE,
    n_age INTEGER NOT NULL,
    n_time INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS weight_grid (
    weight_grid_id INTEGER PRIMARY KEY,
    weight_id INTEGER NOT NULL,
    age_id INTEGER NOT NULL,
    time_id INTEGER NOT NULL,
    weight REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS option (
    option_id INTEGER PRIMARY KEY,
    option_name TEXT UNIQUE,
    option_value TEXT
);

CREATE TABLE IF NOT EXISTS log (
    log_id INTEGER PRIMARY KEY,
    message_type TEXT,
    table_name TEXT,
    row_id INTEGER,
    unix_time INTEGER,
    message TEXT
);

CREATE TABLE IF NOT EXISTS var (
    var_id INTEGER PRIMARY KEY,
    var_type TEXT NOT NULL,
    smooth_id INTEGER,
    age_id INTEGER,
    time_id INTEGER,
    node_id INTEGER,
    rate_id INTEGER,
    integrand_id INTEGER,
    covariate_id INTEGER,
    mulcov_id INTEGER
);

CREATE TABLE IF NOT EXISTS start_var (start_var_id INTEGER PRIMARY KEY, start_var_value REAL);
CREATE TABLE IF NOT EXISTS scale_var (scale_var_id INTEGER PRIMARY KEY, scale_var_value REAL);
CREATE TABLE IF NOT EXISTS truth_var (truth_var_id INTEGER PRIMARY KEY, truth_var_value REAL);

CREATE TABLE IF NOT EXISTS fit_var (
    fit_var_id INTEGER PRIMARY KEY,
    fit_var_value REAL,
    residual_value REAL,
    residual_dage REAL,
    residual_dtime REAL,
    lagrange_value REAL,
    lagrange_dage REAL,
    lagrange_dtime REAL
);

CREATE TABLE IF NOT EXISTS data_subset (data_subset_id INTEGER PRIMARY KEY, data_id INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS fit_data_subset (
    fit_data_subset_id INTEGER PRIMARY KEY,
    avg_integrand REAL,
    weighted_residual REAL
);

CREATE TABLE IF NOT EXISTS predict (
    predict_id INTEGER PRIMARY KEY,
    sample_index INTEGER,
    avgint_id INTEGER NOT NULL,
    avg_integrand REAL
);

CREATE TABLE IF NOT EXISTS data_sim (
    data_sim_id INTEGER PRIMARY KEY,
    simulate_index INTEGER NOT NULL,
    data_subset_id INTEGER NOT NULL,
    data_sim_value REAL
);
CREATE TABLE IF NOT EXISTS prior_sim (
    prior_sim_id INTEGER PRIMARY KEY,
    simulate_index INTEGER NOT NULL,
    var_id INTEGER NOT NULL,
    prior_sim_value REAL,
    prior_sim_dage REAL,
    prior_sim_dtime REAL
);

CREATE TABLE IF NOT EXISTS sample (
    sample_id INTEGER PRIMARY KEY,
    sample_index INTEGER NOT NULL,
    var_id INTEGER NOT NULL,
    var_value REAL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// Table names.
const (
	TableAge           = "age"
	TableTime          = "time"
	TableNode          = "node"
	TableDensity       = "density"
	TablePrior         = "prior"
	TableSmooth        = "smooth"
	TableSmoothGrid    = "smooth_grid"
	TableNslist        = "nslist"
	TableNslistPair    = "nslist_pair"
	TableRate          = "rate"
	TableIntegrand     = "integrand"
	TableCovariate     = "covariate"
	TableMulcov        = "mulcov"
	TableWeight        = "weight"
	TableWeightGrid    = "weight_grid"
	TableData          = "data"
	TableAvgint        = "avgint"
	TableOption        = "option"
	TableLog           = "log"
	TableVar           = "var"
	TableStartVar      = "start_var"
	TableScaleVar      = "scale_var"
	TableTruthVar      = "truth_var"
	TableFitVar        = "fit_var"
	TableDataSubset    = "data_subset"
	TableFitDataSubset = "fit_data_subset"
	TablePredict       = "predict"
	TableDataSim       = "data_sim"
	TablePriorSim      = "prior_sim"
	TableSample        = "sample"
)

// InputTables are rewritten whenever the model, data or avgint changes.
var InputTables = []string{
	TableAge, TableTime, TableNode, TableDensity, TablePrior, TableSmooth, TableSmoothGrid,
	TableNslist, TableNslistPair, TableRate, TableIntegrand, TableCovariate, TableMulcov,
	TableWeight, TableWeightGrid, TableData, TableAvgint,
}

// OutputTables are written by engine commands.
var OutputTables = []string{
	TableLog, TableVar, TableStartVar, TableScaleVar, TableTruthVar, TableFitVar,
	TableDataSubset, TableFitDataSubset, TablePredict, TableDataSim, TablePriorSim, TableSample,
}

// InitSchema initializes the database schema.
// It creates all tables on a new file. An existing file must pass the
// integrity check and must not record a schema newer than SchemaVersion.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("engine file has schema version %d, this build reads up to %d", currentVersion, SchemaVersion)
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// createSchema creates every table, plus empty data and avgint tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	for _, table := range []string{TableData, TableAvgint} {
		if _, err := tx.ExecContext(ctx, measurementDDL(table, 0)); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// measurementDDL builds the data or avgint table with n covariate columns.
func measurementDDL(table string, n int) string {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s_id INTEGER PRIMARY KEY,\n", table, table)
	if table == TableData {
		ddl += "    data_name TEXT,\n"
	}
	ddl += "    integrand_id INTEGER NOT NULL,\n"
	if table == TableData {
		ddl += "    density_id INTEGER NOT NULL,\n"
	}
	ddl += "    node_id INTEGER NOT NULL,\n    weight_id INTEGER,\n"
	if table == TableData {
		ddl += "    hold_out INTEGER NOT NULL DEFAULT 0,\n    meas_value REAL,\n    meas_std REAL,\n    eta REAL,\n    nu REAL,\n"
	}
	ddl += "    age_lower REAL NOT NULL,\n    age_upper REAL NOT NULL,\n    time_lower REAL NOT NULL,\n    time_upper REAL NOT NULL"
	for i := 0; i < n; i++ {
		ddl += fmt.Sprintf(",\n    x_%d REAL", i)
	}
	return ddl + "\n)"
}

// ValidateIntegrity runs PRAGMA integrity_check on the database.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	return rows.Err()
}
