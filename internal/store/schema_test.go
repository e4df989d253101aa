package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema_FreshDatabase(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		t.Fatalf("get schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
	for _, table := range append(append([]string{}, InputTables...), OutputTables...) {
		if cols := getColumns(t, db, table); len(cols) == 0 {
			t.Errorf("table %s was not created", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := InitSchema(ctx, db); err != nil {
			t.Fatalf("InitSchema call %d failed: %v", i+1, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("schema_version has %d rows, want 1", n)
	}
}

func TestInitSchema_RejectsNewerVersion(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	err := InitSchema(ctx, db)
	if err == nil || !strings.Contains(err.Error(), "schema version") {
		t.Fatalf("InitSchema on a newer file: got %v, want schema version error", err)
	}
}

// An engine file written by another tool has the tables but no
// schema_version; opening it must not drop what is there.
func TestInitSchema_ForeignEngineFile(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, measurementDDL(TableData, 2)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO data (data_id, integrand_id, density_id, node_id, age_lower, age_upper, time_lower, time_upper)
		VALUES (0, 0, 1, 0, 0, 1, 2000, 2000)`); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	cols := getColumns(t, db, TableData)
	if !cols["x_1"] {
		t.Error("existing covariate column was lost")
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("data has %d rows, want 1", n)
	}
}

func TestMeasurementDDL(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		n       int
		want    []string
		notWant []string
	}{
		{"data without covariates", TableData, 0, []string{"data_name", "meas_value", "hold_out"}, []string{"x_0"}},
		{"data with covariates", TableData, 3, []string{"x_0", "x_2"}, []string{"x_3"}},
		{"avgint", TableAvgint, 1, []string{"avgint_id", "x_0"}, []string{"meas_value", "data_name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openMemory(t)
			if _, err := db.Exec(measurementDDL(tt.table, tt.n)); err != nil {
				t.Fatalf("DDL failed: %v\n%s", err, measurementDDL(tt.table, tt.n))
			}
			cols := getColumns(t, db, tt.table)
			for _, c := range tt.want {
				if !cols[c] {
					t.Errorf("missing column %s", c)
				}
			}
			for _, c := range tt.notWant {
				if cols[c] {
					t.Errorf("unexpected column %s", c)
				}
			}
		})
	}
}

func TestResetSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO age (age_id, age) VALUES (0, 0)`); err != nil {
		t.Fatal(err)
	}
	if err := resetSchema(ctx, db); err != nil {
		t.Fatalf("resetSchema failed: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM age`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("age has %d rows after reset, want 0", n)
	}
	if err := ValidateIntegrity(ctx, db); err != nil {
		t.Errorf("ValidateIntegrity: %v", err)
	}
}

func getColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		t.Fatalf("table info %s: %v", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols
}

// resetSchema drops all tables and recreates the schema.
func resetSchema(ctx context.Context, db *sql.DB) error {
	tables := append(append([]string{}, InputTables...), OutputTables...)
	tables = append(tables, TableOption, "schema_version")
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return createSchema(ctx, db)
}
