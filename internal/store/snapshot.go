package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/alec-deason/cascade/internal/pathutil"
)

// Snapshot writes a consistent copy of the engine file at src to dest,
// which must not exist. The source is opened read-only for the duration.
func Snapshot(ctx context.Context, src, dest string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("engine file %s: %w", pathutil.RedactPath(src), err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot %s already exists", pathutil.RedactPath(dest))
	}
	db, err := sql.Open("sqlite", "file:"+src+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("snapshot of %s: %w", pathutil.RedactPath(src), err)
	}
	return nil
}

// Verify checks that path is a readable engine file.
func Verify(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("checking %s: %w", pathutil.RedactPath(path), err)
	}
	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", TableOption).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking %s: %w", pathutil.RedactPath(path), err)
	}
	if n == 0 {
		return fmt.Errorf("%s has no %s table", pathutil.RedactPath(path), TableOption)
	}
	return nil
}
