// Package backup keeps timestamped snapshots of engine files, so a fit can
// be recovered after a later command rewrites the file.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alec-deason/cascade/internal/pathutil"
	"github.com/alec-deason/cascade/internal/session"
	"github.com/alec-deason/cascade/internal/store"
)

const timestampLayout = "20060102-150405.000000"

// DefaultDir is the snapshot directory beside an engine file.
func DefaultDir(enginePath string) string {
	return enginePath + ".snapshots"
}

// GeneratePath creates a timestamped snapshot filename in dir.
func GeneratePath(dir, enginePath string) string {
	return filepath.Join(dir, prefix(enginePath)+time.Now().UTC().Format(timestampLayout)+".db")
}

func prefix(enginePath string) string {
	base := filepath.Base(enginePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-"
}

// Backup snapshots the engine file and its session record into dir and
// returns the snapshot path. The engine file must not be open for writing
// by another process.
func Backup(ctx context.Context, enginePath, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	dest := GeneratePath(dir, enginePath)
	if err := store.Snapshot(ctx, enginePath, dest); err != nil {
		return "", err
	}
	err := copyFile(session.RecordPath(enginePath), session.RecordPath(dest))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("copying session record: %w", err)
	}
	return dest, nil
}

// Restore replaces the engine file with a verified snapshot. The snapshot's
// session record replaces the engine file's record; without one the record
// is removed so the next command starts from scratch.
func Restore(ctx context.Context, snapshotPath, enginePath string) error {
	if err := store.Verify(ctx, snapshotPath); err != nil {
		return fmt.Errorf("snapshot rejected: %w", err)
	}
	if err := copyFile(snapshotPath, enginePath); err != nil {
		return fmt.Errorf("restoring %s: %w", pathutil.RedactPath(enginePath), err)
	}
	err := copyFile(session.RecordPath(snapshotPath), session.RecordPath(enginePath))
	if errors.Is(err, os.ErrNotExist) {
		return session.RemoveRecord(enginePath)
	}
	return err
}

// copyFile writes src to dst through a temporary file and a rename.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
