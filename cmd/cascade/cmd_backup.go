package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/backup"
	"github.com/alec-deason/cascade/internal/pathutil"
)

const defaultKeepSnapshots = 10

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <engine.db>",
		Short: "Snapshot an engine file",
		Long: `Copy an engine file and its session record into a snapshot directory.

Every init clears the engine's output tables, so snapshot a file before a
command that would lose a fit you want to keep. Default location:
<engine.db>.snapshots/. Keeps the last 10 snapshots unless told otherwise.

Examples:
  cascade backup fit.db
  cascade backup fit.db --keep 3 --max-age 2w
  cascade backup list fit.db
  cascade backup restore fit.db.snapshots/fit-20260301-101500.000000.db fit.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			retention, err := buildRetention(keep, maxAge)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = backup.DefaultDir(args[0])
			} else {
				allowed, err := pathutil.AllowedSnapshotDirs(args[0])
				if err != nil {
					return err
				}
				if err := pathutil.ValidatePath(dir, allowed); err != nil {
					return fmt.Errorf("snapshot directory rejected: %w", err)
				}
			}
			path, deleted, err := snapshot(cmd.Context(), args[0], dir, retention)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{
					"path":    path,
					"removed": len(deleted),
				})
			}
			fmt.Fprintf(out, "Snapshot created: %s\n", path)
			if len(deleted) > 0 {
				fmt.Fprintf(out, "  Removed %d old snapshots\n", len(deleted))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Snapshot directory beside the engine file or under ~/.cascade (default: <engine.db>.snapshots)")
	cmd.Flags().Int("keep", defaultKeepSnapshots, "Keep at most this many snapshots (0 to keep all)")
	cmd.Flags().String("max-age", "", "Also keep snapshots newer than this, such as 30d or 2w")

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupRestoreCmd(),
	)
	return cmd
}

func newBackupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <engine.db>",
		Short: "List snapshots of an engine file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = backup.DefaultDir(args[0])
			}

			snapshots, err := backup.List(dir, args[0])
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				type jsonEntry struct {
					Path      string `json:"path"`
					Size      int64  `json:"size_bytes"`
					CreatedAt string `json:"created_at"`
				}
				entries := make([]jsonEntry, 0, len(snapshots))
				for _, s := range snapshots {
					entries = append(entries, jsonEntry{
						Path:      s.Path,
						Size:      s.Size,
						CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
					})
				}
				return json.NewEncoder(out).Encode(map[string]any{
					"snapshots":   entries,
					"total_count": len(entries),
					"directory":   dir,
				})
			}

			if len(snapshots) == 0 {
				fmt.Fprintf(out, "No snapshots found in %s\n", pathutil.RedactPath(dir))
				return nil
			}
			fmt.Fprintf(out, "Snapshots in %s:\n", pathutil.RedactPath(dir))
			for _, s := range snapshots {
				fmt.Fprintf(out, "  %s  %s  %d bytes\n",
					s.CreatedAt.Format("2006-01-02 15:04:05"), s.Path, s.Size)
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Snapshot directory (default: <engine.db>.snapshots)")
	return cmd
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot.db> <engine.db>",
		Short: "Replace an engine file with a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backup.Restore(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

// buildRetention keeps a snapshot if either the count or the age limit
// wants it. With neither limit every snapshot is kept.
func buildRetention(keep int, maxAge string) (backup.Retention, error) {
	r := backup.Retention{Keep: keep}
	if maxAge != "" {
		d, err := backup.ParseDuration(maxAge)
		if err != nil {
			return r, fmt.Errorf("--max-age: %w", err)
		}
		r.MaxAge = d
	}
	return r, nil
}

// snapshot backs up path into dir and prunes older snapshots of it.
func snapshot(ctx context.Context, path, dir string, r backup.Retention) (string, []string, error) {
	dest, err := backup.Backup(ctx, path, dir)
	if err != nil {
		return "", nil, fmt.Errorf("backup failed: %w", err)
	}
	if r.KeepsAll() {
		return dest, nil, nil
	}
	deleted, err := backup.ApplyRetention(dir, path, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to apply retention: %v\n", err)
	}
	return dest, deleted, nil
}

// snapshotBefore snapshots an existing engine file when --backup is set,
// keeping the default number of snapshots.
func snapshotBefore(cmd *cobra.Command, path string) error {
	if on, _ := cmd.Flags().GetBool("backup"); !on {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	dest, _, err := snapshot(cmd.Context(), path, backup.DefaultDir(path),
		backup.Retention{Keep: defaultKeepSnapshots})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot created: %s\n", dest)
	return nil
}
