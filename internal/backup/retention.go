package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alec-deason/cascade/internal/session"
)

// Info describes one snapshot on disk.
type Info struct {
	Path string
	// Engine is the engine file name the snapshot was taken from, without
	// its extension.
	Engine string
	// Record is the session record saved beside the snapshot, or empty.
	Record    string
	Size      int64
	CreatedAt time.Time
}

// Retention says which snapshots survive pruning. For each engine file the
// newest Keep snapshots survive, and so does every snapshot taken within
// MaxAge. The zero Retention keeps everything.
type Retention struct {
	Keep   int
	MaxAge time.Duration
}

// KeepsAll reports whether r never removes a snapshot.
func (r Retention) KeepsAll() bool { return r.Keep <= 0 && r.MaxAge <= 0 }

// Select returns the snapshots r keeps at time now, in their input order.
func (r Retention) Select(snapshots []Info, now time.Time) []Info {
	if r.KeepsAll() {
		return snapshots
	}
	kept := make([]bool, len(snapshots))
	if r.Keep > 0 {
		byEngine := make(map[string][]int)
		for i, s := range snapshots {
			byEngine[s.Engine] = append(byEngine[s.Engine], i)
		}
		for _, idx := range byEngine {
			sort.SliceStable(idx, func(a, b int) bool {
				return snapshots[idx[a]].CreatedAt.After(snapshots[idx[b]].CreatedAt)
			})
			for _, i := range idx[:min(r.Keep, len(idx))] {
				kept[i] = true
			}
		}
	}
	if r.MaxAge > 0 {
		cutoff := now.Add(-r.MaxAge)
		for i, s := range snapshots {
			if s.CreatedAt.After(cutoff) {
				kept[i] = true
			}
		}
	}
	var out []Info
	for i, s := range snapshots {
		if kept[i] {
			out = append(out, s)
		}
	}
	return out
}

// List returns the snapshots of enginePath in dir, newest first.
func List(dir, enginePath string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	p := prefix(enginePath)
	var snapshots []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, p) || filepath.Ext(name) != ".db" {
			continue
		}
		created, err := time.Parse(timestampLayout, strings.TrimSuffix(strings.TrimPrefix(name, p), ".db"))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		snap := Info{
			Path:      path,
			Engine:    strings.TrimSuffix(p, "-"),
			Size:      info.Size(),
			CreatedAt: created,
		}
		if _, err := os.Stat(session.RecordPath(path)); err == nil {
			snap.Record = session.RecordPath(path)
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// ApplyRetention deletes the snapshots of enginePath that r does not keep,
// along with their session records, and returns the deleted snapshot paths.
func ApplyRetention(dir, enginePath string, r Retention) (deleted []string, err error) {
	snapshots, err := List(dir, enginePath)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool)
	for _, s := range r.Select(snapshots, time.Now()) {
		keep[s.Path] = true
	}
	for _, s := range snapshots {
		if keep[s.Path] {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
		}
		if s.Record != "" {
			if err := os.Remove(s.Record); err != nil && !os.IsNotExist(err) {
				return deleted, fmt.Errorf("removing record of %s: %w", filepath.Base(s.Path), err)
			}
		}
		deleted = append(deleted, s.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}
