package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var retentionNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshotsOf(engine string, ages ...time.Duration) []Info {
	var out []Info
	for i, age := range ages {
		out = append(out, Info{
			Path:      fmt.Sprintf("/b/%s-%d.db", engine, i),
			Engine:    engine,
			CreatedAt: retentionNow.Add(-age),
		})
	}
	return out
}

func paths(snapshots []Info) []string {
	var out []string
	for _, s := range snapshots {
		out = append(out, filepath.Base(s.Path))
	}
	return out
}

func TestRetention_KeepsNewestPerEngine(t *testing.T) {
	// Input order is deliberately not newest first.
	fit := snapshotsOf("fit", 3*time.Hour, 0, 4*time.Hour, time.Hour)
	sim := snapshotsOf("sim", 5*time.Hour, 6*time.Hour)
	snapshots := append(append([]Info{}, fit...), sim...)

	keep := Retention{Keep: 2}.Select(snapshots, retentionNow)

	want := []string{"fit-1.db", "fit-3.db", "sim-0.db", "sim-1.db"}
	if diff := cmp.Diff(want, paths(keep)); diff != "" {
		t.Errorf("Select() mismatch (-want +got):\n%s", diff)
	}
}

func TestRetention_MaxAgeKeepsRecentBeyondCount(t *testing.T) {
	snapshots := snapshotsOf("fit", 0, time.Hour, 2*time.Hour, 48*time.Hour, 72*time.Hour)

	keep := Retention{Keep: 1, MaxAge: 24 * time.Hour}.Select(snapshots, retentionNow)
	if diff := cmp.Diff([]string{"fit-0.db", "fit-1.db", "fit-2.db"}, paths(keep)); diff != "" {
		t.Errorf("Select() mismatch (-want +got):\n%s", diff)
	}

	keep = Retention{MaxAge: 90 * time.Minute}.Select(snapshots, retentionNow)
	if diff := cmp.Diff([]string{"fit-0.db", "fit-1.db"}, paths(keep)); diff != "" {
		t.Errorf("age only: Select() mismatch (-want +got):\n%s", diff)
	}
}

func TestRetention_ZeroKeepsAll(t *testing.T) {
	snapshots := snapshotsOf("fit", 0, 100*time.Hour)
	if !(Retention{}).KeepsAll() {
		t.Fatal("zero Retention should keep every snapshot")
	}
	if got := (Retention{}).Select(snapshots, retentionNow); len(got) != 2 {
		t.Errorf("Select() kept %d, want 2", len(got))
	}
}

func TestList_OnlyThisEngineFile(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"fit-20260201-120000.000000.db",
		"fit-20260203-120000.000000.db",
		"fit-20260203-120000.000000.db.session.json",
		"other-20260204-120000.000000.db",
		"fit-notes.db",
		"readme.txt",
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	snapshots, err := List(dir, "/work/fit.db")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("List() found %d, want 2: %v", len(snapshots), snapshots)
	}
	if filepath.Base(snapshots[0].Path) != "fit-20260203-120000.000000.db" {
		t.Errorf("first snapshot = %s, want the newest", filepath.Base(snapshots[0].Path))
	}
	if want := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC); !snapshots[1].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", snapshots[1].CreatedAt, want)
	}
	if snapshots[0].Engine != "fit" {
		t.Errorf("Engine = %q, want fit", snapshots[0].Engine)
	}
	if snapshots[0].Record == "" || snapshots[1].Record != "" {
		t.Errorf("Record = %q, %q; want only the newest to have one", snapshots[0].Record, snapshots[1].Record)
	}
}

func TestList_MissingDir(t *testing.T) {
	snapshots, err := List(filepath.Join(t.TempDir(), "absent"), "fit.db")
	if err != nil || snapshots != nil {
		t.Errorf("List() = %v, %v; want nothing", snapshots, err)
	}
}

func TestApplyRetention_DeletesSnapshotsAndRecords(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		name := filepath.Join(dir, "fit-2026020"+string(rune('0'+i))+"-120000.000000.db")
		if err := os.WriteFile(name, []byte("data"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name+".session.json", []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := ApplyRetention(dir, "fit.db", Retention{Keep: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 3 {
		t.Errorf("deleted %d files, want 3", len(deleted))
	}

	remaining, _ := List(dir, "fit.db")
	if len(remaining) != 2 {
		t.Errorf("remaining = %d, want 2", len(remaining))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 4 {
		t.Errorf("directory has %d entries, want 2 snapshots and 2 records", len(entries))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"0d", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"3y", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
