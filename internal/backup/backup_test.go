package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alec-deason/cascade/internal/session"
	"github.com/alec-deason/cascade/internal/store"
)

// newEngineFile creates an empty engine file with a session record.
func newEngineFile(t *testing.T, state session.State) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fit.db")
	st, err := store.Open(context.Background(), path,
		[]store.Location{{ID: 1, ParentID: store.NoParent, Name: "world"}}, 1, nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := session.SaveRecord(path, session.Record{State: state}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGeneratePath(t *testing.T) {
	path := GeneratePath("/snaps", "/work/fit.db")
	if filepath.Dir(path) != "/snaps" {
		t.Errorf("dir = %s, want /snaps", filepath.Dir(path))
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "fit-") || !strings.HasSuffix(base, ".db") {
		t.Errorf("unexpected snapshot name %s", base)
	}
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	engine := newEngineFile(t, session.FitDone)
	dir := DefaultDir(engine)

	snap, err := Backup(ctx, engine, dir)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := store.Verify(ctx, snap); err != nil {
		t.Errorf("snapshot does not verify: %v", err)
	}
	if rec, err := session.LoadRecord(snap); err != nil || rec.State != session.FitDone {
		t.Errorf("snapshot record = %+v, %v", rec, err)
	}

	// A later command moves the session on.
	if err := session.SaveRecord(engine, session.Record{State: session.Initialized}); err != nil {
		t.Fatal(err)
	}

	if err := Restore(ctx, snap, engine); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	rec, err := session.LoadRecord(engine)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != session.FitDone {
		t.Errorf("restored State = %v, want %v", rec.State, session.FitDone)
	}

	snapshots, err := List(dir, engine)
	if err != nil || len(snapshots) != 1 {
		t.Errorf("List() = %v, %v; want one snapshot", snapshots, err)
	}
}

func TestRestore_WithoutRecordClearsSession(t *testing.T) {
	ctx := context.Background()
	engine := newEngineFile(t, session.FitDone)
	snap, err := Backup(ctx, engine, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(session.RecordPath(snap)); err != nil {
		t.Fatal(err)
	}

	if err := Restore(ctx, snap, engine); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := os.Stat(session.RecordPath(engine)); !os.IsNotExist(err) {
		t.Errorf("expected the session record to be removed, stat error = %v", err)
	}
}

func TestRestore_RejectsDamagedSnapshot(t *testing.T) {
	engine := newEngineFile(t, session.FitDone)
	bad := filepath.Join(t.TempDir(), "fit-20260101-000000.000000.db")
	if err := os.WriteFile(bad, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Restore(context.Background(), bad, engine); err == nil {
		t.Error("expected a damaged snapshot to be rejected")
	}
	if err := store.Verify(context.Background(), engine); err != nil {
		t.Errorf("engine file changed by failed restore: %v", err)
	}
}
