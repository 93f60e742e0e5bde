package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/store"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	r, err := Open(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestUpsertAndGet(t *testing.T) {
	r := testRegistry(t)

	r.ArtifactWritten("20250614", models.PhaseIntake, 1)
	r.ArtifactWritten("20250614", models.PhaseSummaries, 3)

	row, err := r.Get("20250614")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row == nil {
		t.Fatal("session not indexed")
	}
	if row.Phase != models.PhaseSummaries || row.CurrentVersion != 3 {
		t.Errorf("row = %+v", row)
	}
}

func TestGetMissing(t *testing.T) {
	r := testRegistry(t)
	row, err := r.Get("19990101")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row != nil {
		t.Errorf("row = %+v, want nil", row)
	}
}

func TestListNewestFirstAndPhaseFilter(t *testing.T) {
	r := testRegistry(t)
	r.ArtifactWritten("20250601", models.PhaseDraft, 4)
	r.ArtifactWritten("20250614", models.PhaseIntake, 1)
	r.ArtifactWritten("20250620", models.PhaseIntake, 1)

	all, err := r.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "20250620" || all[2].ID != "20250601" {
		t.Errorf("all = %+v", all)
	}

	intake, err := r.List(models.PhaseIntake)
	if err != nil {
		t.Fatalf("List(intake): %v", err)
	}
	if len(intake) != 2 {
		t.Errorf("intake = %+v", intake)
	}
}

func TestSessionDeleted(t *testing.T) {
	r := testRegistry(t)
	r.ArtifactWritten("20250614", models.PhaseIntake, 1)
	r.SessionDeleted("20250614")

	row, err := r.Get("20250614")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row != nil {
		t.Error("session still indexed after delete")
	}
}

func TestObserverWiring(t *testing.T) {
	r := testRegistry(t)
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	st.Subscribe(r)

	if err := st.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := st.SaveWithVersion("20250614", models.PhaseIntake, store.ArtifactSelectedEvidence, []byte(`[]`), models.ActionCreated, nil); err != nil {
		t.Fatalf("SaveWithVersion: %v", err)
	}

	row, err := r.Get("20250614")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row == nil || row.Phase != models.PhaseIntake || row.CurrentVersion != 1 {
		t.Errorf("row = %+v", row)
	}

	if err := st.DeleteSession("20250614"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	row, _ = r.Get("20250614")
	if row != nil {
		t.Error("delete notification not applied")
	}
}

func TestRescan(t *testing.T) {
	r := testRegistry(t)
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	// Sessions written without the observer wired, as after a crash.
	if err := st.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := st.SaveWithVersion("20250614", models.PhaseIntake, store.ArtifactSelectedEvidence, []byte(`[]`), models.ActionCreated, nil); err != nil {
		t.Fatalf("SaveWithVersion: %v", err)
	}
	if err := st.CreateSession("20250620"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Stale row that rescan must drop.
	r.ArtifactWritten("19990101", models.PhaseDraft, 9)

	if err := r.Rescan(st); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	rows, err := r.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v, want 2", rows)
	}
	row, _ := r.Get("20250614")
	if row == nil || row.Phase != models.PhaseIntake || row.CurrentVersion != 1 {
		t.Errorf("row = %+v", row)
	}
	if stale, _ := r.Get("19990101"); stale != nil {
		t.Error("stale row survived rescan")
	}
}
