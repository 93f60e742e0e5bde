package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maxshuai/casefile/internal/apperr"
	"github.com/maxshuai/casefile/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestCreateSessionAllocatesZones(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, zone := range Zones {
		info, err := os.Stat(filepath.Join(s.root, "20250614", zone))
		if err != nil || !info.IsDir() {
			t.Errorf("zone %s not allocated: %v", zone, err)
		}
	}

	state, err := s.State("20250614")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Phase != models.PhaseCreated {
		t.Errorf("fresh session phase = %q, want %q", state.Phase, models.PhaseCreated)
	}
	if len(state.Versions) != 0 {
		t.Errorf("fresh session has %d version entries, want 0", len(state.Versions))
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.SaveWithVersion("20250614", models.PhaseIntake, ArtifactSelectedEvidence, []byte(`[]`), models.ActionCreated, nil); err != nil {
		t.Fatalf("SaveWithVersion: %v", err)
	}
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("re-create: %v", err)
	}
	history, err := s.VersionHistory("20250614")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("manifest lost on re-create: %d entries, want 1", len(history))
	}
}

func TestCreateSessionRejectsBadID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := s.CreateSession(id); err == nil {
			t.Errorf("CreateSession(%q) succeeded, want error", id)
		}
	}
}

func TestSaveAndReadFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	payload := map[string]string{"suspect": "the caterer"}
	if err := s.SaveFile("20250614", "analysis/notes.json", payload); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	var got map[string]string
	found, err := s.ReadJSON("20250614", "analysis/notes.json", &got)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if !found {
		t.Fatal("artifact not found after save")
	}
	if got["suspect"] != "the caterer" {
		t.Errorf("round trip mismatch: %v", got)
	}
}

func TestReadFileAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	data, err := s.ReadFile("20250614", "output/case-file.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if data != nil {
		t.Errorf("absent artifact returned data: %q", data)
	}
}

func TestSaveFileTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SaveFile("20250614", "../escape.json", []byte("{}")); err == nil {
		t.Fatal("traversal path accepted")
	}
}

func TestSaveWithVersionCheckpoint(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	v, err := s.SaveWithVersion("20250614", models.PhaseIntake, ArtifactSelectedEvidence, []byte(`["e1"]`), models.ActionCreated, nil)
	if err != nil {
		t.Fatalf("SaveWithVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("first version = %d, want 1", v)
	}

	history, err := s.VersionHistory("20250614")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	entry := history[0]
	if entry.Snapshot != "v001_intake_selected-evidence.json" {
		t.Errorf("snapshot name = %q", entry.Snapshot)
	}
	if entry.Action != models.ActionCreated {
		t.Errorf("action = %q", entry.Action)
	}
	if entry.Checksum == "" {
		t.Error("checksum missing")
	}

	snap, err := os.ReadFile(filepath.Join(s.root, "20250614", ZoneVersions, entry.Snapshot))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if string(snap) != `["e1"]` {
		t.Errorf("snapshot content = %q", snap)
	}
}

func TestSaveWithVersionNonCheckpointIncrementsWithoutSnapshot(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	v, err := s.SaveWithVersion("20250614", models.PhaseAnalysis, ArtifactEvidenceAnalysis, []byte(`{}`), models.ActionCreated, nil)
	if err != nil {
		t.Fatalf("SaveWithVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}

	history, err := s.VersionHistory("20250614")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("non-checkpoint write produced %d manifest entries", len(history))
	}

	cur, err := s.CurrentVersion("20250614")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if cur != 1 {
		t.Errorf("counter = %d, want 1", cur)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "20250614", ZoneVersions))
	if err != nil {
		t.Fatalf("read versions zone: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "manifest.json" {
			t.Errorf("unexpected snapshot %s for non-checkpoint write", e.Name())
		}
	}
}

func TestRollbackReplaysSnapshotForward(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := s.SaveWithVersion("20250614", models.PhaseIntake, ArtifactSelectedEvidence, []byte(`["original"]`), models.ActionCreated, nil); err != nil {
		t.Fatalf("v1: %v", err)
	}
	if _, err := s.SaveWithVersion("20250614", models.PhaseIntake, ArtifactSelectedEvidence, []byte(`["edited"]`), models.ActionEdited, nil); err != nil {
		t.Fatalf("v2: %v", err)
	}

	v, err := s.Rollback("20250614", 1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v != 3 {
		t.Fatalf("rollback version = %d, want 3", v)
	}

	live, err := s.ReadFile("20250614", ArtifactSelectedEvidence)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(live) != `["original"]` {
		t.Errorf("live artifact after rollback = %q", live)
	}

	history, err := s.VersionHistory("20250614")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (rollback appends)", len(history))
	}
	last := history[2]
	if last.Action != models.ActionRollback {
		t.Errorf("last action = %q, want rollback", last.Action)
	}
	if last.Changes["rolledBackTo"] != float64(1) && last.Changes["rolledBackTo"] != 1 {
		t.Errorf("rolledBackTo = %v", last.Changes["rolledBackTo"])
	}
}

func TestRollbackUnknownVersion(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	_, err := s.Rollback("20250614", 42)
	var vnf *apperr.VersionNotFoundError
	if !errors.As(err, &vnf) {
		t.Fatalf("error = %v, want VersionNotFoundError", err)
	}
	if vnf.Version != 42 {
		t.Errorf("Version = %d", vnf.Version)
	}
}

func TestConcurrentVersionedWrites(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveWithVersion("20250614", models.PhaseSummaries, ArtifactSummaries, []byte(`{}`), models.ActionEdited, nil)
			if err != nil {
				t.Errorf("SaveWithVersion: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := s.VersionHistory("20250614")
	if err != nil {
		t.Fatalf("VersionHistory: %v", err)
	}
	if len(history) != n {
		t.Fatalf("history length = %d, want %d", len(history), n)
	}
	seen := make(map[int]bool)
	for _, e := range history {
		if seen[e.Version] {
			t.Errorf("duplicate version %d", e.Version)
		}
		seen[e.Version] = true
	}
}

func TestStateMissingSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.State("19990101")
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestStateFlagsAndArtifacts(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.SaveWithVersion("20250614", models.PhaseIntake, ArtifactSelectedEvidence, []byte(`[]`), models.ActionCreated, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveFile("20250614", ArtifactSummaries, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	state, err := s.State("20250614")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !state.HasSelectedEvidence || !state.HasSummaries {
		t.Errorf("flags: selected=%v summaries=%v", state.HasSelectedEvidence, state.HasSummaries)
	}
	if state.HasDraft || state.Published {
		t.Errorf("flags set for absent artifacts")
	}
	if state.Phase != models.PhaseSummaries {
		t.Errorf("phase = %q, want %q", state.Phase, models.PhaseSummaries)
	}
	if len(state.Artifacts[ZoneInputs]) != 1 {
		t.Errorf("inputs artifacts = %v", state.Artifacts[ZoneInputs])
	}
	if _, ok := state.Artifacts[ZoneVersions]; ok {
		t.Error("versions zone leaked into artifacts map")
	}
	if len(state.Versions) != 1 {
		t.Errorf("versions = %d, want 1", len(state.Versions))
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.DeleteSession("20250614"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if s.SessionExists("20250614") {
		t.Error("session still exists after delete")
	}
	if err := s.DeleteSession("20250614"); err != nil {
		t.Errorf("deleting absent session: %v", err)
	}
}

func TestImportAsset(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	rel, err := s.ImportAsset("20250614", src, "a1b2c3d4-photo.jpg")
	if err != nil {
		t.Fatalf("ImportAsset: %v", err)
	}
	if rel != "assets/a1b2c3d4-photo.jpg" {
		t.Errorf("rel = %q", rel)
	}
	data, err := s.ReadFile("20250614", rel)
	if err != nil || string(data) != "jpegdata" {
		t.Fatalf("imported content = %q, err %v", data, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file not removed after import")
	}

	state, err := s.State("20250614")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Phase != models.PhaseMedia {
		t.Errorf("phase = %q, want %q", state.Phase, models.PhaseMedia)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	written []string
	deleted []string
}

func (r *recordingObserver) ArtifactWritten(id string, _ models.Phase, _ int) {
	r.mu.Lock()
	r.written = append(r.written, id)
	r.mu.Unlock()
}

func (r *recordingObserver) SessionDeleted(id string) {
	r.mu.Lock()
	r.deleted = append(r.deleted, id)
	r.mu.Unlock()
}

func TestObserverNotifications(t *testing.T) {
	s := newTestStore(t)
	obs := &recordingObserver{}
	s.Subscribe(obs)

	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SaveFile("20250614", ArtifactDraft, []byte(`{}`)); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if err := s.DeleteSession("20250614"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if len(obs.written) < 2 {
		t.Errorf("written notifications = %d, want >= 2", len(obs.written))
	}
	if len(obs.deleted) != 1 || obs.deleted[0] != "20250614" {
		t.Errorf("deleted notifications = %v", obs.deleted)
	}
}

func TestManifestShape(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("20250614"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.SaveWithVersion("20250614", models.PhaseDraft, ArtifactDraft, []byte(`{}`), models.ActionEdited, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.root, "20250614", "versions", "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	for _, key := range []string{"sessionId", "createdAt", "currentVersion", "versions"} {
		if _, ok := m[key]; !ok {
			t.Errorf("manifest missing key %q", key)
		}
	}
}
