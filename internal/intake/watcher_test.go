package intake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxshuai/casefile/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, st *store.Store, intakeRoot string) <-chan string {
	t.Helper()
	imported := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = Watch(ctx, st, intakeRoot, testLogger(), func(sessionID, rel string) {
			imported <- sessionID + ":" + rel
		})
	}()
	// Give the watcher a moment to establish its watch list.
	time.Sleep(100 * time.Millisecond)
	return imported
}

func waitImport(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for import")
		return ""
	}
}

func TestWatcherImportsDroppedFile(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	intakeRoot := t.TempDir()
	imported := startWatcher(t, st, intakeRoot)

	if err := os.MkdirAll(filepath.Join(intakeRoot, "20250614"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the new directory land on the watch list before dropping the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(intakeRoot, "20250614", "group_photo.jpg"), []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := waitImport(t, imported)
	sessionID, rel, _ := strings.Cut(got, ":")
	if sessionID != "20250614" {
		t.Errorf("session = %q", sessionID)
	}
	if !strings.HasPrefix(rel, "assets/") || !strings.HasSuffix(rel, "-group_photo.jpg") {
		t.Errorf("asset path = %q", rel)
	}

	data, err := st.ReadFile("20250614", rel)
	if err != nil || string(data) != "jpegdata" {
		t.Errorf("imported content = %q, err %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(intakeRoot, "20250614", "group_photo.jpg")); !os.IsNotExist(err) {
		t.Error("dropped file not removed from intake")
	}
}

func TestWatcherImportsPreexistingFiles(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	intakeRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(intakeRoot, "20250614"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(intakeRoot, "20250614", "early.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	imported := startWatcher(t, st, intakeRoot)
	got := waitImport(t, imported)
	if !strings.HasPrefix(got, "20250614:assets/") {
		t.Errorf("import = %q", got)
	}
}

func TestWatcherIgnoresHiddenAndTopLevelFiles(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	intakeRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(intakeRoot, "20250614"), 0o755); err != nil {
		t.Fatal(err)
	}
	imported := startWatcher(t, st, intakeRoot)

	if err := os.WriteFile(filepath.Join(intakeRoot, "20250614", ".DS_Store"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(intakeRoot, "stray.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-imported:
		t.Errorf("unexpected import %q", got)
	case <-time.After(700 * time.Millisecond):
	}
}
