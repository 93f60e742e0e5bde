package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeMediaFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestListMediaMissingDirIsEmpty(t *testing.T) {
	s := NewFSMediaSource(t.TempDir(), "", discardLogger())
	files, err := s.ListMedia(context.Background(), SessionRef{ID: "20250614"})
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want empty", files)
	}
}

func TestListMediaWalksAndSorts(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "20250614/round2/b.jpg", "bb")
	writeMediaFile(t, root, "20250614/a.png", "a")
	writeMediaFile(t, root, "20250615/other.jpg", "x")

	s := NewFSMediaSource(root, "", discardLogger())
	files, err := s.ListMedia(context.Background(), SessionRef{ID: "20250614"})
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].Path != "a.png" || files[1].Path != "round2/b.jpg" {
		t.Errorf("paths = %q, %q", files[0].Path, files[1].Path)
	}
	if files[1].Size != 2 {
		t.Errorf("size = %d, want 2", files[1].Size)
	}
	if files[0].MimeType == "" {
		t.Error("mime type not detected for .png")
	}
}

func TestListMediaHonorsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "20250614/keep.jpg", "k")
	writeMediaFile(t, root, "20250614/private/secret.jpg", "s")
	writeMediaFile(t, root, "20250614/blurry.jpg", "b")
	writeMediaFile(t, root, "20250614/.mediaignore", "private/\nblurry.jpg\n")
	writeMediaFile(t, root, "20250614/.DS_Store", "junk")

	s := NewFSMediaSource(root, "", discardLogger())
	files, err := s.ListMedia(context.Background(), SessionRef{ID: "20250614"})
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(files) != 1 || files[0].Path != "keep.jpg" {
		t.Errorf("files = %v, want only keep.jpg", files)
	}
}

func TestListMediaSubdirNarrowsListing(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "20250614/assets/a.jpg", "a")
	writeMediaFile(t, root, "20250614/inputs/selected-evidence.json", "[]")

	s := NewFSMediaSource(root, "assets", discardLogger())
	files, err := s.ListMedia(context.Background(), SessionRef{ID: "20250614"})
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(files) != 1 || files[0].Path != "a.jpg" {
		t.Errorf("files = %v, want only a.jpg", files)
	}
}

func TestListMediaCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "20250614/a.jpg", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewFSMediaSource(root, "", discardLogger())
	if _, err := s.ListMedia(ctx, SessionRef{ID: "20250614"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
