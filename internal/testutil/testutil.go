// Package testutil provides shared test helpers for setting up session
// stores, registries, and search indexes.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxshuai/casefile/internal/registry"
	"github.com/maxshuai/casefile/internal/search"
	"github.com/maxshuai/casefile/internal/store"
)

// Logger returns a logger that only surfaces errors, keeping test output
// readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary session store that is automatically cleaned up.
func TestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// TestRegistry creates a temporary SQLite session registry.
func TestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "casefile-test.db"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

// TestIndex creates a temporary bleve summaries index.
func TestIndex(t *testing.T) *search.Index {
	t.Helper()
	idx, err := search.Open(filepath.Join(t.TempDir(), "summaries.bleve"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}
