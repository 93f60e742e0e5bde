package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeFileAtomic writes data via tmp file -> fsync -> rename so readers never
// observe a partially written artifact and an I/O failure cannot corrupt the
// previous content.
func writeFileAtomic(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".casefile-tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	success = true
	return nil
}

// validSessionID rejects IDs that could escape the data root or collide with
// path separators. Session IDs are opaque; the reference deployment uses
// 8-digit event dates but any single path segment is accepted.
func validSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("store: empty session id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("store: invalid session id: %q", id)
	}
	return nil
}

// safeArtifactPath resolves rel against the session directory and rejects any
// result that escapes it (directory traversal).
func (s *Store) safeArtifactPath(id, rel string) (string, error) {
	if err := validSessionID(id); err != nil {
		return "", err
	}
	if rel == "" {
		return "", fmt.Errorf("store: empty artifact path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("store: absolute artifact paths not allowed: %s", rel)
	}
	base := filepath.Join(s.root, id)
	joined := filepath.Join(base, cleaned)
	if !strings.HasPrefix(joined, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("store: artifact path escapes session: %s", rel)
	}
	return joined, nil
}
