// Package intake watches a drop directory for guest media and imports it
// into session asset zones. Operators (or an upload hook) drop files under
// {intake}/{sessionID}/ and the watcher moves them into the store.
package intake

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/maxshuai/casefile/internal/store"
)

// settleDelay is how long a dropped file must stay quiet before import, so
// half-copied uploads are not picked up.
const settleDelay = 250 * time.Millisecond

// EventCallback is called after a successful import.
type EventCallback func(sessionID, rel string)

// Watch starts an fsnotify watcher on the intake root and imports dropped
// files until ctx is cancelled. It calls cb (if non-nil) after each import.
//
// New session directories created at runtime are automatically added to the
// watch list, and files already present in them are imported.
func Watch(ctx context.Context, st *store.Store, intakeRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := os.MkdirAll(intakeRoot, 0o755); err != nil {
		return err
	}
	if err := addDirsRecursive(w, intakeRoot); err != nil {
		return err
	}

	logger.Info("intake: started", slog.String("root", intakeRoot))

	pending := make(map[string]time.Time)
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	scheduleSettle := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settleDelay)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settleDelay)
		}
	}

	// Files dropped before startup.
	collectExisting(intakeRoot, intakeRoot, pending)
	if len(pending) > 0 {
		scheduleSettle()
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("intake: stopped")
			return nil

		case <-settleCh:
			now := time.Now()
			requeue := false
			for abs, last := range pending {
				if now.Sub(last) < settleDelay/2 {
					requeue = true
					continue
				}
				delete(pending, abs)
				importFile(st, intakeRoot, abs, logger, cb)
			}
			if requeue {
				scheduleSettle()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("intake: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					collectExisting(intakeRoot, absPath, pending)
					if len(pending) > 0 {
						scheduleSettle()
					}
					continue
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if isHiddenFile(absPath) {
					continue
				}
				pending[absPath] = time.Now()
				scheduleSettle()
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, absPath)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("intake: error", slog.String("error", watchErr.Error()))
		}
	}
}

// importFile moves one settled file into its session's assets zone. The
// session is the first path element under the intake root; the stored name
// gets a short unique prefix so same-named drops never clobber each other.
func importFile(st *store.Store, intakeRoot, absPath string, logger *slog.Logger, cb EventCallback) {
	rel, err := filepath.Rel(intakeRoot, absPath)
	if err != nil {
		return
	}
	sessionID, _, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok {
		logger.Warn("intake: file outside a session directory", slog.String("path", rel))
		return
	}

	if err := st.CreateSession(sessionID); err != nil {
		logger.Warn("intake: session unusable",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
		return
	}

	name := uuid.NewString()[:8] + "-" + filepath.Base(absPath)
	stored, err := st.ImportAsset(sessionID, absPath, name)
	if err != nil {
		logger.Warn("intake: import failed",
			slog.String("session", sessionID),
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return
	}

	logger.Info("intake: imported",
		slog.String("session", sessionID),
		slog.String("asset", stored))
	if cb != nil {
		cb(sessionID, stored)
	}
}

func collectExisting(intakeRoot, dir string, pending map[string]time.Time) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isHiddenFile(path) {
			return nil
		}
		// Only files inside a session directory are importable.
		rel, relErr := filepath.Rel(intakeRoot, path)
		if relErr != nil || !strings.Contains(filepath.ToSlash(rel), "/") {
			return nil
		}
		pending[path] = time.Now()
		return nil
	})
}

func isHiddenFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
