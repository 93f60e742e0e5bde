package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"

	units "github.com/docker/go-units"
	gitignore "github.com/sabhiram/go-gitignore"
)

// mediaIgnoreFile, when present in an event's media directory, lists
// gitignore-style patterns for files that must not appear in the case file.
const mediaIgnoreFile = ".mediaignore"

// defaultIgnorePatterns excludes bookkeeping files that guests' phones and
// sync tools leave behind.
var defaultIgnorePatterns = []string{
	".mediaignore",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.partial",
}

// FSMediaSource lists guest media from a directory tree with one
// subdirectory per event ID. subdir, when non-empty, narrows the listing to
// that directory inside the event's tree.
type FSMediaSource struct {
	root   string
	subdir string
	log    *slog.Logger
}

func NewFSMediaSource(root, subdir string, log *slog.Logger) *FSMediaSource {
	return &FSMediaSource{root: root, subdir: subdir, log: log}
}

// ListMedia returns the media files shared for the event. A missing event
// directory means no media was shared and yields an empty list.
func (s *FSMediaSource) ListMedia(ctx context.Context, ref SessionRef) ([]MediaFile, error) {
	dir := filepath.Join(s.root, ref.ID, s.subdir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []MediaFile{}, nil
	}

	matcher := s.loadIgnoreMatcher(dir)

	var files []MediaFile
	var skipped int
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if matcher.MatchesPath(rel) {
			skipped++
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files = append(files, MediaFile{
			Name:     d.Name(),
			Path:     rel,
			Size:     info.Size(),
			MimeType: mime.TypeByExtension(filepath.Ext(d.Name())),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: list media for %s: %w", ref.ID, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var total int64
	for _, f := range files {
		total += f.Size
	}
	s.log.Debug("listed media",
		"session", ref.ID,
		"files", len(files),
		"skipped", skipped,
		"size", units.HumanSize(float64(total)))
	return files, nil
}

func (s *FSMediaSource) loadIgnoreMatcher(dir string) gitignore.IgnoreParser {
	patterns := append([]string{}, defaultIgnorePatterns...)
	if m, err := gitignore.CompileIgnoreFileAndLines(filepath.Join(dir, mediaIgnoreFile), patterns...); err == nil {
		return m
	}
	return gitignore.CompileIgnoreLines(patterns...)
}
