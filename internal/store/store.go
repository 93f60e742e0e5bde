// Package store implements the checkpointed, file-backed session store.
//
// Each session owns a directory under the data root, partitioned into named
// zones. Artifacts are plain files; checkpoint-phase writes additionally
// produce an immutable snapshot and an append-only manifest entry, so every
// operator edit is versioned and reversible without data loss.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maxshuai/casefile/internal/apperr"
	"github.com/maxshuai/casefile/internal/checksum"
	"github.com/maxshuai/casefile/internal/models"
)

// Session zones.
const (
	ZoneInputs    = "inputs"
	ZoneFetched   = "fetched"
	ZoneAnalysis  = "analysis"
	ZoneSummaries = "summaries"
	ZoneOutput    = "output"
	ZoneAssets    = "assets"
	ZoneVersions  = "versions"
)

// Zones lists every zone allocated at session creation.
var Zones = []string{
	ZoneInputs, ZoneFetched, ZoneAnalysis, ZoneSummaries, ZoneOutput, ZoneAssets, ZoneVersions,
}

const manifestFile = "versions/manifest.json"

// Observer is notified after the store mutates a session. The registry uses
// it to maintain its incremental phase index.
type Observer interface {
	ArtifactWritten(sessionID string, phase models.Phase, version int)
	SessionDeleted(sessionID string)
}

// Store persists session artifacts under root (one directory per session).
type Store struct {
	root string

	obsMu     sync.RWMutex
	observers []Observer

	// Manifest read-modify-write is serialized per session so concurrent
	// versioned writes cannot drop entries.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a Store rooted at the given directory. The directory must
// already exist.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("store: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: root is not a directory: %s", abs)
	}
	return &Store{root: abs, locks: make(map[string]*sync.Mutex)}, nil
}

// Subscribe registers an observer for session mutations.
func (s *Store) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

func (s *Store) sessionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

// CreateSession allocates every zone directory and an empty manifest.
// Re-creating an existing session is not an error; the manifest is preserved.
func (s *Store) CreateSession(id string) error {
	if err := validSessionID(id); err != nil {
		return err
	}
	for _, zone := range Zones {
		if err := os.MkdirAll(filepath.Join(s.sessionDir(id), zone), 0o755); err != nil {
			return fmt.Errorf("store: allocate zone %s: %w", zone, err)
		}
	}
	if _, err := os.Stat(filepath.Join(s.sessionDir(id), filepath.FromSlash(manifestFile))); os.IsNotExist(err) {
		m := &models.Manifest{
			SessionID: id,
			CreatedAt: time.Now().UTC(),
			Versions:  []models.VersionEntry{},
		}
		if err := s.saveManifest(id, m); err != nil {
			return err
		}
	}
	s.notifyWritten(id)
	return nil
}

// SessionExists reports whether the session directory is present.
func (s *Store) SessionExists(id string) bool {
	if validSessionID(id) != nil {
		return false
	}
	info, err := os.Stat(s.sessionDir(id))
	return err == nil && info.IsDir()
}

// ListSessions returns the IDs of every stored session.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// SaveFile writes an unversioned artifact, creating intermediate directories
// as needed. Structured data is serialized as indented JSON; []byte, string,
// and json.RawMessage values are written as given.
func (s *Store) SaveFile(id, rel string, data any) error {
	if !s.SessionExists(id) {
		return fmt.Errorf("store: save %s: %w", rel, apperr.ErrSessionNotFound)
	}
	raw, err := encode(data)
	if err != nil {
		return err
	}
	abs, err := s.safeArtifactPath(id, rel)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(abs, raw); err != nil {
		return err
	}
	s.notifyWritten(id)
	return nil
}

// ReadFile returns the raw artifact bytes, or (nil, nil) when the artifact is
// absent. Missing artifacts are a normal condition, not an error.
func (s *Store) ReadFile(id, rel string) ([]byte, error) {
	abs, err := s.safeArtifactPath(id, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", rel, err)
	}
	return data, nil
}

// ReadJSON deserializes an artifact into v. It returns (false, nil) when the
// artifact is absent and a loud error when the content is malformed, so
// callers can tell "not there yet" from "corrupted".
func (s *Store) ReadJSON(id, rel string, v any) (bool, error) {
	data, err := s.ReadFile(id, rel)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: parse %s: %w", rel, err)
	}
	return true, nil
}

// SaveWithVersion writes the live artifact and advances the session's version
// counter. At checkpoint phases it also writes an immutable snapshot and
// appends a manifest entry. The counter increments at non-checkpoint phases
// too, keeping it monotonic and meaningful for later rollbacks.
func (s *Store) SaveWithVersion(id string, phase models.Phase, rel string, data any, action models.VersionAction, changes map[string]any) (int, error) {
	raw, err := encode(data)
	if err != nil {
		return 0, err
	}
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()
	return s.saveWithVersionLocked(id, phase, rel, raw, action, changes)
}

func (s *Store) saveWithVersionLocked(id string, phase models.Phase, rel string, raw []byte, action models.VersionAction, changes map[string]any) (int, error) {
	m, err := s.loadManifest(id)
	if err != nil {
		return 0, err
	}

	abs, err := s.safeArtifactPath(id, rel)
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(abs, raw); err != nil {
		return 0, err
	}

	m.CurrentVersion++
	version := m.CurrentVersion

	if IsCheckpoint(phase) {
		snapshot := snapshotName(version, phase, rel)
		snapAbs, err := s.safeArtifactPath(id, ZoneVersions+"/"+snapshot)
		if err != nil {
			return 0, err
		}
		if err := writeFileAtomic(snapAbs, raw); err != nil {
			return 0, err
		}
		m.Versions = append(m.Versions, models.VersionEntry{
			Version:   version,
			Phase:     phase,
			File:      rel,
			Timestamp: time.Now().UTC(),
			Action:    action,
			Snapshot:  snapshot,
			Checksum:  checksum.Sum(raw),
			Changes:   changes,
		})
	}

	if err := s.saveManifest(id, m); err != nil {
		return 0, err
	}
	s.notifyWritten(id)
	return version, nil
}

// VersionHistory returns the manifest's version entries. A session with no
// checkpoint writes yet yields an empty list, not an error.
func (s *Store) VersionHistory(id string) ([]models.VersionEntry, error) {
	m, err := s.loadManifest(id)
	if err != nil {
		return nil, err
	}
	if m.Versions == nil {
		return []models.VersionEntry{}, nil
	}
	return m.Versions, nil
}

// Rollback replays the snapshot recorded at targetVersion as a new forward
// version; history is never rewound. The new entry carries action "rollback"
// and a changes summary naming both ends of the jump.
func (s *Store) Rollback(id string, targetVersion int) (int, error) {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.loadManifest(id)
	if err != nil {
		return 0, err
	}

	var target *models.VersionEntry
	for i := range m.Versions {
		if m.Versions[i].Version == targetVersion {
			target = &m.Versions[i]
			break
		}
	}
	if target == nil {
		return 0, &apperr.VersionNotFoundError{SessionID: id, Version: targetVersion}
	}

	snapAbs, err := s.safeArtifactPath(id, ZoneVersions+"/"+target.Snapshot)
	if err != nil {
		return 0, err
	}
	raw, err := os.ReadFile(snapAbs)
	if err != nil {
		return 0, fmt.Errorf("store: read snapshot %s: %w", target.Snapshot, err)
	}

	changes := map[string]any{
		"rolledBackFrom": m.CurrentVersion,
		"rolledBackTo":   targetVersion,
	}
	return s.saveWithVersionLocked(id, target.Phase, target.File, raw, models.ActionRollback, changes)
}

// State scans the session and returns its derived phase, artifacts by zone,
// and version history. A missing session yields apperr.ErrSessionNotFound so
// callers can distinguish "no session" from "empty session".
func (s *Store) State(id string) (*models.SessionState, error) {
	if !s.SessionExists(id) {
		return nil, fmt.Errorf("store: state %s: %w", id, apperr.ErrSessionNotFound)
	}

	artifacts, err := s.scanArtifacts(id)
	if err != nil {
		return nil, err
	}

	state := &models.SessionState{
		ID:        id,
		Phase:     DerivePhase(artifacts),
		Artifacts: make(map[string][]string, len(Zones)),
		Versions:  []models.VersionEntry{},
	}
	for _, zone := range Zones {
		if zone == ZoneVersions {
			continue
		}
		state.Artifacts[zone] = []string{}
	}
	for p := range artifacts {
		zone, _, ok := strings.Cut(p, "/")
		if !ok {
			continue
		}
		state.Artifacts[zone] = append(state.Artifacts[zone], p)
	}
	for _, paths := range state.Artifacts {
		sort.Strings(paths)
	}

	_, state.HasSelectedEvidence = artifacts[ArtifactSelectedEvidence]
	_, state.HasEvidenceAnalysis = artifacts[ArtifactEvidenceAnalysis]
	_, state.HasSummaries = artifacts[ArtifactSummaries]
	_, state.HasDraft = artifacts[ArtifactDraft]
	_, state.Published = artifacts[ArtifactPublished]

	if m, err := s.loadManifest(id); err == nil && m.Versions != nil {
		state.Versions = m.Versions
	}
	return state, nil
}

// DeleteSession recursively removes the session's storage. Deleting a session
// that does not exist is a no-op.
func (s *Store) DeleteSession(id string) error {
	if err := validSessionID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	s.lockMu.Lock()
	delete(s.locks, id)
	s.lockMu.Unlock()

	s.obsMu.RLock()
	for _, o := range s.observers {
		o.SessionDeleted(id)
	}
	s.obsMu.RUnlock()
	return nil
}

// ImportAsset copies the file at srcPath into the session's assets zone under
// name and removes the source. The returned path is relative to the session
// directory.
func (s *Store) ImportAsset(id, srcPath, name string) (string, error) {
	if !s.SessionExists(id) {
		return "", fmt.Errorf("store: import asset: %w", apperr.ErrSessionNotFound)
	}
	rel := ZoneAssets + "/" + filepath.Base(name)
	abs, err := s.safeArtifactPath(id, rel)
	if err != nil {
		return "", err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("store: open asset source: %w", err)
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return "", fmt.Errorf("store: read asset source: %w", err)
	}
	if err := writeFileAtomic(abs, data); err != nil {
		return "", err
	}
	_ = os.Remove(srcPath)
	s.notifyWritten(id)
	return rel, nil
}

// AssetsDir returns the absolute path of the session's assets zone.
func (s *Store) AssetsDir(id string) string {
	return filepath.Join(s.sessionDir(id), ZoneAssets)
}

// CurrentVersion returns the session's version counter.
func (s *Store) CurrentVersion(id string) (int, error) {
	m, err := s.loadManifest(id)
	if err != nil {
		return 0, err
	}
	return m.CurrentVersion, nil
}

// scanArtifacts walks the session directory and returns the slash-separated
// relative paths of every artifact outside the versions zone.
func (s *Store) scanArtifacts(id string) (map[string]struct{}, error) {
	base := s.sessionDir(id)
	out := make(map[string]struct{})
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(base, p)
		if relErr != nil {
			return relErr
		}
		slashed := filepath.ToSlash(rel)
		if strings.HasPrefix(slashed, ZoneVersions+"/") {
			return nil
		}
		out[slashed] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) loadManifest(id string) (*models.Manifest, error) {
	if !s.SessionExists(id) {
		return nil, fmt.Errorf("store: manifest for %s: %w", id, apperr.ErrSessionNotFound)
	}
	var m models.Manifest
	found, err := s.ReadJSON(id, manifestFile, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		// Session directory exists but was never initialized through
		// CreateSession; treat it as an empty manifest.
		return &models.Manifest{SessionID: id, CreatedAt: time.Now().UTC(), Versions: []models.VersionEntry{}}, nil
	}
	return &m, nil
}

func (s *Store) saveManifest(id string, m *models.Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal manifest: %w", err)
	}
	abs, err := s.safeArtifactPath(id, manifestFile)
	if err != nil {
		return err
	}
	return writeFileAtomic(abs, raw)
}

func (s *Store) notifyWritten(id string) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	artifacts, err := s.scanArtifacts(id)
	if err != nil {
		return
	}
	phase := DerivePhase(artifacts)
	version := 0
	if m, err := s.loadManifest(id); err == nil {
		version = m.CurrentVersion
	}
	for _, o := range observers {
		o.ArtifactWritten(id, phase, version)
	}
}

// snapshotName builds the immutable snapshot filename for a versioned write,
// e.g. v003_intake_selected-evidence.json.
func snapshotName(version int, phase models.Phase, rel string) string {
	base := filepath.Base(filepath.FromSlash(rel))
	return fmt.Sprintf("v%03d_%s_%s", version, phase, base)
}

// encode serializes artifact data: byte-like values pass through, everything
// else becomes indented JSON.
func encode(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("store: marshal artifact: %w", err)
		}
		return raw, nil
	}
}
