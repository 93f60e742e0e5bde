// Package workflow coordinates the case-file production flow: session
// creation, background pipelines, human checkpoints, report generation, and
// publishing.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/apperr"
	"github.com/maxshuai/casefile/internal/checksum"
	"github.com/maxshuai/casefile/internal/events"
	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/notify"
	"github.com/maxshuai/casefile/internal/pipeline"
	"github.com/maxshuai/casefile/internal/registry"
	"github.com/maxshuai/casefile/internal/search"
	"github.com/maxshuai/casefile/internal/store"
)

// Service coordinates the store, pipelines, registry, and search index.
type Service struct {
	store    *store.Store
	orch     *pipeline.Orchestrator
	resolver *pipeline.Resolver
	reg      *registry.Registry
	idx      *search.Index
	analyzer analysis.Client
	broker   *events.Broker
	notifier notify.Notifier
	log      *slog.Logger
}

// NewService creates the workflow service. reg, idx, broker, and notifier
// may each be nil when the corresponding subsystem is not wired.
func NewService(st *store.Store, orch *pipeline.Orchestrator, resolver *pipeline.Resolver, reg *registry.Registry, idx *search.Index, analyzer analysis.Client, broker *events.Broker, notifier notify.Notifier, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		orch:     orch,
		resolver: resolver,
		reg:      reg,
		idx:      idx,
		analyzer: analyzer,
		broker:   broker,
		notifier: notifier,
		log:      log,
	}
}

// ValidateSessionID checks the event-date session ID format (YYYYMMDD).
func ValidateSessionID(id string) error {
	return validation.Validate(id,
		validation.Required,
		validation.Length(8, 8),
		is.Digit,
	)
}

// CreateSession allocates a session for an event and starts the evidence
// pipeline in the background. Creating an existing session is a conflict.
func (s *Service) CreateSession(ctx context.Context, id string) (*models.SessionState, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("workflow: session id %q: %w", id, err)
	}
	if s.store.SessionExists(id) {
		return nil, fmt.Errorf("workflow: session %s: %w", id, apperr.ErrConflict)
	}
	if err := s.store.CreateSession(id); err != nil {
		return nil, err
	}

	s.orch.StartEvidence(ctx, id)

	if s.broker != nil {
		s.broker.Publish(events.Event{Type: "session.created", Data: map[string]string{"session": id}})
	}
	s.log.Info("session created", "session", id)
	return s.store.State(id)
}

// GetState returns a session's derived state.
func (s *Service) GetState(_ context.Context, id string) (*models.SessionState, error) {
	return s.store.State(id)
}

// ListSessions returns indexed sessions, optionally filtered by phase.
func (s *Service) ListSessions(_ context.Context, phase models.Phase) ([]registry.Row, error) {
	if s.reg == nil {
		return nil, errors.New("workflow: session registry not configured")
	}
	return s.reg.List(phase)
}

// SaveCheckpoint stores a human-edited artifact at a checkpoint phase with a
// new version. ifMatch, when set, must equal the checksum of the current
// artifact content or the save is rejected as a conflict.
//
// Saving the intake checkpoint starts the media pipeline: selected evidence
// is final, so media work can begin.
func (s *Service) SaveCheckpoint(ctx context.Context, id string, phase models.Phase, content []byte, ifMatch string) (int, error) {
	artifact, ok := store.CheckpointArtifact(phase)
	if !ok {
		return 0, fmt.Errorf("workflow: phase %q is not a checkpoint", phase)
	}
	if !json.Valid(content) {
		return 0, fmt.Errorf("workflow: checkpoint content for %s is not valid JSON", phase)
	}

	existing, err := s.store.ReadFile(id, artifact)
	if err != nil {
		return 0, err
	}
	if ifMatch != "" && (existing == nil || ifMatch != checksum.Sum(existing)) {
		return 0, fmt.Errorf("workflow: checkpoint %s for %s: %w", phase, id, apperr.ErrConflict)
	}

	action := models.ActionEdited
	if existing == nil {
		action = models.ActionCreated
	}
	version, err := s.store.SaveWithVersion(id, phase, artifact, content, action, nil)
	if err != nil {
		return 0, err
	}

	switch phase {
	case models.PhaseIntake:
		s.orch.StartMedia(ctx, id)
	case models.PhaseSummaries:
		s.reindexSummaries(id, content)
	}

	if s.broker != nil {
		s.broker.Publish(events.Event{Type: "checkpoint.saved", Data: map[string]any{
			"session": id, "phase": phase, "version": version,
		}})
	}
	s.log.Info("checkpoint saved", "session", id, "phase", phase, "version", version)
	return version, nil
}

// Rollback restores a checkpointed version as a new forward version.
func (s *Service) Rollback(_ context.Context, id string, version int) (int, error) {
	newVersion, err := s.store.Rollback(id, version)
	if err != nil {
		return 0, err
	}

	// The restored artifact may be the summaries; keep the index honest.
	if raw, readErr := s.store.ReadFile(id, store.ArtifactSummaries); readErr == nil && raw != nil {
		s.reindexSummaries(id, raw)
	}

	if s.broker != nil {
		s.broker.Publish(events.Event{Type: "session.rolledback", Data: map[string]any{
			"session": id, "to": version, "version": newVersion,
		}})
	}
	s.log.Info("session rolled back", "session", id, "to", version, "version", newVersion)
	return newVersion, nil
}

// VersionHistory returns the session's manifest entries.
func (s *Service) VersionHistory(_ context.Context, id string) ([]models.VersionEntry, error) {
	if !s.store.SessionExists(id) {
		return nil, fmt.Errorf("workflow: history for %s: %w", id, apperr.ErrSessionNotFound)
	}
	return s.store.VersionHistory(id)
}

// PipelineStatus reports pipeline lifecycle and cached results for a session.
func (s *Service) PipelineStatus(_ context.Context, id string) (pipeline.SessionStatus, error) {
	if !s.store.SessionExists(id) {
		return pipeline.SessionStatus{}, fmt.Errorf("workflow: status for %s: %w", id, apperr.ErrSessionNotFound)
	}
	return s.orch.FullStatus(id), nil
}

// ReadArtifact returns a session artifact's raw content.
func (s *Service) ReadArtifact(_ context.Context, id, rel string) ([]byte, error) {
	data, err := s.store.ReadFile(id, rel)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("workflow: artifact %s in %s: %w", rel, id, apperr.ErrNotFound)
	}
	return data, nil
}

// DeleteSession removes the session's storage, cached pipeline state, and
// search entries.
func (s *Service) DeleteSession(_ context.Context, id string) error {
	if !s.store.SessionExists(id) {
		return fmt.Errorf("workflow: delete %s: %w", id, apperr.ErrSessionNotFound)
	}
	if err := s.store.DeleteSession(id); err != nil {
		return err
	}
	s.orch.Cleanup(id)
	if s.idx != nil {
		if err := s.idx.DeleteSession(id); err != nil {
			s.log.Warn("search cleanup failed", "session", id, "error", err)
		}
	}
	if s.broker != nil {
		s.broker.Publish(events.Event{Type: "session.deleted", Data: map[string]string{"session": id}})
	}
	s.log.Info("session deleted", "session", id)
	return nil
}

// Search queries summary sections across all sessions.
func (s *Service) Search(_ context.Context, query string, limit int) ([]search.Result, error) {
	if s.idx == nil {
		return nil, errors.New("workflow: search index not configured")
	}
	return s.idx.Search(query, limit)
}

// reindexSummaries refreshes the search index from a summaries artifact.
// Index failures are logged, not fatal: the artifact is the source of truth.
func (s *Service) reindexSummaries(id string, raw []byte) {
	if s.idx == nil {
		return
	}
	var cs CaseSummaries
	if err := json.Unmarshal(raw, &cs); err != nil {
		s.log.Warn("summaries not indexable", "session", id, "error", err)
		return
	}
	docs := make([]search.Document, 0, len(cs.Sections))
	for _, sec := range cs.Sections {
		docs = append(docs, search.Document{Section: sec.Section, Title: sec.Title, Text: sec.Text})
	}
	if err := s.idx.IndexSummaries(id, docs); err != nil {
		s.log.Warn("summaries indexing failed", "session", id, "error", err)
	}
}
