package api

import (
	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/pipeline"
	"github.com/maxshuai/casefile/internal/registry"
	"github.com/maxshuai/casefile/internal/search"
)

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	ID string `json:"id" example:"20250614" validate:"required"`
}

// RollbackRequest is the request body for restoring a checkpoint version.
type RollbackRequest struct {
	Version int `json:"version" example:"2" validate:"required"`
}

// CheckpointResponse reports the version a checkpoint save produced.
type CheckpointResponse struct {
	Version int `json:"version" example:"3" validate:"required"`
}

// FollowUpRequest carries the booking list for a follow-up email send.
// Recipients is the booking system's paste format: alternating lines of
// guest name and email address.
type FollowUpRequest struct {
	Recipients string `json:"recipients" validate:"required"`
	DryRun     bool   `json:"dryRun"`
}

// SessionState is the derived session state (aliased from the domain layer).
type SessionState = models.SessionState

// SessionListResponse wraps the session listing.
type SessionListResponse struct {
	Sessions []registry.Row `json:"sessions" validate:"required"`
}

// VersionsResponse wraps a session's version history.
type VersionsResponse struct {
	Versions []models.VersionEntry `json:"versions" validate:"required"`
}

// PipelineStatusResponse is the per-session pipeline report (aliased from the
// domain layer).
type PipelineStatusResponse = pipeline.SessionStatus

// SearchResponse wraps summary search results.
type SearchResponse struct {
	Results []search.Result `json:"results" validate:"required"`
}
