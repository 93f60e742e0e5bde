package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maxshuai/casefile/internal/apperr"
	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/pipeline"
	"github.com/maxshuai/casefile/internal/workflow"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workflow.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workflow.Service) *Handler {
	return &Handler{svc: svc}
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// artifactPath extracts the artifact path from the URL (everything after
// /artifacts/). Supports encoded slashes from OpenAPI clients.
func artifactPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// CreateSession handles POST /api/sessions.
//
//	@Summary		Create a session for an event and start the evidence pipeline
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateSessionRequest	true	"Session to create"
//	@Success		201		{object}	SessionState
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	state, err := h.svc.CreateSession(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorBody("session already exists"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List sessions, optionally filtered by phase
//	@Tags			sessions
//	@Produce		json
//	@Param			phase	query		string	false	"Filter by phase"
//	@Success		200		{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	phase := models.Phase(r.URL.Query().Get("phase"))
	rows, err := h.svc.ListSessions(r.Context(), phase)
	if err != nil {
		slog.Error("list sessions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: rows})
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get a session's derived state
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	SessionState
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetState(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err, "get session")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DeleteSession handles DELETE /api/sessions/{id}.
//
//	@Summary		Delete a session and all its artifacts
//	@Tags			sessions
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), sessionID(r)); err != nil {
		h.writeServiceError(w, r, err, "delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Versions handles GET /api/sessions/{id}/versions.
//
//	@Summary		Get a session's checkpoint version history
//	@Tags			versions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	VersionsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/versions [get]
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.VersionHistory(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err, "version history")
		return
	}
	writeJSON(w, http.StatusOK, VersionsResponse{Versions: versions})
}

// Rollback handles POST /api/sessions/{id}/rollback.
//
//	@Summary		Restore a checkpoint version as a new forward version
//	@Tags			versions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			body	body		RollbackRequest	true	"Version to restore"
//	@Success		200		{object}	CheckpointResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/rollback [post]
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	version, err := h.svc.Rollback(r.Context(), sessionID(r), req.Version)
	if err != nil {
		var vnf *apperr.VersionNotFoundError
		if errors.As(err, &vnf) {
			writeJSON(w, http.StatusNotFound, errorBody(vnf.Error()))
			return
		}
		h.writeServiceError(w, r, err, "rollback")
		return
	}
	writeJSON(w, http.StatusOK, CheckpointResponse{Version: version})
}

// SaveCheckpoint handles PUT /api/sessions/{id}/checkpoints/{phase}.
//
// The request body is the artifact content itself; the optional If-Match
// header carries the checksum of the content the editor started from.
//
//	@Summary		Save a human-edited checkpoint artifact
//	@Tags			versions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string	true	"Session ID"
//	@Param			phase	path		string	true	"Checkpoint phase"	Enums(intake, summaries, draft)
//	@Param			If-Match	header	string	false	"Checksum of the edited base content"
//	@Success		200		{object}	CheckpointResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/checkpoints/{phase} [put]
func (h *Handler) SaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("unreadable request body"))
		return
	}
	phase := models.Phase(chi.URLParam(r, "phase"))
	ifMatch := r.Header.Get("If-Match")

	version, err := h.svc.SaveCheckpoint(r.Context(), sessionID(r), phase, content, ifMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("checkpoint conflict: artifact changed since it was read"))
		case errors.Is(err, apperr.ErrSessionNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("session not found"))
		default:
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, CheckpointResponse{Version: version})
}

// PipelineStatus handles GET /api/sessions/{id}/pipelines.
//
//	@Summary		Get pipeline lifecycle and cached results for a session
//	@Tags			pipelines
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	PipelineStatusResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/pipelines [get]
func (h *Handler) PipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.PipelineStatus(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err, "pipeline status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ReadArtifact handles GET /api/sessions/{id}/artifacts/*.
//
//	@Summary		Read a session artifact
//	@Tags			artifacts
//	@Produce		json
//	@Param			id		path		string	true	"Session ID"
//	@Param			path	path		string	true	"Artifact path"
//	@Success		200		{file}		binary
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/artifacts/{path} [get]
func (h *Handler) ReadArtifact(w http.ResponseWriter, r *http.Request) {
	rel := artifactPath(r)
	if rel == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("artifact path is required"))
		return
	}
	data, err := h.svc.ReadArtifact(r.Context(), sessionID(r), rel)
	if err != nil {
		h.writeServiceError(w, r, err, "read artifact")
		return
	}
	if strings.HasSuffix(rel, ".json") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	} else if strings.HasSuffix(rel, ".html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	_, _ = w.Write(data)
}

// GenerateSummaries handles POST /api/sessions/{id}/summaries.
//
//	@Summary		Generate the case summaries from the evidence analysis
//	@Tags			reports
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	workflow.CaseSummaries
//	@Failure		404	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/summaries [post]
func (h *Handler) GenerateSummaries(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.GenerateSummaries(r.Context(), sessionID(r))
	if err != nil {
		h.writeGenerationError(w, r, err, "generate summaries")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// GenerateDraft handles POST /api/sessions/{id}/draft.
//
//	@Summary		Assemble the draft case file from the summaries checkpoint
//	@Tags			reports
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	workflow.CaseFile
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/draft [post]
func (h *Handler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	cf, err := h.svc.GenerateDraft(r.Context(), sessionID(r))
	if err != nil {
		h.writeGenerationError(w, r, err, "generate draft")
		return
	}
	writeJSON(w, http.StatusOK, cf)
}

// Publish handles POST /api/sessions/{id}/publish.
//
//	@Summary		Render the draft to the final HTML case file
//	@Tags			reports
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Publish(r.Context(), sessionID(r)); err != nil {
		h.writeGenerationError(w, r, err, "publish")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendFollowUps handles POST /api/sessions/{id}/followups.
//
//	@Summary		Email guests a link to the published case file
//	@Tags			reports
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			body	body		FollowUpRequest	true	"Booking list paste and send options"
//	@Success		200		{object}	notify.Report
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/followups [post]
func (h *Handler) SendFollowUps(w http.ResponseWriter, r *http.Request) {
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	report, err := h.svc.SendFollowUps(r.Context(), sessionID(r), req.Recipients, req.DryRun)
	if err != nil {
		h.writeGenerationError(w, r, err, "send follow-ups")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Search handles GET /api/search.
//
//	@Summary		Search case summaries across sessions
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Query string"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.Search(r.Context(), query, limit)
	if err != nil {
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, apperr.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("session not found"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	default:
		slog.Error(op+" failed", slog.String("session", sessionID(r)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// writeGenerationError maps report-generation failures: missing inputs are
// the client's problem (the workflow isn't there yet), everything else is a
// service fault.
func (h *Handler) writeGenerationError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, apperr.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("session not found"))
	case errors.Is(err, pipeline.ErrResultUnavailable):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, pipeline.ErrAwaitTimeout):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("session", sessionID(r)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	}
}
