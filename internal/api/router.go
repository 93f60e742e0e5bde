package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maxshuai/casefile/internal/workflow"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workflow.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Sessions.
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)
	r.Delete("/sessions/{id}", h.DeleteSession)

	// Versioning.
	r.Get("/sessions/{id}/versions", h.Versions)
	r.Post("/sessions/{id}/rollback", h.Rollback)
	r.Put("/sessions/{id}/checkpoints/{phase}", h.SaveCheckpoint)

	// Pipelines and artifacts.
	r.Get("/sessions/{id}/pipelines", h.PipelineStatus)
	r.Get("/sessions/{id}/artifacts/*", h.ReadArtifact)

	// Report generation.
	r.Post("/sessions/{id}/summaries", h.GenerateSummaries)
	r.Post("/sessions/{id}/draft", h.GenerateDraft)
	r.Post("/sessions/{id}/publish", h.Publish)
	r.Post("/sessions/{id}/followups", h.SendFollowUps)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
