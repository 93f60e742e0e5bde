// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/api"
	"github.com/maxshuai/casefile/internal/events"
	"github.com/maxshuai/casefile/internal/intake"
	"github.com/maxshuai/casefile/internal/mcpserver"
	"github.com/maxshuai/casefile/internal/notify"
	"github.com/maxshuai/casefile/internal/pipeline"
	"github.com/maxshuai/casefile/internal/registry"
	"github.com/maxshuai/casefile/internal/search"
	"github.com/maxshuai/casefile/internal/source"
	"github.com/maxshuai/casefile/internal/store"
	"github.com/maxshuai/casefile/internal/workflow"
)

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_root", cfg.Data.Root),
		slog.String("registry_path", cfg.Registry.Path),
		slog.String("analysis_provider", cfg.Analysis.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, reg, st, broker, closeAll, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	// Rebuild the registry and rehydrate pipeline result caches from the
	// artifacts mirrored before the last shutdown.
	if err := reg.Rescan(st); err != nil {
		logger.Warn("registry rescan failed", slog.String("error", err.Error()))
	}

	// API router.
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the intake directory for dropped media files.
	g.Go(func() error {
		err := intake.Watch(gCtx, st, cfg.Data.IntakeDir, logger, func(sessionID, rel string) {
			broker.Publish(events.Event{Type: "intake.imported", Data: map[string]string{
				"session": sessionID,
				"file":    rel,
			}})
		})
		if err != nil {
			logger.Error("intake watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdin/stdout. Logs go to stderr because
// stdout carries the protocol.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	svc, reg, st, _, closeAll, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := reg.Rescan(st); err != nil {
		logger.Warn("registry rescan failed", slog.String("error", err.Error()))
	}

	logger.Info("Starting MCP server on stdio")
	return mcpserver.New(svc).ServeStdio()
}

// buildServices wires the store, registry, search index, pipelines, and
// workflow service. The returned cleanup closes everything in reverse order.
func buildServices(cfg *Config, logger *slog.Logger) (*workflow.Service, *registry.Registry, *store.Store, *events.Broker, func(), error) {
	if err := os.MkdirAll(cfg.Data.Root, 0o755); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create data root: %w", err)
	}

	st, err := store.New(cfg.Data.Root)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("init store: %w", err)
	}

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("init registry: %w", err)
	}
	st.Subscribe(reg)

	idx, err := search.Open(cfg.Data.SearchIndex, logger)
	if err != nil {
		reg.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("init search index: %w", err)
	}

	analyzer, err := analysis.NewClient(cfg.Analysis.Provider, cfg.Analysis.APIKey,
		cfg.Analysis.Model, cfg.Analysis.BaseURL, cfg.Analysis.Timeout())
	if err != nil {
		idx.Close()
		reg.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("init analysis client: %w", err)
	}

	var evidence source.EvidenceSource = source.NoEvidenceSource{}
	if cfg.Sources.EvidenceURL != "" {
		evidence = source.NewHTTPEvidenceSource(cfg.Sources.EvidenceURL, cfg.Sources.EvidenceToken, logger)
	}
	// The intake watcher imports dropped files into each session's assets
	// zone; the media pipeline lists from there.
	media := source.NewFSMediaSource(cfg.Data.Root, store.ZoneAssets, logger)

	broker := events.NewBroker(2 * time.Second)

	orch := pipeline.New(st, evidence, media, analyzer, broker, logger, pipeline.Options{
		BatchSize:    cfg.Pipelines.BatchSize,
		Concurrency:  cfg.Pipelines.Concurrency,
		AwaitTimeout: cfg.Pipelines.AwaitTimeout(),
	})

	// Reload mirrored pipeline results so the resolver can answer from cache
	// across restarts.
	if ids, err := st.ListSessions(); err == nil {
		for _, id := range ids {
			if err := orch.Hydrate(id); err != nil {
				logger.Warn("hydrate failed", slog.String("session", id), slog.String("error", err.Error()))
			}
		}
	}

	resolver := pipeline.NewResolver(st, orch, cfg.Pipelines.AwaitTimeout())
	resolver.Bypass = cfg.Pipelines.ResolverBypass
	var notifier notify.Notifier
	if cfg.Notify.Enabled() {
		mailer, err := notify.NewMailer(notify.Config{
			Host:            cfg.Notify.SMTPHost,
			Port:            cfg.Notify.SMTPPort,
			Username:        cfg.Notify.Username,
			Password:        cfg.Notify.Password,
			SenderEmail:     cfg.Notify.SenderEmail,
			SenderName:      cfg.Notify.SenderName,
			ReplyTo:         cfg.Notify.ReplyTo,
			CaseFileBaseURL: cfg.Notify.CaseFileBaseURL,
			FeedbackBaseURL: cfg.Notify.FeedbackBaseURL,
			SendDelay:       cfg.Notify.SendDelay(),
		}, logger)
		if err != nil {
			broker.Close()
			idx.Close()
			reg.Close()
			return nil, nil, nil, nil, nil, fmt.Errorf("init follow-up mailer: %w", err)
		}
		notifier = mailer
	}

	svc := workflow.NewService(st, orch, resolver, reg, idx, analyzer, broker, notifier, logger)

	closeAll := func() {
		broker.Close()
		idx.Close()
		reg.Close()
	}
	return svc, reg, st, broker, closeAll, nil
}
