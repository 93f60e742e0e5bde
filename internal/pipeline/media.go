package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/batch"
	"github.com/maxshuai/casefile/internal/source"
)

// MediaInsight is the model's caption for one guest-shared file. Degraded
// marks entries produced by the filename fallback after an analysis failure.
type MediaInsight struct {
	Path     string `json:"path"`
	Caption  string `json:"caption"`
	Degraded bool   `json:"degraded,omitempty"`
}

// MediaAnalysis is the media pipeline's final product.
type MediaAnalysis struct {
	SessionID   string         `json:"sessionId"`
	Model       string         `json:"model,omitempty"`
	Insights    []MediaInsight `json:"insights"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

const captionSchema = `{
	"type": "object",
	"required": ["caption"],
	"properties": {
		"caption": {"type": "string"}
	}
}`

const mediaSystemPrompt = "You caption photos and clips shared by guests after a murder-mystery " +
	"dinner party. Given a file's name, path, and size, write one short caption suitable for a " +
	"printed case-file report."

// runMedia lists the event's shared media, caches the listing, then captions
// each file. Caption failures degrade per file instead of failing the
// pipeline, so a flaky model never blocks the media phase.
func (o *Orchestrator) runMedia(ctx context.Context, sessionID string) error {
	files, err := o.media.ListMedia(ctx, source.SessionRef{ID: sessionID})
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	if files == nil {
		files = []source.MediaFile{}
	}
	if err := o.setResult(sessionID, ResultMediaFiles, files); err != nil {
		return err
	}

	result := o.AnalyzeMedia(ctx, sessionID, files)
	return o.setResult(sessionID, ResultMediaAnalysis, result)
}

// AnalyzeMedia captions every file with bounded concurrency. It never fails;
// files the model could not caption get a degraded filename-derived caption.
func (o *Orchestrator) AnalyzeMedia(ctx context.Context, sessionID string, files []source.MediaFile) *MediaAnalysis {
	out := &MediaAnalysis{
		SessionID:   sessionID,
		Model:       o.analyzer.Name(),
		Insights:    []MediaInsight{},
		GeneratedAt: time.Now().UTC(),
	}
	if len(files) == 0 {
		return out
	}

	outcomes := batch.Process(ctx, files, o.opts.Concurrency, func(ctx context.Context, f source.MediaFile) (MediaInsight, error) {
		return o.captionFile(ctx, f)
	})

	degraded := 0
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			degraded++
			out.Insights = append(out.Insights, fallbackInsight(files[i]))
			continue
		}
		out.Insights = append(out.Insights, outcome.Value)
	}
	if degraded > 0 {
		o.log.Warn("media captions degraded", "session", sessionID, "degraded", degraded, "total", len(files))
	}
	return out
}

func (o *Orchestrator) captionFile(ctx context.Context, f source.MediaFile) (MediaInsight, error) {
	meta, err := json.Marshal(f)
	if err != nil {
		return MediaInsight{}, fmt.Errorf("encode media file: %w", err)
	}

	res, err := o.analyzer.Complete(ctx, analysis.Request{
		System: mediaSystemPrompt,
		Prompt: "Caption this file:\n" + string(meta),
		Schema: json.RawMessage(captionSchema),
	})
	if err != nil {
		return MediaInsight{}, err
	}

	var parsed struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(res.JSON, &parsed); err != nil {
		return MediaInsight{}, fmt.Errorf("decode caption: %w", err)
	}
	return MediaInsight{Path: f.Path, Caption: parsed.Caption}, nil
}

// fallbackInsight derives a plain caption from the filename, e.g.
// "round2/group_photo.jpg" becomes "group photo".
func fallbackInsight(f source.MediaFile) MediaInsight {
	name := f.Name
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return MediaInsight{Path: f.Path, Caption: strings.TrimSpace(name), Degraded: true}
}
