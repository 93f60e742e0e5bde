package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/apperr"
	"github.com/maxshuai/casefile/internal/events"
	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/notify"
	"github.com/maxshuai/casefile/internal/pipeline"
	"github.com/maxshuai/casefile/internal/source"
	"github.com/maxshuai/casefile/internal/store"
)

// SummarySection is one narrative block of the case summaries.
type SummarySection struct {
	Section string `json:"section"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// CaseSummaries is the summaries checkpoint artifact.
type CaseSummaries struct {
	SessionID   string           `json:"sessionId"`
	Sections    []SummarySection `json:"sections"`
	Degraded    bool             `json:"degraded,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// CaseFile is the draft checkpoint artifact, the full report before the
// final human pass and publishing.
type CaseFile struct {
	SessionID     string                  `json:"sessionId"`
	Title         string                  `json:"title"`
	Sections      []SummarySection        `json:"sections"`
	Media         []pipeline.MediaInsight `json:"media"`
	EvidenceCount int                     `json:"evidenceCount"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}

const summariesSchema = `{
	"type": "object",
	"required": ["sections"],
	"properties": {
		"sections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["section", "title", "text"],
				"properties": {
					"section": {"type": "string"},
					"title": {"type": "string"},
					"text": {"type": "string"}
				}
			}
		}
	}
}`

const summariesSystemPrompt = "You write the case summaries for a murder-mystery dinner party " +
	"report. From the analyzed evidence, write narrative sections the hosts can hand to guests: " +
	"what happened round by round, who looked guilty, and how the case resolved."

// GenerateSummaries turns the evidence analysis into the summaries
// checkpoint artifact. If the background pipeline never produced the
// analysis, the fetch and analysis are done here synchronously; a model
// failure degrades to mechanically assembled sections instead of blocking
// the workflow.
func (s *Service) GenerateSummaries(ctx context.Context, id string) (*CaseSummaries, error) {
	if !s.store.SessionExists(id) {
		return nil, fmt.Errorf("workflow: summaries for %s: %w", id, apperr.ErrSessionNotFound)
	}

	raw, err := s.resolver.Resolve(ctx, id, pipeline.ResultEvidenceAnalysis)
	if errors.Is(err, pipeline.ErrResultUnavailable) || errors.Is(err, pipeline.ErrAwaitTimeout) {
		s.log.Info("evidence analysis not available in background, computing synchronously", "session", id)
		var ea *pipeline.EvidenceAnalysis
		ea, err = s.computeEvidenceAnalysis(ctx, id)
		if err == nil {
			raw, err = json.Marshal(ea)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: evidence analysis for %s: %w", id, err)
	}

	var ea pipeline.EvidenceAnalysis
	if err := json.Unmarshal(raw, &ea); err != nil {
		return nil, fmt.Errorf("workflow: decode evidence analysis for %s: %w", id, err)
	}

	cs := s.summarize(ctx, id, raw, &ea)

	if _, err := s.store.SaveWithVersion(id, models.PhaseSummaries, store.ArtifactSummaries, cs, models.ActionCreated, nil); err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(cs); err == nil {
		s.reindexSummaries(id, encoded)
	}
	s.log.Info("summaries generated", "session", id, "sections", len(cs.Sections), "degraded", cs.Degraded)
	return cs, nil
}

// computeEvidenceAnalysis reproduces the evidence pipeline's work on the
// caller's goroutine: records already resolved elsewhere are reused, a fresh
// fetch covers the rest.
func (s *Service) computeEvidenceAnalysis(ctx context.Context, id string) (*pipeline.EvidenceAnalysis, error) {
	var records []source.EvidenceRecord
	if raw, err := s.resolver.Resolve(ctx, id, pipeline.ResultEvidenceRecords); err == nil {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode evidence records: %w", err)
		}
	} else {
		var fetchErr error
		records, fetchErr = s.orch.FetchEvidenceRecords(ctx, id)
		if fetchErr != nil {
			return nil, fetchErr
		}
	}
	return s.orch.AnalyzeEvidence(ctx, id, records), nil
}

func (s *Service) summarize(ctx context.Context, id string, analysisJSON []byte, ea *pipeline.EvidenceAnalysis) *CaseSummaries {
	res, err := s.analyzer.Complete(ctx, analysis.Request{
		System: summariesSystemPrompt,
		Prompt: "Write case summaries from this evidence analysis:\n" + string(analysisJSON),
		Schema: json.RawMessage(summariesSchema),
	})
	if err == nil {
		var parsed struct {
			Sections []SummarySection `json:"sections"`
		}
		if decodeErr := json.Unmarshal(res.JSON, &parsed); decodeErr == nil {
			return &CaseSummaries{
				SessionID:   id,
				Sections:    parsed.Sections,
				GeneratedAt: time.Now().UTC(),
			}
		}
	}

	s.log.Warn("summaries degraded to mechanical assembly", "session", id, "error", err)
	return mechanicalSummaries(id, ea)
}

// mechanicalSummaries builds readable sections straight from the insights.
func mechanicalSummaries(id string, ea *pipeline.EvidenceAnalysis) *CaseSummaries {
	var buf bytes.Buffer
	for _, in := range ea.Insights {
		fmt.Fprintf(&buf, "- %s", in.Summary)
		for _, suspect := range in.Suspects {
			fmt.Fprintf(&buf, " (suspect: %s)", suspect)
		}
		buf.WriteByte('\n')
	}
	text := buf.String()
	if text == "" {
		text = "No evidence was analyzed for this event.\n"
	}
	return &CaseSummaries{
		SessionID: id,
		Sections: []SummarySection{{
			Section: "evidence",
			Title:   "Evidence Notes",
			Text:    text,
		}},
		Degraded:    true,
		GeneratedAt: time.Now().UTC(),
	}
}

// GenerateDraft assembles the draft case file from the (possibly edited)
// summaries checkpoint and the media analysis. Media is optional; a session
// with no shared media still gets a complete draft.
func (s *Service) GenerateDraft(ctx context.Context, id string) (*CaseFile, error) {
	raw, err := s.store.ReadFile(id, store.ArtifactSummaries)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("workflow: draft for %s requires the summaries checkpoint", id)
	}
	var cs CaseSummaries
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("workflow: decode summaries for %s: %w", id, err)
	}

	cf := &CaseFile{
		SessionID:   id,
		Title:       "Case File: About Last Night, " + formatEventDate(id),
		Sections:    cs.Sections,
		Media:       []pipeline.MediaInsight{},
		GeneratedAt: time.Now().UTC(),
	}

	if recRaw, err := s.resolver.Resolve(ctx, id, pipeline.ResultEvidenceRecords); err == nil {
		var records []json.RawMessage
		if json.Unmarshal(recRaw, &records) == nil {
			cf.EvidenceCount = len(records)
		}
	}

	mediaRaw, err := s.resolver.Resolve(ctx, id, pipeline.ResultMediaAnalysis)
	switch {
	case err == nil:
		var ma pipeline.MediaAnalysis
		if err := json.Unmarshal(mediaRaw, &ma); err != nil {
			return nil, fmt.Errorf("workflow: decode media analysis for %s: %w", id, err)
		}
		cf.Media = ma.Insights
	case errors.Is(err, pipeline.ErrResultUnavailable):
		// No media pipeline ran; the draft goes out without a gallery.
	default:
		return nil, fmt.Errorf("workflow: media analysis for %s: %w", id, err)
	}

	if _, err := s.store.SaveWithVersion(id, models.PhaseDraft, store.ArtifactDraft, cf, models.ActionCreated, nil); err != nil {
		return nil, err
	}
	s.log.Info("draft generated", "session", id, "sections", len(cf.Sections), "media", len(cf.Media))
	return cf, nil
}

var caseFileTemplate = template.Must(template.New("casefile").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.EvidenceCount}} pieces of evidence reviewed.</p>
{{range .Sections}}<section>
<h2>{{.Title}}</h2>
<pre>{{.Text}}</pre>
</section>
{{end}}{{if .Media}}<section>
<h2>Gallery</h2>
<ul>
{{range .Media}}<li>{{.Caption}} <em>({{.Path}})</em></li>
{{end}}</ul>
</section>
{{end}}<footer>Generated {{.GeneratedAt.Format "2006-01-02 15:04"}} UTC</footer>
</body>
</html>
`))

// Publish renders the draft checkpoint to the final HTML case file.
func (s *Service) Publish(_ context.Context, id string) error {
	raw, err := s.store.ReadFile(id, store.ArtifactDraft)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("workflow: publish for %s requires the draft checkpoint", id)
	}
	var cf CaseFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return fmt.Errorf("workflow: decode draft for %s: %w", id, err)
	}

	var buf bytes.Buffer
	if err := caseFileTemplate.Execute(&buf, &cf); err != nil {
		return fmt.Errorf("workflow: render case file for %s: %w", id, err)
	}
	if _, err := s.store.SaveWithVersion(id, models.PhasePublished, store.ArtifactPublished, buf.Bytes(), models.ActionCreated, nil); err != nil {
		return err
	}

	if s.broker != nil {
		s.broker.Publish(events.Event{Type: "session.published", Data: map[string]string{"session": id}})
	}
	s.log.Info("case file published", "session", id)
	return nil
}

// SendFollowUps emails every guest on the booking list a link to the
// session's published case file. rawRecipients is the booking system's
// paste format (alternating name and email lines); dryRun builds the
// emails without sending.
func (s *Service) SendFollowUps(ctx context.Context, id string, rawRecipients string, dryRun bool) (*notify.Report, error) {
	if s.notifier == nil {
		return nil, errors.New("workflow: follow-up mailer not configured")
	}
	published, err := s.store.ReadFile(id, store.ArtifactPublished)
	if err != nil {
		return nil, err
	}
	if published == nil {
		return nil, fmt.Errorf("workflow: follow-ups for %s require a published case file", id)
	}

	recipients, err := notify.ParseRecipients(rawRecipients)
	if err != nil {
		return nil, err
	}

	report := s.notifier.SendFollowUps(ctx, id, recipients, dryRun)
	if s.broker != nil && !dryRun {
		s.broker.Publish(events.Event{Type: "followups.sent", Data: map[string]any{
			"session": id, "sent": report.Sent, "failed": len(report.Failures),
		}})
	}
	s.log.Info("follow-ups processed", "session", id,
		"requested", report.Requested, "sent", report.Sent, "failed", len(report.Failures), "dryRun", dryRun)
	return report, nil
}

// formatEventDate renders an 8-digit event date as YYYY-MM-DD.
func formatEventDate(id string) string {
	if len(id) != 8 {
		return id
	}
	return id[:4] + "-" + id[4:6] + "-" + id[6:]
}
