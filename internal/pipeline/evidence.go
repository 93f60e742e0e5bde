package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/batch"
	"github.com/maxshuai/casefile/internal/source"
)

// RecordInsight is the model's reading of one evidence record. Degraded
// marks entries produced by the verbatim fallback after an analysis failure.
type RecordInsight struct {
	RecordID   string   `json:"recordId"`
	Summary    string   `json:"summary"`
	Suspects   []string `json:"suspects,omitempty"`
	Importance float64  `json:"importance"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// EvidenceAnalysis is the evidence pipeline's final product: one insight per
// record, in batch order.
type EvidenceAnalysis struct {
	SessionID   string          `json:"sessionId"`
	Model       string          `json:"model,omitempty"`
	Insights    []RecordInsight `json:"insights"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

const insightBatchSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["recordId", "summary", "importance"],
		"properties": {
			"recordId": {"type": "string"},
			"summary": {"type": "string"},
			"suspects": {"type": "array", "items": {"type": "string"}},
			"importance": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}
}`

const evidenceSystemPrompt = "You are a murder-mystery case analyst. Guests at a dinner party " +
	"event collected written evidence during the game. For each record, summarize what it " +
	"establishes, name any suspects it implicates, and rate its importance from 0 to 1."

// runEvidence fetches the event's evidence records, caches them, then runs
// batched model analysis. A fetch failure fails the pipeline before any
// result is cached; analysis failures degrade per batch instead of failing
// the pipeline.
func (o *Orchestrator) runEvidence(ctx context.Context, sessionID string) error {
	records, err := o.evidence.FetchEvidence(ctx, source.SessionRef{ID: sessionID})
	if err != nil {
		return fmt.Errorf("fetch evidence: %w", err)
	}
	if records == nil {
		records = []source.EvidenceRecord{}
	}
	if err := o.setResult(sessionID, ResultEvidenceRecords, records); err != nil {
		return err
	}

	result := o.AnalyzeEvidence(ctx, sessionID, records)
	return o.setResult(sessionID, ResultEvidenceAnalysis, result)
}

// FetchEvidenceRecords fetches the event's evidence records from the
// configured source. Synchronous consumers use it when the background
// pipeline never produced the records.
func (o *Orchestrator) FetchEvidenceRecords(ctx context.Context, sessionID string) ([]source.EvidenceRecord, error) {
	records, err := o.evidence.FetchEvidence(ctx, source.SessionRef{ID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("fetch evidence: %w", err)
	}
	if records == nil {
		records = []source.EvidenceRecord{}
	}
	return records, nil
}

// AnalyzeEvidence runs batched model analysis over the records. It never
// fails; batches the model could not analyze fall back to one degraded
// verbatim insight per record. It is also called synchronously by report
// generation when the background pipeline was never started.
func (o *Orchestrator) AnalyzeEvidence(ctx context.Context, sessionID string, records []source.EvidenceRecord) *EvidenceAnalysis {
	out := &EvidenceAnalysis{
		SessionID:   sessionID,
		Model:       o.analyzer.Name(),
		Insights:    []RecordInsight{},
		GeneratedAt: time.Now().UTC(),
	}
	if len(records) == 0 {
		return out
	}

	batches := batch.Split(records, o.opts.BatchSize)
	outcomes := batch.Process(ctx, batches, o.opts.Concurrency, func(ctx context.Context, chunk []source.EvidenceRecord) ([]RecordInsight, error) {
		return o.analyzeEvidenceBatch(ctx, chunk)
	})

	degraded := 0
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			degraded++
			o.log.Warn("evidence batch degraded",
				"session", sessionID, "batch", i+1, "batches", len(outcomes), "error", outcome.Err)
			for _, rec := range batches[i] {
				out.Insights = append(out.Insights, fallbackRecordInsight(rec))
			}
			continue
		}
		out.Insights = append(out.Insights, outcome.Value...)
	}
	if degraded > 0 {
		o.log.Warn("evidence analysis degraded", "session", sessionID, "batches", degraded, "total", len(outcomes))
	}
	return out
}

// fallbackRecordInsight carries the record's own text forward so a failed
// batch still leaves something usable in the case file.
func fallbackRecordInsight(rec source.EvidenceRecord) RecordInsight {
	return RecordInsight{
		RecordID: rec.ID,
		Summary:  rec.Text,
		Degraded: true,
	}
}

func (o *Orchestrator) analyzeEvidenceBatch(ctx context.Context, chunk []source.EvidenceRecord) ([]RecordInsight, error) {
	payload, err := json.MarshalIndent(chunk, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	res, err := o.analyzer.Complete(ctx, analysis.Request{
		System: evidenceSystemPrompt,
		Prompt: fmt.Sprintf("Analyze these %d evidence records:\n%s", len(chunk), payload),
		Schema: json.RawMessage(insightBatchSchema),
	})
	if err != nil {
		return nil, err
	}

	var insights []RecordInsight
	if err := json.Unmarshal(res.JSON, &insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return insights, nil
}
