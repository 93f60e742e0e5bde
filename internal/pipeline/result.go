// Package pipeline runs the background evidence and media pipelines for a
// session and caches their results for consumers that arrive before, during,
// or after a run.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/maxshuai/casefile/internal/store"
)

// Kind names a pipeline.
type Kind string

const (
	PipelineEvidence Kind = "evidence"
	PipelineMedia    Kind = "media"
)

// Kinds lists every pipeline.
var Kinds = []Kind{PipelineEvidence, PipelineMedia}

// ResultType names one cached pipeline product.
type ResultType string

const (
	ResultEvidenceRecords  ResultType = "evidence_records"
	ResultEvidenceAnalysis ResultType = "evidence_analysis"
	ResultMediaFiles       ResultType = "media_files"
	ResultMediaAnalysis    ResultType = "media_analysis"
)

// ResultTypes lists every result type.
var ResultTypes = []ResultType{
	ResultEvidenceRecords,
	ResultEvidenceAnalysis,
	ResultMediaFiles,
	ResultMediaAnalysis,
}

// ownership maps every result type to the pipeline that produces it. OwnerOf
// refuses unknown types instead of guessing, so a new result type cannot be
// added without declaring its producer here.
var ownership = map[ResultType]Kind{
	ResultEvidenceRecords:  PipelineEvidence,
	ResultEvidenceAnalysis: PipelineEvidence,
	ResultMediaFiles:       PipelineMedia,
	ResultMediaAnalysis:    PipelineMedia,
}

// resultArtifacts maps each result type to the session artifact it is
// mirrored to, which doubles as the hydration source after a restart.
var resultArtifacts = map[ResultType]string{
	ResultEvidenceRecords:  store.ArtifactEvidenceRecords,
	ResultEvidenceAnalysis: store.ArtifactEvidenceAnalysis,
	ResultMediaFiles:       store.ArtifactMediaFiles,
	ResultMediaAnalysis:    store.ArtifactMediaAnalysis,
}

// OwnerOf returns the pipeline that produces the result type.
func OwnerOf(rt ResultType) (Kind, error) {
	owner, ok := ownership[rt]
	if !ok {
		return "", fmt.Errorf("pipeline: unknown result type %q", rt)
	}
	return owner, nil
}

// Status is a pipeline's lifecycle state for one session.
type Status string

const (
	StatusNone      Status = "none"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrResultUnavailable means the result is not cached and its owning
	// pipeline is not running, so waiting would never produce it.
	ErrResultUnavailable = errors.New("pipeline: result unavailable")
	// ErrAwaitTimeout means the owning pipeline did not deliver the result
	// within the wait budget.
	ErrAwaitTimeout = errors.New("pipeline: timed out waiting for result")
)
