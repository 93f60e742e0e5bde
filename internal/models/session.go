// Package models defines the session-facing domain types shared between the
// store, the registry, and the API layer.
package models

import "time"

// Phase identifies how far a session has progressed through the case-file
// workflow. Phases are derived from which artifacts exist, never stored.
type Phase string

const (
	PhaseCreated   Phase = "created"   // session allocated, nothing ingested
	PhaseIntake    Phase = "intake"    // operator selected the evidence to include
	PhaseMedia     Phase = "media"     // photos landed in the assets zone
	PhaseAnalysis  Phase = "analysis"  // background analysis persisted
	PhaseSummaries Phase = "summaries" // operator-reviewed summaries saved
	PhaseDraft     Phase = "draft"     // case-file draft assembled
	PhasePublished Phase = "published" // rendered case file exists
)

// Ordinal returns the numeric rank of the phase, with PhaseCreated at 0.
func (p Phase) Ordinal() int {
	switch p {
	case PhaseIntake:
		return 1
	case PhaseMedia:
		return 2
	case PhaseAnalysis:
		return 3
	case PhaseSummaries:
		return 4
	case PhaseDraft:
		return 5
	case PhasePublished:
		return 6
	default:
		return 0
	}
}

// VersionAction records why a manifest entry was written.
type VersionAction string

const (
	ActionCreated  VersionAction = "created"
	ActionEdited   VersionAction = "edited"
	ActionRollback VersionAction = "rollback"
)

// VersionEntry is one line of the append-only version manifest.
type VersionEntry struct {
	Version   int            `json:"version"`
	Phase     Phase          `json:"phase"`
	File      string         `json:"file"`
	Timestamp time.Time      `json:"timestamp"`
	Action    VersionAction  `json:"action"`
	Snapshot  string         `json:"snapshot"`
	Checksum  string         `json:"checksum,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
}

// Manifest is the per-session ledger of checkpoint versions.
//
// CurrentVersion is monotonic and increments on every versioned write, even at
// non-checkpoint phases; Versions holds entries for checkpoint phases only.
type Manifest struct {
	SessionID      string         `json:"sessionId"`
	CreatedAt      time.Time      `json:"createdAt"`
	CurrentVersion int            `json:"currentVersion"`
	Versions       []VersionEntry `json:"versions"`
}

// SessionState is the scan-derived view of a session returned by the store.
type SessionState struct {
	ID        string              `json:"id"`
	Phase     Phase               `json:"phase"`
	Artifacts map[string][]string `json:"artifacts"` // zone -> relative paths

	HasSelectedEvidence bool `json:"has_selected_evidence"`
	HasEvidenceAnalysis bool `json:"has_evidence_analysis"`
	HasSummaries        bool `json:"has_summaries"`
	HasDraft            bool `json:"has_draft"`
	Published           bool `json:"published"`

	Versions []VersionEntry `json:"versions"`
}
