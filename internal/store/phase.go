package store

import (
	"strings"

	"github.com/maxshuai/casefile/internal/models"
)

// Canonical artifact paths, relative to the session directory.
const (
	ArtifactSelectedEvidence = "inputs/selected-evidence.json"
	ArtifactEvidenceRecords  = "fetched/evidence-records.json"
	ArtifactMediaFiles       = "fetched/media-files.json"
	ArtifactEvidenceAnalysis = "analysis/evidence-analysis.json"
	ArtifactMediaAnalysis    = "analysis/media-analysis.json"
	ArtifactSummaries        = "summaries/case-summaries.json"
	ArtifactDraft            = "output/case-file.json"
	ArtifactPublished        = "output/case-file.html"
)

// requirement maps a phase to the artifact whose presence marks it reached:
// either one exact path, or any artifact inside a zone (Zone set).
type requirement struct {
	Phase    models.Phase
	Artifact string
	Zone     string
}

// phaseTable is ordered most advanced first. Completion is monotonic in this
// workflow, so the derived phase is the first (highest) satisfied requirement
// regardless of gaps below it.
var phaseTable = []requirement{
	{Phase: models.PhasePublished, Artifact: ArtifactPublished},
	{Phase: models.PhaseDraft, Artifact: ArtifactDraft},
	{Phase: models.PhaseSummaries, Artifact: ArtifactSummaries},
	{Phase: models.PhaseAnalysis, Artifact: ArtifactEvidenceAnalysis},
	{Phase: models.PhaseMedia, Zone: ZoneAssets},
	{Phase: models.PhaseIntake, Artifact: ArtifactSelectedEvidence},
}

// checkpointPhases are the phases at which a human reviews or edits an
// artifact; only writes at these phases produce snapshots.
var checkpointPhases = map[models.Phase]bool{
	models.PhaseIntake:    true,
	models.PhaseSummaries: true,
	models.PhaseDraft:     true,
}

// IsCheckpoint reports whether writes at phase are snapshotted.
func IsCheckpoint(phase models.Phase) bool {
	return checkpointPhases[phase]
}

// CheckpointArtifact returns the canonical artifact path edited at a
// checkpoint phase.
func CheckpointArtifact(phase models.Phase) (string, bool) {
	switch phase {
	case models.PhaseIntake:
		return ArtifactSelectedEvidence, true
	case models.PhaseSummaries:
		return ArtifactSummaries, true
	case models.PhaseDraft:
		return ArtifactDraft, true
	default:
		return "", false
	}
}

// DerivePhase returns the most advanced phase whose requirement is satisfied
// by the scanned artifact set, or PhaseCreated when none is.
func DerivePhase(artifacts map[string]struct{}) models.Phase {
	for _, req := range phaseTable {
		if req.Zone != "" {
			if zoneHasArtifacts(artifacts, req.Zone) {
				return req.Phase
			}
			continue
		}
		if _, ok := artifacts[req.Artifact]; ok {
			return req.Phase
		}
	}
	return models.PhaseCreated
}

// zoneHasArtifacts reports whether at least one scanned artifact lives under
// the zone. Zone directories are pre-allocated at session creation, so bare
// existence of the directory is not enough.
func zoneHasArtifacts(artifacts map[string]struct{}, zone string) bool {
	prefix := zone + "/"
	for p := range artifacts {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
