// Package source defines the external inputs a case-file session is built
// from: evidence records served by the event platform, and media files shared
// by guests after the event.
package source

import "context"

// SessionRef identifies the event a session covers. The ID doubles as the
// event date in YYYYMMDD form.
type SessionRef struct {
	ID string `json:"id"`
}

// EvidenceRecord is one piece of written evidence collected during the event.
type EvidenceRecord struct {
	ID        string   `json:"id"`
	Author    string   `json:"author"`
	Round     int      `json:"round"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// MediaFile describes one guest-shared photo or clip.
type MediaFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// EvidenceSource fetches the evidence records for an event.
type EvidenceSource interface {
	FetchEvidence(ctx context.Context, ref SessionRef) ([]EvidenceRecord, error)
}

// MediaSource lists the media shared for an event.
type MediaSource interface {
	ListMedia(ctx context.Context, ref SessionRef) ([]MediaFile, error)
}

// NoEvidenceSource is used when no evidence service is configured. Fetches
// succeed with an empty record set so the rest of the workflow still runs.
type NoEvidenceSource struct{}

// FetchEvidence always returns an empty record set.
func (NoEvidenceSource) FetchEvidence(context.Context, SessionRef) ([]EvidenceRecord, error) {
	return []EvidenceRecord{}, nil
}
