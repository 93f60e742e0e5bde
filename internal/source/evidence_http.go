package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HTTPEvidenceSource fetches evidence records from the event platform's
// export endpoint, GET {base}/events/{id}/evidence.
type HTTPEvidenceSource struct {
	base   string
	token  string
	client *http.Client
	log    *slog.Logger
}

func NewHTTPEvidenceSource(baseURL, token string, log *slog.Logger) *HTTPEvidenceSource {
	return &HTTPEvidenceSource{
		base:   baseURL,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

func (s *HTTPEvidenceSource) FetchEvidence(ctx context.Context, ref SessionRef) ([]EvidenceRecord, error) {
	endpoint, err := url.JoinPath(s.base, "events", ref.ID, "evidence")
	if err != nil {
		return nil, fmt.Errorf("source: build evidence url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build evidence request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch evidence for %s: %w", ref.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("source: evidence endpoint returned %d for %s: %s", resp.StatusCode, ref.ID, body)
	}

	var records []EvidenceRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("source: decode evidence for %s: %w", ref.ID, err)
	}

	s.log.Debug("fetched evidence", "session", ref.ID, "records", len(records), "took", time.Since(start))
	return records, nil
}
