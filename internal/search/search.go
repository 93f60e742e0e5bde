// Package search provides BM25 full-text search over case summaries, so
// operators can find which event a half-remembered clue belongs to.
package search

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document is one indexed summary section.
type Document struct {
	SessionID string `json:"session_id"`
	Section   string `json:"section"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

// Result is one search hit.
type Result struct {
	SessionID string  `json:"sessionId"`
	Section   string  `json:"section"`
	Title     string  `json:"title"`
	Score     float64 `json:"score"`
}

// Index wraps a bleve index of summary sections.
type Index struct {
	idx bleve.Index
	log *slog.Logger
}

// Open opens or creates the index. A corrupted index is deleted and rebuilt
// empty; summaries are re-indexable from their session artifacts.
func Open(path string, log *slog.Logger) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("search: create index: %w", err)
		}
	} else if err != nil {
		log.Warn("search index unreadable, rebuilding", "path", path, "error", err)
		if idx != nil {
			idx.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("search: remove corrupted index: %w", err)
		}
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("search: recreate index: %w", err)
		}
	}
	return &Index{idx: idx, log: log}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	sessionField.Store = true
	docMapping.AddFieldMappingsAt("session_id", sessionField)

	sectionField := bleve.NewTextFieldMapping()
	sectionField.Analyzer = keyword.Name
	sectionField.Store = true
	docMapping.AddFieldMappingsAt("section", sectionField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true
	docMapping.AddFieldMappingsAt("title", titleField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexSummaries (re)indexes a session's summary sections. Document IDs are
// derived from session and section, so re-indexing after an edit overwrites
// in place.
func (i *Index) IndexSummaries(sessionID string, docs []Document) error {
	batch := i.idx.NewBatch()
	for _, doc := range docs {
		doc.SessionID = sessionID
		if err := batch.Index(sessionID+"/"+doc.Section, doc); err != nil {
			return fmt.Errorf("search: index %s/%s: %w", sessionID, doc.Section, err)
		}
	}
	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("search: apply batch for %s: %w", sessionID, err)
	}
	i.log.Debug("summaries indexed", "session", sessionID, "sections", len(docs))
	return nil
}

// DeleteSession removes every indexed section belonging to the session.
func (i *Index) DeleteSession(sessionID string) error {
	q := bleve.NewTermQuery(sessionID)
	q.SetField("session_id")
	req := bleve.NewSearchRequest(q)
	req.Size = 1000

	res, err := i.idx.Search(req)
	if err != nil {
		return fmt.Errorf("search: find sections for %s: %w", sessionID, err)
	}
	batch := i.idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("search: delete sections for %s: %w", sessionID, err)
	}
	return nil
}

// Search runs a BM25 match query over summary titles and text.
func (i *Index) Search(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"session_id", "section", "title"}

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", query, err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{Score: hit.Score}
		if v, ok := hit.Fields["session_id"].(string); ok {
			r.SessionID = v
		}
		if v, ok := hit.Fields["section"].(string); ok {
			r.Section = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			r.Title = v
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.idx.Close()
}
