// Package search indexes documents in Meilisearch and falls back to
// PostgreSQL full-text search when Meilisearch is unavailable.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	Healthy() bool
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}

// Engine is a search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// RecordLoader returns every indexable document for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, error)
}

// DocumentRecord is the data we index for a document. Body is the plain
// text of the canonical tree.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UpdatedBy string `json:"updatedBy"`
	UpdatedAt int64  `json:"updatedAt"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps limit and offset into their accepted ranges.
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
