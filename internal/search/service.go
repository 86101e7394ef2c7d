package search

import (
	"context"

	"github.com/sirupsen/logrus"
)

const (
	engineMeili = "meilisearch"
	enginePG    = "postgres"
)

// Service is the facade that tries the primary engine first and falls back to
// PG FTS.
type Service struct {
	primary  Engine
	fallback Searcher
	records  RecordLoader
	log      logrus.FieldLogger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Engine, fallback Searcher, records RecordLoader, log logrus.FieldLogger) *Service {
	return &Service{primary: primary, fallback: fallback, records: records, log: log.WithField("component", "search")}
}

// Search tries the primary engine if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.Normalize()
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: engineMeili}
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: enginePG}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: enginePG}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: enginePG}
}

// IndexDocument indexes a document (fire-and-forget to the primary engine).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexDocument(doc); err != nil {
			s.log.WithError(err).WithField("document_id", doc.ID).Warn("index document")
		}
	}()
}

// DeleteDocument removes a document from the primary engine.
func (s *Service) DeleteDocument(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	if err := s.primary.DeleteDocument(id); err != nil {
		s.log.WithError(err).WithField("document_id", id).Warn("delete document")
	}
}

// ReindexAllFromPG reindexes every document from PostgreSQL into the primary
// engine. It returns the number of records pushed.
func (s *Service) ReindexAllFromPG(ctx context.Context) int {
	if s.primary == nil || !s.primary.Healthy() || s.records == nil {
		return 0
	}
	documents, err := s.records.LoadAllRecords(ctx)
	if err != nil {
		s.log.WithError(err).Error("reindex load failed")
		return 0
	}
	if len(documents) == 0 {
		return 0
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		s.log.WithError(err).Error("reindex documents")
		return 0
	}
	return len(documents)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
