package search

import "log"

// Service fronts the two search backends. Queries go to Meilisearch when it
// is healthy and fall back to Postgres otherwise. Indexing is best-effort.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService builds the facade. meili may be nil when search indexing is not
// configured; all queries then hit the fallback.
func NewService(m *Meili, fallback Searcher) *Service {
	return &Service{meili: m, fallback: fallback}
}

// Search routes a query to the healthy backend.
func (s *Service) Search(q Query) (Response, error) {
	backend := s.fallback
	if s.meili != nil && s.meili.Healthy() {
		backend = s.meili
	}
	results, total, err := backend.Search(q)
	if err != nil && backend != s.fallback {
		log.Printf("meilisearch query failed, falling back to postgres: %v", err)
		results, total, err = s.fallback.Search(q)
	}
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexThreads pushes thread records to Meilisearch in the background.
// Failures are logged, never surfaced; Postgres remains the source of truth.
func (s *Service) IndexThreads(records []ThreadRecord) {
	if s.meili == nil || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexThreads(records); err != nil {
			log.Printf("index %d thread(s) in meilisearch: %v", len(records), err)
		}
	}()
}

// Close shuts down the Meilisearch health loop, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
