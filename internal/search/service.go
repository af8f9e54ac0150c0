// Package search provides full-text search over boards and cards, served by
// Meilisearch when available with PostgreSQL FTS as the fallback.
package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexBoard indexes a board (fire-and-forget to Meilisearch).
func (s *Service) IndexBoard(b BoardRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBoard(b); err != nil {
			log.Printf("search: index board %s: %v", b.ID, err)
		}
	}()
}

// IndexCard indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexCard(c CardRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCard(c); err != nil {
			log.Printf("search: index card %s: %v", c.ID, err)
		}
	}()
}

// DeleteBoard removes a board from the search index (fire-and-forget).
func (s *Service) DeleteBoard(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBoard(id); err != nil {
			log.Printf("search: delete board %s: %v", id, err)
		}
	}()
}

// DeleteCard removes a card from the search index (fire-and-forget).
func (s *Service) DeleteCard(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCard(id); err != nil {
			log.Printf("search: delete card %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	boards, cards, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexBoards(boards); err != nil {
		log.Printf("search: reindex boards: %v", err)
	}
	if err := s.meili.IndexCards(cards); err != nil {
		log.Printf("search: reindex cards: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
