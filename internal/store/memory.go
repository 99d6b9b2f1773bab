package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/holdings-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	lots   map[string][]model.Lot
	quotes map[string]map[string]model.Quote
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:   make(map[string][]model.Lot),
		quotes: make(map[string]map[string]model.Quote),
	}
}

func (s *MemoryStore) ListLots(_ context.Context, portfolioID string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Copy to avoid external mutation.
	lots := make([]model.Lot, len(s.lots[portfolioID]))
	copy(lots, s.lots[portfolioID])
	return lots, nil
}

func (s *MemoryStore) InsertLot(_ context.Context, lot *model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.lots[lot.PortfolioID] {
		if existing.ID == lot.ID {
			return fmt.Errorf("lot %s already exists", lot.ID)
		}
	}
	s.lots[lot.PortfolioID] = append(s.lots[lot.PortfolioID], *lot)
	return nil
}

func (s *MemoryStore) ReplaceLots(_ context.Context, portfolioID string, lots []model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]model.Lot, len(lots))
	copy(replaced, lots)
	for i := range replaced {
		replaced[i].PortfolioID = portfolioID
	}
	s.lots[portfolioID] = replaced
	return nil
}

func (s *MemoryStore) DeleteLot(_ context.Context, portfolioID, lotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lots := s.lots[portfolioID]
	for i, l := range lots {
		if l.ID == lotID {
			kept := make([]model.Lot, 0, len(lots)-1)
			kept = append(kept, lots[:i]...)
			kept = append(kept, lots[i+1:]...)
			s.lots[portfolioID] = kept
			return nil
		}
	}
	return fmt.Errorf("lot %s: %w", lotID, ErrNotFound)
}

func (s *MemoryStore) DeleteLots(_ context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lots, portfolioID)
	return nil
}

func (s *MemoryStore) GetQuotes(_ context.Context, portfolioID string) (map[string]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make(map[string]model.Quote, len(s.quotes[portfolioID]))
	for k, q := range s.quotes[portfolioID] {
		quotes[k] = q
	}
	return quotes, nil
}

func (s *MemoryStore) UpsertQuotes(_ context.Context, portfolioID string, quotes []model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.quotes[portfolioID]
	if !ok {
		m = make(map[string]model.Quote)
		s.quotes[portfolioID] = m
	}
	for _, q := range quotes {
		m[q.Ticker] = q
	}
	return nil
}

func (s *MemoryStore) DeleteQuotes(_ context.Context, portfolioID string, tickers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tickers {
		delete(s.quotes[portfolioID], t)
	}
	return nil
}
