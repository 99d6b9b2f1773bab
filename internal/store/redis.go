package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/holdings-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertLot(ctx context.Context, lot *model.Lot) error {
	if err := s.primary.InsertLot(ctx, lot); err != nil {
		return err
	}
	s.rdb.Del(ctx, lotsKey(lot.PortfolioID))
	return nil
}

func (s *CachedStore) ReplaceLots(ctx context.Context, portfolioID string, lots []model.Lot) error {
	if err := s.primary.ReplaceLots(ctx, portfolioID, lots); err != nil {
		return err
	}
	s.rdb.Del(ctx, lotsKey(portfolioID))
	return nil
}

func (s *CachedStore) DeleteLot(ctx context.Context, portfolioID, lotID string) error {
	if err := s.primary.DeleteLot(ctx, portfolioID, lotID); err != nil {
		return err
	}
	s.rdb.Del(ctx, lotsKey(portfolioID))
	return nil
}

func (s *CachedStore) DeleteLots(ctx context.Context, portfolioID string) error {
	if err := s.primary.DeleteLots(ctx, portfolioID); err != nil {
		return err
	}
	s.rdb.Del(ctx, lotsKey(portfolioID))
	return nil
}

func (s *CachedStore) UpsertQuotes(ctx context.Context, portfolioID string, quotes []model.Quote) error {
	if err := s.primary.UpsertQuotes(ctx, portfolioID, quotes); err != nil {
		return err
	}
	s.rdb.Del(ctx, quotesKey(portfolioID))
	return nil
}

func (s *CachedStore) DeleteQuotes(ctx context.Context, portfolioID string, tickers []string) error {
	if err := s.primary.DeleteQuotes(ctx, portfolioID, tickers); err != nil {
		return err
	}
	s.rdb.Del(ctx, quotesKey(portfolioID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListLots(ctx context.Context, portfolioID string) ([]model.Lot, error) {
	data, err := s.rdb.Get(ctx, lotsKey(portfolioID)).Bytes()
	if err == nil {
		var lots []model.Lot
		if json.Unmarshal(data, &lots) == nil {
			return lots, nil
		}
	}

	// Cache miss: read from primary.
	lots, err := s.primary.ListLots(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(lots); err == nil {
		s.rdb.Set(ctx, lotsKey(portfolioID), data, s.ttl)
	}
	return lots, nil
}

func (s *CachedStore) GetQuotes(ctx context.Context, portfolioID string) (map[string]model.Quote, error) {
	data, err := s.rdb.Get(ctx, quotesKey(portfolioID)).Bytes()
	if err == nil {
		var quotes map[string]model.Quote
		if json.Unmarshal(data, &quotes) == nil {
			return quotes, nil
		}
	}

	quotes, err := s.primary.GetQuotes(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(quotes); err == nil {
		s.rdb.Set(ctx, quotesKey(portfolioID), data, s.ttl)
	}
	return quotes, nil
}

// --- Cache helpers ---

func lotsKey(pid string) string   { return fmt.Sprintf("lots:%s", pid) }
func quotesKey(pid string) string { return fmt.Sprintf("quotes:%s", pid) }
