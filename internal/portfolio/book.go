// Package portfolio owns a portfolio's lot set and its price overlay and
// publishes consolidated holdings as immutable snapshots.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/holdings"
	"github.com/atmx/holdings-engine/internal/model"
	"github.com/atmx/holdings-engine/internal/store"
	"github.com/atmx/holdings-engine/internal/ticker"
)

// ErrDuplicateLot is returned when a lot id is already used in the portfolio.
var ErrDuplicateLot = errors.New("portfolio: duplicate lot id")

// Snapshot is an immutable view of a book. Callers must not modify it.
type Snapshot struct {
	Version   uint64
	Lots      []model.Lot
	Holdings  []model.Holding
	Rejected  []*holdings.InvalidLotError
	Quotes    map[string]model.Quote
	UpdatedAt time.Time
}

// Book holds one portfolio. Writers are serialized by mu; readers load the
// current snapshot without locking and never observe a partial update.
type Book struct {
	id     string
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// Open loads a portfolio's lots and last known quotes from the store.
func Open(ctx context.Context, id string, st store.Store, logger *slog.Logger) (*Book, error) {
	lots, err := st.ListLots(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open portfolio %s: %w", id, err)
	}
	quotes, err := st.GetQuotes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open portfolio %s: %w", id, err)
	}

	b := &Book{
		id:     id,
		store:  st,
		logger: logger.With("portfolio", id),
		now:    time.Now,
	}
	b.publish(lots, b.pruneQuotes(ctx, lots, quotes))
	return b, nil
}

// ID returns the portfolio identifier.
func (b *Book) ID() string { return b.id }

// Snapshot returns the current immutable state.
func (b *Book) Snapshot() *Snapshot { return b.snap.Load() }

// Holdings returns the current consolidated holdings.
func (b *Book) Holdings() []model.Holding { return b.snap.Load().Holdings }

// AddLot validates and appends a lot. ID, portfolio and purchase date are
// filled in when missing.
func (b *Book) AddLot(ctx context.Context, lot model.Lot) (model.Lot, error) {
	if err := holdings.Validate(lot); err != nil {
		return model.Lot{}, err
	}
	t, err := ticker.Parse(lot.Ticker)
	if err != nil {
		return model.Lot{}, err
	}
	lot.Ticker = t.Symbol
	b.prepare(&lot)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.snap.Load()
	for _, l := range cur.Lots {
		if l.ID == lot.ID {
			return model.Lot{}, fmt.Errorf("%w: %s", ErrDuplicateLot, lot.ID)
		}
	}
	if err := b.store.InsertLot(ctx, &lot); err != nil {
		return model.Lot{}, fmt.Errorf("add lot: %w", err)
	}
	lots := make([]model.Lot, len(cur.Lots), len(cur.Lots)+1)
	copy(lots, cur.Lots)
	b.publish(append(lots, lot), cur.Quotes)
	return lot, nil
}

// ReplaceLots overwrites the whole lot set. Lots are stored as given; any
// that fail validation are skipped by consolidation and reported in the
// snapshot's Rejected list. Lots without an id get one; a repeated id
// rejects the whole set with ErrDuplicateLot.
func (b *Book) ReplaceLots(ctx context.Context, lots []model.Lot) ([]model.Lot, error) {
	replaced := make([]model.Lot, len(lots))
	copy(replaced, lots)
	seen := make(map[string]bool, len(replaced))
	for i := range replaced {
		replaced[i].Ticker = ticker.Normalize(replaced[i].Ticker)
		b.prepare(&replaced[i])
		if seen[replaced[i].ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLot, replaced[i].ID)
		}
		seen[replaced[i].ID] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.ReplaceLots(ctx, b.id, replaced); err != nil {
		return nil, fmt.Errorf("replace lots: %w", err)
	}
	b.publish(replaced, b.pruneQuotes(ctx, replaced, b.snap.Load().Quotes))
	return replaced, nil
}

// RemoveLot deletes one lot. The holding disappears with its last lot.
func (b *Book) RemoveLot(ctx context.Context, lotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.DeleteLot(ctx, b.id, lotID); err != nil {
		return err
	}
	cur := b.snap.Load()
	lots := make([]model.Lot, 0, len(cur.Lots))
	for _, l := range cur.Lots {
		if l.ID != lotID {
			lots = append(lots, l)
		}
	}
	b.publish(lots, b.pruneQuotes(ctx, lots, cur.Quotes))
	return nil
}

// Clear removes every lot.
func (b *Book) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.DeleteLots(ctx, b.id); err != nil {
		return fmt.Errorf("clear lots: %w", err)
	}
	b.publish(nil, b.pruneQuotes(ctx, nil, b.snap.Load().Quotes))
	return nil
}

// ApplyPrices commits a set of new current prices (reporting currency) in
// one step. Tickers without a holding are ignored.
func (b *Book) ApplyPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	if len(prices) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.snap.Load()
	held := make(map[string]bool, len(cur.Holdings))
	for _, h := range cur.Holdings {
		held[h.Ticker] = true
	}

	at := b.now()
	var batch []model.Quote
	for t, p := range prices {
		if held[t] {
			batch = append(batch, model.Quote{Ticker: t, Price: p, FetchedAt: at})
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := b.store.UpsertQuotes(ctx, b.id, batch); err != nil {
		return fmt.Errorf("apply prices: %w", err)
	}

	quotes := make(map[string]model.Quote, len(cur.Quotes)+len(batch))
	for k, q := range cur.Quotes {
		quotes[k] = q
	}
	for _, q := range batch {
		quotes[q.Ticker] = q
	}
	b.publish(cur.Lots, quotes)
	return nil
}

func (b *Book) prepare(lot *model.Lot) {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.PurchaseDate.IsZero() {
		lot.PurchaseDate = b.now()
	}
	lot.PortfolioID = b.id
}

// pruneQuotes drops quotes of tickers no lot refers to. Store failures are
// logged; the in-memory view is pruned regardless.
func (b *Book) pruneQuotes(ctx context.Context, lots []model.Lot, quotes map[string]model.Quote) map[string]model.Quote {
	held := make(map[string]bool, len(lots))
	for _, l := range lots {
		held[l.Ticker] = true
	}
	kept := make(map[string]model.Quote, len(quotes))
	var stale []string
	for t, q := range quotes {
		if held[t] {
			kept[t] = q
		} else {
			stale = append(stale, t)
		}
	}
	if len(stale) > 0 {
		if err := b.store.DeleteQuotes(ctx, b.id, stale); err != nil {
			b.logger.Warn("failed to drop stale quotes", "tickers", stale, "err", err)
		}
	}
	return kept
}

// publish recomputes holdings from the full lot set and swaps the snapshot.
// Callers hold mu, except Open which runs before the book is shared.
func (b *Book) publish(lots []model.Lot, quotes map[string]model.Quote) {
	res := holdings.Consolidate(lots)
	for _, rej := range res.Rejected {
		b.logger.Warn("skipping invalid lot", "lot_id", rej.LotID, "ticker", rej.Ticker, "reason", rej.Reason)
	}

	for i := range res.Holdings {
		h := &res.Holdings[i]
		if q, ok := quotes[h.Ticker]; ok {
			at := q.FetchedAt
			h.CurrentPrice = q.Price
			h.PriceUpdatedAt = &at
		}
	}

	if quotes == nil {
		quotes = make(map[string]model.Quote)
	}
	var version uint64
	if cur := b.snap.Load(); cur != nil {
		version = cur.Version + 1
	}
	b.snap.Store(&Snapshot{
		Version:   version,
		Lots:      lots,
		Holdings:  res.Holdings,
		Rejected:  res.Rejected,
		Quotes:    quotes,
		UpdatedAt: b.now(),
	})
}
