// Package store defines the persistence interface for the holdings engine.
// Implementations include PostgreSQL, SQLite (single-user local install),
// Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/holdings-engine/internal/model"
)

// ErrNotFound is returned when a lot does not exist in the portfolio.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Lots are the source of truth;
// quotes are the last known prices, kept so restarts do not blank them.
type Store interface {
	// --- Lots ---

	// ListLots returns a portfolio's lots in insertion order.
	ListLots(ctx context.Context, portfolioID string) ([]model.Lot, error)

	// InsertLot appends a lot.
	InsertLot(ctx context.Context, lot *model.Lot) error

	// ReplaceLots atomically replaces a portfolio's whole lot set.
	ReplaceLots(ctx context.Context, portfolioID string, lots []model.Lot) error

	// DeleteLot removes one lot. Returns ErrNotFound if absent.
	DeleteLot(ctx context.Context, portfolioID, lotID string) error

	// DeleteLots removes every lot of a portfolio.
	DeleteLots(ctx context.Context, portfolioID string) error

	// --- Quotes ---

	// GetQuotes returns the last known quote per ticker.
	GetQuotes(ctx context.Context, portfolioID string) (map[string]model.Quote, error)

	// UpsertQuotes stores quotes, overwriting existing tickers.
	UpsertQuotes(ctx context.Context, portfolioID string, quotes []model.Quote) error

	// DeleteQuotes drops the quotes of the given tickers.
	DeleteQuotes(ctx context.Context, portfolioID string, tickers []string) error
}
