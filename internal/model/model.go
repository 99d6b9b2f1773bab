// Package model defines the core domain types shared across the holdings engine.
// Monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a single purchase event. Lots are the source of truth; holdings
// are always derived from the full lot set.
type Lot struct {
	ID            string          `json:"id" db:"id"`
	PortfolioID   string          `json:"portfolio_id" db:"portfolio_id"`
	Ticker        string          `json:"ticker" db:"ticker"`
	Name          string          `json:"name" db:"name"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`             // fractional shares allowed
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"` // per unit, reporting currency
	PurchaseDate  time.Time       `json:"purchase_date" db:"purchase_date"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"` // quote captured at entry, may be zero
}

// PurchaseRecord is one entry of a holding's purchase ledger.
type PurchaseRecord struct {
	LotID    string          `json:"lot_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Date     time.Time       `json:"date"`
}

// Holding is the consolidated position for one ticker.
type Holding struct {
	Ticker               string           `json:"ticker"`
	DisplayName          string           `json:"display_name"`
	Currency             string           `json:"currency"` // native quote currency
	Quantity             decimal.Decimal  `json:"quantity"`
	AveragePurchasePrice decimal.Decimal  `json:"average_purchase_price"`
	CostBasis            decimal.Decimal  `json:"cost_basis"` // Σ price·qty
	CurrentPrice         decimal.Decimal  `json:"current_price"`
	PriceUpdatedAt       *time.Time       `json:"price_updated_at,omitempty"`
	PurchaseHistory      []PurchaseRecord `json:"purchase_history"`
	IsConsolidated       bool             `json:"is_consolidated"`
	IsForeign            bool             `json:"is_foreign"`
}

// Quote is the last observed market price of a ticker in the reporting
// currency, persisted per portfolio.
type Quote struct {
	Ticker    string          `json:"ticker" db:"ticker"`
	Price     decimal.Decimal `json:"price" db:"price"`
	FetchedAt time.Time       `json:"fetched_at" db:"fetched_at"`
}

// PositionValue is the mark-to-market view of one holding.
type PositionValue struct {
	Ticker        string          `json:"ticker"`
	MarketValue   decimal.Decimal `json:"market_value"`   // currentPrice · quantity
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // marketValue - costBasis
	ReturnPct     decimal.Decimal `json:"return_pct"`
	Weight        decimal.Decimal `json:"weight"` // % of total market value
}

// Summary aggregates all holdings of a portfolio with P&L and exposure.
type Summary struct {
	Currency         string                     `json:"currency"`
	Positions        []PositionValue            `json:"positions"`
	TotalCost        decimal.Decimal            `json:"total_cost"`
	TotalValue       decimal.Decimal            `json:"total_value"`
	TotalPnL         decimal.Decimal            `json:"total_pnl"`
	ReturnPct        decimal.Decimal            `json:"return_pct"`
	ExposureByMarket map[string]decimal.Decimal `json:"exposure_by_market"` // "domestic"/"foreign" → value
	Display          map[string]string          `json:"display"`            // formatted totals
}
