// Package api provides the HTTP handlers for managing lots, reading
// consolidated holdings, and requesting price refreshes.
//
// All monetary values use shopspring/decimal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/fx"
	"github.com/atmx/holdings-engine/internal/holdings"
	"github.com/atmx/holdings-engine/internal/model"
	"github.com/atmx/holdings-engine/internal/portfolio"
	"github.com/atmx/holdings-engine/internal/pricing"
	"github.com/atmx/holdings-engine/internal/refresh"
	"github.com/atmx/holdings-engine/internal/store"
	"github.com/atmx/holdings-engine/internal/ticker"
)

// RateCache is the FX view the handlers need.
type RateCache interface {
	Current() fx.Rate
	Refresh(ctx context.Context) (fx.Rate, error)
}

// Service handles portfolio operations. Book writes are serialized inside
// each portfolio.Book.
type Service struct {
	books    *portfolio.Registry
	refresh  *refresh.Manager
	prices   pricing.Source
	rates    RateCache
	currency string
	hub      *WSHub // optional, nil disables change notifications
	logger   *slog.Logger
}

// NewService creates the API service. Pass nil for hub if WebSocket
// notifications are not needed.
func NewService(books *portfolio.Registry, mgr *refresh.Manager, prices pricing.Source, rates RateCache, currency string, hub *WSHub, logger *slog.Logger) *Service {
	return &Service{
		books:    books,
		refresh:  mgr,
		prices:   prices,
		rates:    rates,
		currency: currency,
		hub:      hub,
		logger:   logger.With("component", "api"),
	}
}

// --- Request/Response types ---

// LotRequest is the JSON body for adding or syncing a lot.
type LotRequest struct {
	ID            string          `json:"id,omitempty"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  *time.Time      `json:"purchase_date,omitempty"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
}

func (req LotRequest) lot() model.Lot {
	l := model.Lot{
		ID:            req.ID,
		Ticker:        req.Ticker,
		Name:          req.Name,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		CurrentPrice:  req.CurrentPrice,
	}
	if req.PurchaseDate != nil {
		l.PurchaseDate = req.PurchaseDate.UTC()
	}
	return l
}

// FXView reports the rate used for foreign holdings and whether it is stale.
type FXView struct {
	Pair       string          `json:"pair"`
	Rate       decimal.Decimal `json:"rate"`
	Success    bool            `json:"success"`
	Stale      bool            `json:"stale"`
	Source     string          `json:"source"`
	Cached     bool            `json:"cached"`
	FetchedAt  *time.Time      `json:"fetched_at,omitempty"`
	AgeSeconds float64         `json:"age_seconds"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func fxView(r fx.Rate) FXView {
	now := time.Now().UTC()
	v := FXView{
		Pair:       r.Pair,
		Rate:       r.Rate,
		Success:    r.Success,
		Stale:      r.Stale(),
		Source:     r.Source,
		Cached:     r.Cached,
		AgeSeconds: r.Age(now).Seconds(),
		Error:      r.Error,
		Timestamp:  now,
	}
	if !r.FetchedAt.IsZero() {
		at := r.FetchedAt.UTC()
		v.FetchedAt = &at
	}
	return v
}

// HoldingsResponse is returned from GET /portfolios/{portfolioID}/holdings.
type HoldingsResponse struct {
	PortfolioID string                      `json:"portfolio_id"`
	Version     uint64                      `json:"version"`
	Holdings    []model.Holding             `json:"holdings"`
	Summary     model.Summary               `json:"summary"`
	FX          FXView                      `json:"fx"`
	Rejected    []*holdings.InvalidLotError `json:"rejected"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// ReplaceLotsResponse is returned from PUT /portfolios/{portfolioID}/lots.
type ReplaceLotsResponse struct {
	Lots     []model.Lot                 `json:"lots"`
	Rejected []*holdings.InvalidLotError `json:"rejected"`
}

// QuoteResponse is returned from GET /quotes/{ticker}.
type QuoteResponse struct {
	Ticker            string          `json:"ticker"`
	Market            string          `json:"market"`
	Currency          string          `json:"currency"`
	Price             decimal.Decimal `json:"price"` // native currency
	ReportingCurrency string          `json:"reporting_currency"`
	ConvertedPrice    decimal.Decimal `json:"converted_price"`
	FXRate            decimal.Decimal `json:"fx_rate"`
	FXStale           bool            `json:"fx_stale"`
	Success           bool            `json:"success"`
	FetchedAt         time.Time       `json:"fetched_at"`
}

// --- HTTP Handlers ---

// GetHoldings handles GET /api/v1/portfolios/{portfolioID}/holdings
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	book, ok := s.book(w, r)
	if !ok {
		return
	}

	snap := book.Snapshot()
	resp := HoldingsResponse{
		PortfolioID: book.ID(),
		Version:     snap.Version,
		Holdings:    snap.Holdings,
		Summary:     holdings.Summarize(snap.Holdings, s.currency),
		FX:          fxView(s.rates.Current()),
		Rejected:    snap.Rejected,
		UpdatedAt:   snap.UpdatedAt,
	}
	if resp.Rejected == nil {
		resp.Rejected = []*holdings.InvalidLotError{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListLots handles GET /api/v1/portfolios/{portfolioID}/lots
func (s *Service) ListLots(w http.ResponseWriter, r *http.Request) {
	book, ok := s.book(w, r)
	if !ok {
		return
	}
	lots := book.Snapshot().Lots
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

// AddLot handles POST /api/v1/portfolios/{portfolioID}/lots
func (s *Service) AddLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	book, ok := s.book(w, r)
	if !ok {
		return
	}

	lot, err := book.AddLot(r.Context(), req.lot())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	s.logger.Info("lot added",
		"portfolio", book.ID(),
		"lot_id", lot.ID,
		"ticker", lot.Ticker,
		"qty", lot.Quantity.String(),
		"price", lot.PurchasePrice.String(),
	)
	s.lotsChanged(book)
	writeJSON(w, http.StatusCreated, lot)
}

// ReplaceLots handles PUT /api/v1/portfolios/{portfolioID}/lots
// Invalid lots are stored as received; consolidation skips and reports them.
func (s *Service) ReplaceLots(w http.ResponseWriter, r *http.Request) {
	var reqs []LotRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	book, ok := s.book(w, r)
	if !ok {
		return
	}

	lots := make([]model.Lot, len(reqs))
	for i, req := range reqs {
		lots[i] = req.lot()
	}
	stored, err := book.ReplaceLots(r.Context(), lots)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	rejected := book.Snapshot().Rejected
	if rejected == nil {
		rejected = []*holdings.InvalidLotError{}
	}
	s.logger.Info("lots replaced", "portfolio", book.ID(), "lots", len(stored), "rejected", len(rejected))
	s.lotsChanged(book)
	writeJSON(w, http.StatusOK, ReplaceLotsResponse{Lots: stored, Rejected: rejected})
}

// DeleteLot handles DELETE /api/v1/portfolios/{portfolioID}/lots/{lotID}
func (s *Service) DeleteLot(w http.ResponseWriter, r *http.Request) {
	book, ok := s.book(w, r)
	if !ok {
		return
	}
	lotID := chi.URLParam(r, "lotID")

	if err := book.RemoveLot(r.Context(), lotID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "lot not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), statusFor(err))
		return
	}
	s.logger.Info("lot removed", "portfolio", book.ID(), "lot_id", lotID)
	s.lotsChanged(book)
	w.WriteHeader(http.StatusNoContent)
}

// ClearLots handles DELETE /api/v1/portfolios/{portfolioID}/lots
func (s *Service) ClearLots(w http.ResponseWriter, r *http.Request) {
	book, ok := s.book(w, r)
	if !ok {
		return
	}
	if err := book.Clear(r.Context()); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	s.logger.Info("lots cleared", "portfolio", book.ID())
	s.lotsChanged(book)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/v1/portfolios/{portfolioID}/refresh
// Runs one pass and returns its result; 409 if a pass is already running.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	book, ok := s.book(w, r)
	if !ok {
		return
	}

	res, err := s.refresh.RefreshNow(r.Context(), book.ID())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetQuote handles GET /api/v1/quotes/{ticker}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	t, err := ticker.Parse(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price, err := s.prices.Price(r.Context(), t.Symbol)
	if err != nil {
		s.logger.Warn("quote lookup failed", "ticker", t.Symbol, "err", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := QuoteResponse{
		Ticker:            t.Symbol,
		Market:            t.Market,
		Currency:          t.Currency,
		Price:             price,
		ReportingCurrency: s.currency,
		ConvertedPrice:    price,
		Success:           true,
		FetchedAt:         time.Now().UTC(),
	}
	if t.Market == ticker.MarketForeign {
		rate := s.rates.Current()
		resp.FXRate = rate.Rate
		resp.FXStale = rate.Stale()
		resp.ConvertedPrice = price.Mul(rate.Rate)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFXRate handles GET /api/v1/fx/usd-krw
// Always answers with a usable rate; success=false marks a fallback.
func (s *Service) GetFXRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.rates.Refresh(r.Context())
	var unavailable *fx.UnavailableError
	if err != nil && !errors.As(err, &unavailable) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, fxView(rate))
}

// SearchStocks handles GET /api/v1/stocks/search?query=
func (s *Service) SearchStocks(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("query"))
	if q == "" {
		writeError(w, "query is required", http.StatusBadRequest)
		return
	}
	results := ticker.Search(q)
	if results == nil {
		results = []ticker.Listing{}
	}
	writeJSON(w, http.StatusOK, results)
}

// PopularStocks handles GET /api/v1/stocks/popular
func (s *Service) PopularStocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ticker.Popular())
}

// --- helpers ---

func (s *Service) book(w http.ResponseWriter, r *http.Request) (*portfolio.Book, bool) {
	book, err := s.books.Get(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return nil, false
	}
	return book, true
}

// lotsChanged notifies subscribers and asks an active scheduler for an
// early pass so new holdings get prices without waiting a full interval.
func (s *Service) lotsChanged(book *portfolio.Book) {
	if s.hub != nil {
		s.hub.PublishHoldings(book.ID(), book.Snapshot().Version)
	}
	s.refresh.Trigger(book.ID())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var invalid *holdings.InvalidLotError
	var fetch *pricing.FetchError
	switch {
	case errors.As(err, &invalid),
		errors.Is(err, ticker.ErrInvalidTicker),
		errors.Is(err, portfolio.ErrInvalidID),
		errors.Is(err, portfolio.ErrDuplicateLot):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, refresh.ErrPassInProgress):
		return http.StatusConflict
	case errors.Is(err, refresh.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &fetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
