// Package fx maintains the USD→KRW exchange rate used to convert foreign
// quotes into the reporting currency.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/pricing"
)

// Source fetches a live USD→KRW rate (KRW per USD).
type Source interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

const (
	DefaultExchangeRateAPIURL = "https://api.exchangerate-api.com/v4/latest/USD"

	// USDKRWTicker is the quote-service symbol for the pair.
	USDKRWTicker = "USDKRW=X"
)

// ExchangeRateAPISource reads rates.KRW from an exchangerate-api style
// document based on USD.
type ExchangeRateAPISource struct {
	url    string
	client *http.Client
}

func NewExchangeRateAPISource(url string, client *http.Client) *ExchangeRateAPISource {
	if url == "" {
		url = DefaultExchangeRateAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ExchangeRateAPISource{url: url, client: client}
}

type latestRates struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (s *ExchangeRateAPISource) Rate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch rates: status %d", resp.StatusCode)
	}

	var body latestRates
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rates: %w", err)
	}
	krw, ok := body.Rates["KRW"]
	if !ok || !krw.IsPositive() {
		return decimal.Zero, fmt.Errorf("decode rates: no KRW rate")
	}
	return krw, nil
}

// QuoteSource reads the rate as the price of USDKRW=X from a price source.
type QuoteSource struct {
	prices pricing.Source
}

func NewQuoteSource(prices pricing.Source) *QuoteSource {
	return &QuoteSource{prices: prices}
}

func (s *QuoteSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	return s.prices.Price(ctx, USDKRWTicker)
}
