package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// BackendSource queries a price service exposing GET {base}/{ticker} with a
// JSON body of {"currentPrice"|"price": n, "success": bool}.
type BackendSource struct {
	baseURL string
	client  *http.Client
}

func NewBackendSource(baseURL string, client *http.Client) *BackendSource {
	if client == nil {
		client = defaultClient()
	}
	return &BackendSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type backendPrice struct {
	CurrentPrice *decimal.Decimal `json:"currentPrice"`
	Price        *decimal.Decimal `json:"price"`
	Success      *bool            `json:"success"`
	Message      string           `json:"message"`
}

func (s *BackendSource) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+url.PathEscape(ticker), nil)
	if err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, &FetchError{Ticker: ticker, Status: resp.StatusCode, Err: ErrRateLimited}
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, &FetchError{Ticker: ticker, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var body backendPrice
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Status: resp.StatusCode, Err: fmt.Errorf("decode price: %w", err)}
	}
	if body.Success != nil && !*body.Success {
		msg := body.Message
		if msg == "" {
			msg = "backend reported failure"
		}
		return decimal.Zero, &FetchError{Ticker: ticker, Err: errors.New(msg)}
	}

	// currentPrice wins over price, matching the dashboard contract.
	price := body.CurrentPrice
	if price == nil || price.IsZero() {
		price = body.Price
	}
	if price == nil || !price.IsPositive() {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: ErrNoPrice}
	}
	return *price, nil
}
