package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooSource reads regularMarketPrice from the Yahoo Finance chart API.
type YahooSource struct {
	baseURL string
	client  *http.Client
}

// NewYahooSource creates a chart API client. An empty baseURL selects the
// public endpoint; a nil client gets a 10s timeout.
func NewYahooSource(baseURL string, client *http.Client) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if client == nil {
		client = defaultClient()
	}
	return &YahooSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string           `json:"currency"`
				Symbol             string           `json:"symbol"`
				RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (s *YahooSource) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", s.baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: err}
	}
	req.Header.Set("User-Agent", browserUserAgent)
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

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Status: resp.StatusCode, Err: fmt.Errorf("decode chart: %w", err)}
	}
	if body.Chart.Error != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: fmt.Errorf("%s: %s", body.Chart.Error.Code, body.Chart.Error.Description)}
	}
	if len(body.Chart.Result) == 0 {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: ErrNoPrice}
	}
	price := body.Chart.Result[0].Meta.RegularMarketPrice
	if price == nil || !price.IsPositive() {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: ErrNoPrice}
	}
	return *price, nil
}
