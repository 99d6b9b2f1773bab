// Package pricing fetches raw ticker prices from upstream quote services.
//
// Prices are returned in the ticker's native currency. Converting foreign
// quotes into the reporting currency is the caller's job.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Source returns the latest raw price for a ticker.
type Source interface {
	Price(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ticker string) (decimal.Decimal, error)

func (f SourceFunc) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return f(ctx, ticker)
}

var (
	ErrNoPrice     = errors.New("pricing: no price in response")
	ErrRateLimited = errors.New("pricing: upstream rate limit reached")
)

// FetchError reports a failed price lookup for one ticker.
type FetchError struct {
	Ticker string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pricing: fetch %s: status %d: %v", e.Ticker, e.Status, e.Err)
	}
	return fmt.Sprintf("pricing: fetch %s: %v", e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// browserUserAgent is sent to quote services that reject default Go clients.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func defaultClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
