// Package ticker handles exchange-qualified ticker parsing and the
// domestic/foreign market convention used for FX conversion.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Markets.
const (
	MarketDomestic = "domestic"
	MarketForeign  = "foreign"
)

// Currencies.
const (
	CurrencyKRW = "KRW"
	CurrencyUSD = "USD"
)

// domesticSuffixes are the Korea Exchange listings (KOSPI, KOSDAQ).
// Every other ticker is quoted in USD.
var domesticSuffixes = map[string]bool{
	"KS": true,
	"KQ": true,
}

// tickerRegex matches: {code}[.{suffix}]
// Examples: 005930.KS, AAPL, BRK-B, ^GSPC, USDKRW=X
var tickerRegex = regexp.MustCompile(`^([A-Z0-9^][A-Z0-9\-=]*)(?:\.([A-Z]{1,4}))?$`)

var ErrInvalidTicker = errors.New("ticker: invalid ticker format")

// Ticker is a parsed exchange-qualified symbol.
type Ticker struct {
	Symbol   string `json:"symbol"` // normalized full symbol
	Code     string `json:"code"`
	Suffix   string `json:"suffix,omitempty"`
	Market   string `json:"market"`
	Currency string `json:"currency"`
}

// Parse normalizes and validates a ticker symbol.
func Parse(raw string) (*Ticker, error) {
	symbol := Normalize(raw)
	matches := tickerRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, raw)
	}

	t := &Ticker{
		Symbol:   symbol,
		Code:     matches[1],
		Suffix:   matches[2],
		Market:   MarketForeign,
		Currency: CurrencyUSD,
	}
	if domesticSuffixes[t.Suffix] {
		t.Market = MarketDomestic
		t.Currency = CurrencyKRW
	}
	return t, nil
}

// Normalize trims whitespace and upper-cases a symbol.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsForeign reports whether prices for the ticker are quoted in a foreign
// currency and need FX conversion.
func IsForeign(raw string) bool {
	symbol := Normalize(raw)
	if i := strings.LastIndexByte(symbol, '.'); i >= 0 {
		return !domesticSuffixes[symbol[i+1:]]
	}
	return true
}

// Currency returns the native quote currency of a ticker.
func Currency(raw string) string {
	if IsForeign(raw) {
		return CurrencyUSD
	}
	return CurrencyKRW
}

// MarketOf returns MarketDomestic or MarketForeign.
func MarketOf(raw string) string {
	if IsForeign(raw) {
		return MarketForeign
	}
	return MarketDomestic
}
