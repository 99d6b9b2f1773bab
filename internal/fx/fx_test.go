package fx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSource returns queued results in order; the last one repeats.
type stubSource struct {
	calls   atomic.Int32
	results []stubResult
}

type stubResult struct {
	rate decimal.Decimal
	err  error
}

func (s *stubSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].rate, s.results[i].err
}

func TestCache_CurrentDefaultsBeforeFetch(t *testing.T) {
	c := NewCache(&stubSource{}, CacheConfig{}, discard())
	r := c.Current()
	if !r.Rate.Equal(DefaultUSDKRW) {
		t.Errorf("expected default 1456, got %s", r.Rate)
	}
	if r.Source != SourceDefault || !r.Stale() {
		t.Errorf("expected stale default rate, got %+v", r)
	}
}

func TestCache_RefreshSuccessThenCached(t *testing.T) {
	src := &stubSource{results: []stubResult{{rate: d(1380.5)}}}
	c := NewCache(src, CacheConfig{SuccessTTL: time.Minute, ErrorTTL: time.Second}, discard())

	r, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !r.Rate.Equal(d(1380.5)) || !r.Success || r.Source != SourceLive || r.Cached {
		t.Errorf("expected live 1380.5, got %+v", r)
	}

	r, err = c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if !r.Cached || r.Source != SourceCached {
		t.Errorf("expected cached result, got %+v", r)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call within TTL, got %d", n)
	}
	if !c.Current().Rate.Equal(d(1380.5)) {
		t.Errorf("expected current 1380.5, got %s", c.Current().Rate)
	}
}

func TestCache_FailureKeepsPreviousRate(t *testing.T) {
	src := &stubSource{results: []stubResult{
		{rate: d(1400)},
		{err: errors.New("upstream down")},
	}}
	c := NewCache(src, CacheConfig{SuccessTTL: time.Millisecond, ErrorTTL: time.Minute}, discard())

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	r, err := c.Refresh(context.Background())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
	if !unavailable.Fallback.Equal(d(1400)) {
		t.Errorf("expected fallback 1400, got %s", unavailable.Fallback)
	}
	if !r.Rate.Equal(d(1400)) || r.Success {
		t.Errorf("expected stale 1400, got %+v", r)
	}
	if cur := c.Current(); !cur.Rate.Equal(d(1400)) || !cur.Stale() {
		t.Errorf("expected current stale 1400, got %+v", cur)
	}

	// The failure is cached for ErrorTTL; no new upstream call.
	c.Refresh(context.Background())
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected 2 upstream calls, got %d", n)
	}
}

func TestCache_FailureWithoutHistoryUsesDefault(t *testing.T) {
	src := &stubSource{results: []stubResult{{err: errors.New("timeout")}}}
	c := NewCache(src, CacheConfig{Default: d(1300)}, discard())

	r, err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !r.Rate.Equal(d(1300)) || r.Source != SourceDefault {
		t.Errorf("expected default 1300, got %+v", r)
	}
}

func TestCache_RejectsNonPositiveRate(t *testing.T) {
	src := &stubSource{results: []stubResult{{rate: decimal.Zero}}}
	c := NewCache(src, CacheConfig{}, discard())

	_, err := c.Refresh(context.Background())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
}

func TestExchangeRateAPISource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","date":"2025-11-09","rates":{"EUR":0.92,"KRW":1456.25}}`))
	}))
	defer srv.Close()

	rate, err := NewExchangeRateAPISource(srv.URL, nil).Rate(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.Equal(d(1456.25)) {
		t.Errorf("expected 1456.25, got %s", rate)
	}
}

func TestExchangeRateAPISource_MissingKRW(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"USD","rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	if _, err := NewExchangeRateAPISource(srv.URL, nil).Rate(context.Background()); err == nil {
		t.Error("expected error for missing KRW")
	}
}

func TestQuoteSource_UsesPairTicker(t *testing.T) {
	var asked string
	prices := pricing.SourceFunc(func(ctx context.Context, ticker string) (decimal.Decimal, error) {
		asked = ticker
		return d(1450), nil
	})

	rate, err := NewQuoteSource(prices).Rate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if asked != "USDKRW=X" {
		t.Errorf("expected USDKRW=X, got %s", asked)
	}
	if !rate.Equal(d(1450)) {
		t.Errorf("expected 1450, got %s", rate)
	}
}

func TestRefresher_RunOnce(t *testing.T) {
	src := &stubSource{results: []stubResult{{rate: d(1390)}}}
	c := NewCache(src, CacheConfig{}, discard())
	r, err := NewRefresher(c, "@every 1h", discard())
	if err != nil {
		t.Fatal(err)
	}

	r.RunOnce(context.Background())
	if !c.Current().Rate.Equal(d(1390)) {
		t.Errorf("expected 1390 after refresh, got %s", c.Current().Rate)
	}
	r.Stop()
}

func TestRefresher_InvalidSchedule(t *testing.T) {
	c := NewCache(&stubSource{}, CacheConfig{}, discard())
	if _, err := NewRefresher(c, "not a schedule", discard()); err == nil {
		t.Error("expected invalid schedule error")
	}
}
