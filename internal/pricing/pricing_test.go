package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestYahooSource_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/005930.KS" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1d" || r.URL.Query().Get("range") != "1d" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header")
		}
		w.Write([]byte(`{"chart":{"result":[{"meta":{"currency":"KRW","symbol":"005930.KS","regularMarketPrice":71500.0}}],"error":null}}`))
	}))
	defer srv.Close()

	price, err := NewYahooSource(srv.URL, nil).Price(context.Background(), "005930.KS")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(d(71500)) {
		t.Errorf("expected 71500, got %s", price)
	}
}

func TestYahooSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"not found", http.StatusNotFound, `{}`, nil},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimited},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, ErrNoPrice},
		{"missing price", http.StatusOK, `{"chart":{"result":[{"meta":{}}]}}`, ErrNoPrice},
		{"chart error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, nil},
		{"bad json", http.StatusOK, `{`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewYahooSource(srv.URL, nil).Price(context.Background(), "AAPL")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Ticker != "AAPL" {
				t.Errorf("expected ticker AAPL, got %s", fe.Ticker)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestBackendSource_Price(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{"current price", `{"currentPrice": 150.25, "success": true}`, 150.25, false},
		{"price fallback", `{"price": 99.5}`, 99.5, false},
		{"current wins", `{"currentPrice": 10, "price": 20, "success": true}`, 10, false},
		{"failure flag", `{"success": false, "message": "unknown symbol"}`, 0, true},
		{"zero price", `{"currentPrice": 0, "success": true}`, 0, true},
		{"no price", `{"success": true}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/stock/price/TSLA" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			price, err := NewBackendSource(srv.URL+"/api/stock/price/", nil).Price(context.Background(), "TSLA")
			if tt.wantErr {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected *FetchError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if !price.Equal(d(tt.want)) {
				t.Errorf("expected %v, got %s", tt.want, price)
			}
		})
	}
}

func TestBackendSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBackendSource(srv.URL, nil).Price(context.Background(), "TSLA")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusInternalServerError {
		t.Fatalf("expected FetchError with status 500, got %v", err)
	}
}

func TestGuarded_CoalescesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, ticker string) (decimal.Decimal, error) {
		calls.Add(1)
		<-release
		return d(100), nil
	})
	g := NewGuarded(src, 0)

	var wg sync.WaitGroup
	results := make([]decimal.Decimal, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.Price(context.Background(), "AAPL")
		}(i)
	}
	// Give the goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
	for i, p := range results {
		if !p.Equal(d(100)) {
			t.Errorf("result %d: expected 100, got %s", i, p)
		}
	}
}

func TestGuarded_RateLimits(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, ticker string) (decimal.Decimal, error) {
		return d(1), nil
	})
	g := NewGuarded(src, 20) // one request every 50ms

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := g.Price(context.Background(), "AAPL"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected limiter to pace requests, took %v", elapsed)
	}
}

func TestGuarded_CancelledContext(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, ticker string) (decimal.Decimal, error) {
		return d(1), nil
	})
	g := NewGuarded(src, 0.001)
	g.Price(context.Background(), "AAPL") // consume the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Price(ctx, "AAPL")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

func TestGuarded_CallerCancelDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	upstreamErr := make(chan error, 1)
	src := SourceFunc(func(ctx context.Context, ticker string) (decimal.Decimal, error) {
		close(started)
		<-release
		upstreamErr <- ctx.Err()
		return d(100), nil
	})
	g := NewGuarded(src, 0)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Price(first, "AAPL")
		firstErr <- err
	}()
	<-started

	second := make(chan decimal.Decimal, 1)
	go func() {
		p, err := g.Price(context.Background(), "AAPL")
		if err != nil {
			t.Errorf("expected second caller to succeed, got %v", err)
		}
		second <- p
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled *FetchError for first caller, got %v", err)
	}

	close(release)
	if p := <-second; !p.Equal(d(100)) {
		t.Errorf("expected 100, got %s", p)
	}
	if err := <-upstreamErr; err != nil {
		t.Errorf("expected upstream request to outlive the first caller, got %v", err)
	}
}
