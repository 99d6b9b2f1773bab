package fx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const Pair = "USD/KRW"

// Rate sources.
const (
	SourceLive    = "live"
	SourceCached  = "cached"
	SourceDefault = "default"
)

// DefaultUSDKRW is used until a live rate has been fetched.
var DefaultUSDKRW = decimal.NewFromInt(1456)

// Rate is a point-in-time exchange rate with its provenance.
type Rate struct {
	Pair      string          `json:"pair"`
	Rate      decimal.Decimal `json:"rate"`
	Success   bool            `json:"success"` // last fetch attempt succeeded
	Source    string          `json:"source"`
	Cached    bool            `json:"cached"`
	FetchedAt time.Time       `json:"fetched_at"` // when Rate was obtained; zero for the default
	Error     string          `json:"error,omitempty"`
}

// Stale reports whether the rate is not backed by a successful fetch.
func (r Rate) Stale() bool { return !r.Success }

// Age is how old the rate value is. The default rate has no age.
func (r Rate) Age(now time.Time) time.Duration {
	if r.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(r.FetchedAt)
}

// UnavailableError is returned by Refresh when the live rate could not be
// fetched. The cache keeps serving the previous or default rate.
type UnavailableError struct {
	Pair     string
	Fallback decimal.Decimal
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("fx: %s unavailable, using %s: %v", e.Pair, e.Fallback, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// CacheConfig controls how long fetch outcomes are reused.
type CacheConfig struct {
	Default    decimal.Decimal
	SuccessTTL time.Duration
	ErrorTTL   time.Duration
}

// Cache serves the current rate without blocking and refreshes it from a
// Source. Successful fetches are reused for SuccessTTL, failures suppress
// retries for ErrorTTL.
type Cache struct {
	src     Source
	cfg     CacheConfig
	entries *cache.Cache
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex // serializes Refresh
	current atomic.Pointer[Rate]
}

func NewCache(src Source, cfg CacheConfig, logger *slog.Logger) *Cache {
	if !cfg.Default.IsPositive() {
		cfg.Default = DefaultUSDKRW
	}
	if cfg.SuccessTTL <= 0 {
		cfg.SuccessTTL = 15 * time.Minute
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 3 * time.Minute
	}
	return &Cache{
		src:     src,
		cfg:     cfg,
		entries: cache.New(cfg.SuccessTTL, 2*cfg.SuccessTTL),
		logger:  logger.With("component", "fx"),
		now:     time.Now,
	}
}

// Current returns the last known rate, or the default if none was fetched.
func (c *Cache) Current() Rate {
	if r := c.current.Load(); r != nil {
		return *r
	}
	return Rate{Pair: Pair, Rate: c.cfg.Default, Source: SourceDefault}
}

// Refresh returns the cached outcome while it is fresh, otherwise fetches
// a new rate. On failure it returns the fallback rate together with an
// *UnavailableError.
func (c *Cache) Refresh(ctx context.Context) (Rate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Get(Pair); ok {
		r := v.(Rate)
		r.Cached = true
		if r.Source == SourceLive {
			r.Source = SourceCached
		}
		return r, nil
	}

	value, err := c.src.Rate(ctx)
	if err == nil && !value.IsPositive() {
		err = fmt.Errorf("non-positive rate %s", value)
	}
	if err != nil {
		prev := c.Current()
		r := Rate{
			Pair:      Pair,
			Rate:      prev.Rate,
			Success:   false,
			Source:    prev.Source,
			FetchedAt: prev.FetchedAt,
			Error:     err.Error(),
		}
		if r.Source == SourceLive {
			r.Source = SourceCached
		}
		c.entries.Set(Pair, r, c.cfg.ErrorTTL)
		c.current.Store(&r)
		c.logger.Warn("fx refresh failed, keeping previous rate", "rate", r.Rate.String(), "source", r.Source, "err", err)
		return r, &UnavailableError{Pair: Pair, Fallback: r.Rate, Err: err}
	}

	r := Rate{
		Pair:      Pair,
		Rate:      value,
		Success:   true,
		Source:    SourceLive,
		FetchedAt: c.now(),
	}
	c.entries.Set(Pair, r, c.cfg.SuccessTTL)
	c.current.Store(&r)
	c.logger.Info("fx rate refreshed", "rate", value.String())
	return r, nil
}
