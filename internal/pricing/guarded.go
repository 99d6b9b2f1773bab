package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Guarded wraps a Source with a process-wide request rate limit. Concurrent
// lookups of the same ticker share one upstream request.
type Guarded struct {
	src     Source
	limiter *rate.Limiter
	group   singleflight.Group
}

// sharedCallTimeout bounds an upstream request shared by several callers.
// It does not follow any one caller's context.
const sharedCallTimeout = 15 * time.Second

// NewGuarded allows perSecond upstream requests with a burst of one.
// perSecond <= 0 disables the limiter.
func NewGuarded(src Source, perSecond float64) *Guarded {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Guarded{src: src, limiter: rate.NewLimiter(limit, 1)}
}

// Price returns when the shared lookup finishes or ctx is done, whichever
// comes first. A caller giving up does not cancel the lookup for the others.
func (g *Guarded) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, &FetchError{Ticker: ticker, Err: err}
	}
	ch := g.group.DoChan(ticker, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		if err := g.limiter.Wait(callCtx); err != nil {
			return decimal.Zero, &FetchError{Ticker: ticker, Err: err}
		}
		return g.src.Price(callCtx, ticker)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	case <-ctx.Done():
		return decimal.Zero, &FetchError{Ticker: ticker, Err: ctx.Err()}
	}
}
