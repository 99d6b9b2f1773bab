package fx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/holdings-engine/internal/metrics"
)

// Refresher keeps a Cache warm on a cron schedule, independent of the
// price refresh cadence.
type Refresher struct {
	cache   *Cache
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewRefresher registers a refresh job on schedule (e.g. "@every 15m").
func NewRefresher(c *Cache, schedule string, logger *slog.Logger) (*Refresher, error) {
	r := &Refresher{
		cache:   c,
		cron:    cron.New(),
		logger:  logger.With("component", "fx-refresher"),
		timeout: 15 * time.Second,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	r.logger.Info("fx refresh registered", "schedule", schedule)
	return r, nil
}

// Start performs an initial refresh in the background and starts the
// schedule.
func (r *Refresher) Start(ctx context.Context) {
	go r.RunOnce(ctx)
	r.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("fx refresher stopped")
}

// RunOnce refreshes the cache and records the outcome.
func (r *Refresher) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rate, err := r.cache.Refresh(ctx)
	metrics.FXRate.Set(rate.Rate.InexactFloat64())

	var unavailable *UnavailableError
	switch {
	case errors.As(err, &unavailable):
		metrics.FXRefreshes.WithLabelValues("failed").Inc()
	case err != nil:
		metrics.FXRefreshes.WithLabelValues("error").Inc()
		r.logger.Error("fx refresh error", "err", err)
	case rate.Cached:
		metrics.FXRefreshes.WithLabelValues("cached").Inc()
	default:
		metrics.FXRefreshes.WithLabelValues("fetched").Inc()
	}
}
