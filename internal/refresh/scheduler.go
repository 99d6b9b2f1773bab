// Package refresh keeps holding prices current with sequential, paced
// refresh passes.
//
// A pass fetches one price per holding, strictly one at a time with a
// fixed delay between fetches, converts foreign quotes with the cached FX
// rate, and commits every price that moved by more than a threshold. A
// Scheduler never runs two passes at once: a pass requested while another
// is running is dropped.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/fx"
	"github.com/atmx/holdings-engine/internal/metrics"
	"github.com/atmx/holdings-engine/internal/model"
	"github.com/atmx/holdings-engine/internal/pricing"
)

var (
	ErrPassInProgress = errors.New("refresh: pass already in progress")
	ErrStopped        = errors.New("refresh: scheduler stopped")
)

// State is the scheduler lifecycle: Idle <-> Running, then Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Mode selects when a pass commits.
type Mode string

const (
	// ModeBatch commits all changed prices once, after the pass.
	ModeBatch Mode = "batch"
	// ModeIncremental commits each changed price as soon as it is fetched.
	ModeIncremental Mode = "incremental"
)

// Target is the holdings set a scheduler refreshes.
type Target interface {
	Holdings() []model.Holding
	ApplyPrices(ctx context.Context, prices map[string]decimal.Decimal) error
}

// Rates provides the cached FX rate without blocking.
type Rates interface {
	Current() fx.Rate
}

type Config struct {
	Interval    time.Duration   // time between scheduled passes
	Delay       time.Duration   // pause between consecutive fetches in a pass
	SettleDelay time.Duration   // follow-up pass after a pass that changed prices; 0 disables
	Threshold   decimal.Decimal // minimum absolute change that counts as an update
	Mode        Mode
	RunOnStart  bool
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Delay:       300 * time.Millisecond,
		SettleDelay: time.Second,
		Threshold:   decimal.NewFromFloat(0.01),
		Mode:        ModeBatch,
		RunOnStart:  true,
	}
}

// PassResult summarizes one pass.
type PassResult struct {
	PortfolioID string                     `json:"portfolio_id"`
	StartedAt   time.Time                  `json:"started_at"`
	Fetched     int                        `json:"fetched"`
	Updated     map[string]decimal.Decimal `json:"updated"`
	Failed      map[string]string          `json:"failed,omitempty"`
	FXRate      decimal.Decimal            `json:"fx_rate"`
	FXStale     bool                       `json:"fx_stale"`
	Aborted     bool                       `json:"aborted"`
	Settle      bool                       `json:"settle"`
	Duration    time.Duration              `json:"duration"`
}

// Scheduler runs refresh passes for one Target.
type Scheduler struct {
	id       string
	target   Target
	prices   pricing.Source
	rates    Rates
	cfg      Config
	logger   *slog.Logger
	onCommit func(PassResult)

	// sleep pauses between fetches; false means the pass must abort.
	sleep func(ctx context.Context, d time.Duration) bool

	state     atomic.Int32
	trigger   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewScheduler creates an idle scheduler. onCommit, if non-nil, receives
// every pass that ran to completion.
func NewScheduler(id string, target Target, prices pricing.Source, rates Rates, cfg Config, logger *slog.Logger, onCommit func(PassResult)) *Scheduler {
	s := &Scheduler{
		id:       id,
		target:   target,
		prices:   prices,
		rates:    rates,
		cfg:      cfg,
		logger:   logger.With("component", "refresh", "portfolio", id),
		onCommit: onCommit,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.sleep = s.pause
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Start launches the timer loop. It returns immediately; the loop exits
// on Stop or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop(ctx)
	})
}

// Stop moves the scheduler to Stopped. A running pass finishes its current
// fetch and is then discarded. Stop is idempotent.
func (s *Scheduler) Stop() {
	for {
		cur := s.state.Load()
		if State(cur) == StateStopped || s.state.CompareAndSwap(cur, int32(StateStopped)) {
			break
		}
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the loop started by Start has exited.
func (s *Scheduler) Wait() {
	if s.started.Load() {
		<-s.done
	}
}

// Trigger requests a pass from the loop without blocking. Requests made
// while one is pending collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunPass runs one pass on the caller's goroutine. It returns
// ErrPassInProgress if a pass is already running and ErrStopped if the
// scheduler is stopped before or during the pass.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	return s.run(ctx, false)
}

func (s *Scheduler) run(ctx context.Context, settle bool) (PassResult, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if s.State() == StateStopped {
			return PassResult{}, ErrStopped
		}
		metrics.RefreshPasses.WithLabelValues("dropped").Inc()
		return PassResult{}, ErrPassInProgress
	}
	defer s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))

	start := time.Now()
	res, err := s.pass(ctx)
	res.Settle = settle
	res.Duration = time.Since(start)
	metrics.RefreshDuration.Observe(res.Duration.Seconds())

	switch {
	case res.Aborted:
		metrics.RefreshPasses.WithLabelValues("aborted").Inc()
		s.logger.Info("refresh pass aborted", "fetched", res.Fetched)
		if err == nil {
			err = ErrStopped
		}
		return res, err
	case err != nil:
		metrics.RefreshPasses.WithLabelValues("failed").Inc()
		s.logger.Error("refresh pass commit failed", "err", err)
		return res, err
	case len(res.Updated) > 0:
		metrics.RefreshPasses.WithLabelValues("committed").Inc()
		metrics.PriceUpdates.Add(float64(len(res.Updated)))
	default:
		metrics.RefreshPasses.WithLabelValues("unchanged").Inc()
	}

	s.logger.Info("refresh pass complete",
		"fetched", res.Fetched,
		"updated", len(res.Updated),
		"failed", len(res.Failed),
		"fx_stale", res.FXStale,
		"settle", settle,
		"duration", res.Duration,
	)
	if s.onCommit != nil {
		s.onCommit(res)
	}
	return res, nil
}

// pass fetches every holding in snapshot order. It is only called while
// the state is Running.
func (s *Scheduler) pass(ctx context.Context) (PassResult, error) {
	rate := s.rates.Current()
	res := PassResult{
		PortfolioID: s.id,
		StartedAt:   time.Now(),
		Updated:     make(map[string]decimal.Decimal),
		Failed:      make(map[string]string),
		FXRate:      rate.Rate,
		FXStale:     rate.Stale(),
	}
	holdings := s.target.Holdings()
	for i, h := range holdings {
		if i > 0 && !s.sleep(ctx, s.cfg.Delay) {
			res.Aborted = true
			return res, ctx.Err()
		}
		if s.stopped() || ctx.Err() != nil {
			res.Aborted = true
			return res, ctx.Err()
		}

		raw, err := s.prices.Price(ctx, h.Ticker)
		res.Fetched++
		if err != nil {
			metrics.PriceFetches.WithLabelValues("error").Inc()
			res.Failed[h.Ticker] = err.Error()
			s.logger.Warn("price fetch failed", "ticker", h.Ticker, "err", err)
			continue
		}
		metrics.PriceFetches.WithLabelValues("ok").Inc()

		price := raw
		if h.IsForeign {
			price = raw.Mul(rate.Rate)
		}
		if price.Sub(h.CurrentPrice).Abs().LessThanOrEqual(s.cfg.Threshold) {
			continue
		}
		res.Updated[h.Ticker] = price

		if s.cfg.Mode == ModeIncremental {
			if s.stopped() {
				res.Aborted = true
				return res, nil
			}
			if err := s.target.ApplyPrices(ctx, map[string]decimal.Decimal{h.Ticker: price}); err != nil {
				delete(res.Updated, h.Ticker)
				return res, fmt.Errorf("commit %s: %w", h.Ticker, err)
			}
		}
	}

	// Results of a pass stopped mid-flight are discarded.
	if s.stopped() {
		res.Aborted = true
		return res, nil
	}
	if s.cfg.Mode != ModeIncremental && len(res.Updated) > 0 {
		if err := s.target.ApplyPrices(ctx, res.Updated); err != nil {
			res.Updated = map[string]decimal.Decimal{}
			return res, fmt.Errorf("commit prices: %w", err)
		}
	}
	return res, nil
}

func (s *Scheduler) stopped() bool {
	return s.State() == StateStopped
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !s.stopped()
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	scheduled := func(isSettle bool) {
		res, err := s.run(ctx, isSettle)
		if err != nil {
			if errors.Is(err, ErrPassInProgress) {
				s.logger.Debug("refresh pass dropped, another is running")
			}
			return
		}
		// One settle pass at most; it never schedules another.
		if !isSettle && len(res.Updated) > 0 && s.cfg.SettleDelay > 0 && !s.stopped() {
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(s.cfg.SettleDelay)
			settleC = settle.C
		}
	}

	if s.cfg.RunOnStart {
		scheduled(false)
	}
	for {
		if s.stopped() {
			return
		}
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stop:
			return
		case <-ticker.C:
			scheduled(false)
		case <-s.trigger:
			scheduled(false)
		case <-settleC:
			settleC = nil
			scheduled(true)
		}
	}
}
