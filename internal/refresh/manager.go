package refresh

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atmx/holdings-engine/internal/metrics"
	"github.com/atmx/holdings-engine/internal/pricing"
)

// OpenFunc resolves the refresh target of a portfolio.
type OpenFunc func(ctx context.Context, portfolioID string) (Target, error)

type entry struct {
	sched    *Scheduler
	refs     int
	inflight int // RefreshNow calls using sched
}

// Manager owns one Scheduler per portfolio. A portfolio's timer loop runs
// only while at least one consumer holds it via Acquire.
type Manager struct {
	open     OpenFunc
	prices   pricing.Source
	rates    Rates
	cfg      Config
	logger   *slog.Logger
	onCommit func(PassResult)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewManager(open OpenFunc, prices pricing.Source, rates Rates, cfg Config, logger *slog.Logger, onCommit func(PassResult)) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		open:     open,
		prices:   prices,
		rates:    rates,
		cfg:      cfg,
		logger:   logger,
		onCommit: onCommit,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
}

// entryFor returns the portfolio's entry, creating an idle scheduler when
// none exists. Callers hold mu.
func (m *Manager) entryFor(ctx context.Context, portfolioID string) (*entry, error) {
	if e, ok := m.entries[portfolioID]; ok {
		return e, nil
	}
	target, err := m.open(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	e := &entry{sched: NewScheduler(portfolioID, target, m.prices, m.rates, m.cfg, m.logger, m.onCommit)}
	m.entries[portfolioID] = e
	return e, nil
}

// Acquire registers a consumer of portfolioID's prices and starts its
// scheduler on the first one.
func (m *Manager) Acquire(ctx context.Context, portfolioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStopped
	}
	e, err := m.entryFor(ctx, portfolioID)
	if err != nil {
		return err
	}
	e.refs++
	if e.refs == 1 {
		e.sched.Start(m.ctx)
		metrics.ActiveSchedulers.Inc()
		m.logger.Info("refresh scheduler started", "portfolio", portfolioID)
	}
	return nil
}

// Release drops a consumer. The last release stops the scheduler so no
// timer outlives its consumers.
func (m *Manager) Release(portfolioID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[portfolioID]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 {
		e.sched.Stop()
		delete(m.entries, portfolioID)
		metrics.ActiveSchedulers.Dec()
		m.logger.Info("refresh scheduler stopped", "portfolio", portfolioID)
	}
}

// RefreshNow runs a pass for portfolioID on the caller's goroutine. It
// shares the reentrancy guard with the portfolio's timer loop.
func (m *Manager) RefreshNow(ctx context.Context, portfolioID string) (PassResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return PassResult{}, ErrStopped
	}
	e, err := m.entryFor(ctx, portfolioID)
	if err != nil {
		m.mu.Unlock()
		return PassResult{}, err
	}
	e.inflight++
	m.mu.Unlock()

	res, err := e.sched.RunPass(ctx)

	m.mu.Lock()
	e.inflight--
	// An entry nobody holds was created for this call only; its timer
	// loop never started.
	if e.refs == 0 && e.inflight == 0 && m.entries[portfolioID] == e {
		delete(m.entries, portfolioID)
	}
	m.mu.Unlock()
	return res, err
}

// Trigger asks an active scheduler for an early pass. It reports whether
// the portfolio has one.
func (m *Manager) Trigger(portfolioID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[portfolioID]
	if !ok || e.refs == 0 {
		return false
	}
	e.sched.Trigger()
	return true
}

// Active returns the number of running schedulers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.refs > 0 {
			n++
		}
	}
	return n
}

// Close stops every scheduler and waits for their loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	scheds := make([]*Scheduler, 0, len(m.entries))
	for id, e := range m.entries {
		e.sched.Stop()
		if e.refs > 0 {
			metrics.ActiveSchedulers.Dec()
		}
		scheds = append(scheds, e.sched)
		delete(m.entries, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range scheds {
		s.Wait()
	}
}
