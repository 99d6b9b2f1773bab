package refresh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(target *fakeTarget, onCommit func(PassResult)) *Manager {
	open := func(ctx context.Context, id string) (Target, error) {
		if id == "missing" {
			return nil, errors.New("no such portfolio")
		}
		return target, nil
	}
	cfg := testConfig()
	cfg.Interval = time.Hour
	return NewManager(open, quotes(map[string]float64{"AAPL": 2}), rateOf(1), cfg, discard(), onCommit)
}

func TestManager_AcquireReleaseRefCount(t *testing.T) {
	m := newTestManager(newTarget(map[string]float64{"AAPL": 1}, "AAPL"), nil)
	defer m.Close()
	ctx := context.Background()

	if err := m.Acquire(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Acquire(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active scheduler, got %d", m.Active())
	}

	m.mu.Lock()
	sched := m.entries["p1"].sched
	m.mu.Unlock()

	m.Release("p1")
	if m.Active() != 1 {
		t.Errorf("expected scheduler kept while a consumer remains, got %d", m.Active())
	}
	m.Release("p1")
	if m.Active() != 0 {
		t.Errorf("expected no active schedulers, got %d", m.Active())
	}

	sched.Wait()
	if sched.State() != StateStopped {
		t.Errorf("expected released scheduler stopped, got %s", sched.State())
	}

	// Extra releases are ignored.
	m.Release("p1")
}

func TestManager_ReacquireCreatesFreshScheduler(t *testing.T) {
	m := newTestManager(newTarget(map[string]float64{"AAPL": 1}, "AAPL"), nil)
	defer m.Close()
	ctx := context.Background()

	m.Acquire(ctx, "p1")
	m.Release("p1")
	if err := m.Acquire(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RefreshNow(ctx, "p1"); err != nil {
		t.Errorf("expected pass on fresh scheduler, got %v", err)
	}
}

func TestManager_RefreshNowWithoutConsumers(t *testing.T) {
	target := newTarget(map[string]float64{"AAPL": 1}, "AAPL")
	var got []PassResult
	m := newTestManager(target, func(r PassResult) { got = append(got, r) })
	defer m.Close()

	res, err := m.RefreshNow(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Updated["AAPL"].Equal(d(2)) {
		t.Errorf("expected AAPL 2, got %v", res.Updated)
	}
	if len(got) != 1 || got[0].PortfolioID != "p1" {
		t.Errorf("expected commit hook with portfolio id, got %+v", got)
	}
	if m.Active() != 0 {
		t.Errorf("expected on-demand pass not to start a timer, got %d active", m.Active())
	}
	if m.Trigger("p1") {
		t.Error("expected Trigger to report no active scheduler")
	}
}

func TestManager_RefreshNowLeavesNoIdleEntries(t *testing.T) {
	m := newTestManager(newTarget(map[string]float64{"AAPL": 1}, "AAPL"), nil)
	defer m.Close()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.RefreshNow(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no entries after on-demand passes, got %d", n)
	}

	// A held scheduler survives its on-demand passes.
	m.Acquire(ctx, "a")
	if _, err := m.RefreshNow(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if m.Active() != 1 {
		t.Errorf("expected held scheduler kept, got %d active", m.Active())
	}
	m.mu.Lock()
	n = len(m.entries)
	m.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestManager_OpenError(t *testing.T) {
	m := newTestManager(newTarget(nil), nil)
	defer m.Close()

	if err := m.Acquire(context.Background(), "missing"); err == nil {
		t.Error("expected open error")
	}
	if m.Active() != 0 {
		t.Errorf("expected no scheduler, got %d", m.Active())
	}
}

func TestManager_CloseStopsEverything(t *testing.T) {
	m := newTestManager(newTarget(map[string]float64{"AAPL": 1}, "AAPL"), nil)
	ctx := context.Background()
	m.Acquire(ctx, "a")
	m.Acquire(ctx, "b")

	m.Close()
	if m.Active() != 0 {
		t.Errorf("expected no active schedulers after close, got %d", m.Active())
	}
	if err := m.Acquire(ctx, "a"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after close, got %v", err)
	}
	if _, err := m.RefreshNow(ctx, "a"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after close, got %v", err)
	}
}
