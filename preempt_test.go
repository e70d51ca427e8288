package uthread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// tickerSource drives preemption from the wall clock so scheduler tests do
// not depend on the process consuming measurable CPU time.
type tickerSource struct {
	period time.Duration
	ticks  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newTickerSource(period time.Duration) *tickerSource {
	return &tickerSource{period: period}
}

func (ts *tickerSource) Start(int) error {
	ts.ticks = make(chan struct{}, 1)
	ts.done = make(chan struct{})
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		tick := time.NewTicker(ts.period)
		defer tick.Stop()
		for {
			select {
			case <-ts.done:
				return
			case <-tick.C:
				select {
				case ts.ticks <- struct{}{}:
				default:
				}
			}
		}
	}()
	return nil
}

func (ts *tickerSource) Ticks() <-chan struct{} {
	return ts.ticks
}

func (ts *tickerSource) Stop() {
	ts.once.Do(func() {
		close(ts.done)
		ts.wg.Wait()
	})
}

func TestPreemptionBreaksSpin(t *testing.T) {
	var flag atomic.Bool
	flag.Store(true)
	rec := &recorder{}

	cfg := Config{
		Preempt:    true,
		tickSource: newTickerSource(time.Millisecond),
	}

	err := runScheduler(t, cfg, func(any) {
		_ = Create(func(any) {
			rec.add("t2")
			flag.Store(false)
		}, nil)
		for flag.Load() {
			// no cooperative yield: only the timer can take the slot away
		}
		rec.add("t1-exit")
	}, nil)

	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.lines(); !equalLines(got, []string{"t2", "t1-exit"}) {
		t.Errorf("Expected [t2 t1-exit], got %v", got)
	}
	if snap := Stats(); snap.Preemptions == 0 {
		t.Error("Expected at least one preemption")
	}
}

func TestNoPreemptionSpinHolds(t *testing.T) {
	var flag, t2ran atomic.Bool
	flag.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- Run(false, func(any) {
			_ = Create(func(any) {
				t2ran.Store(true)
				flag.Store(false)
			}, nil)
			for flag.Load() {
			}
		}, nil)
	}()

	// Cooperative mode: the spinner owns the slot, so the second thread
	// must not run no matter how long we wait.
	select {
	case err := <-done:
		t.Fatalf("scheduler finished while the spinner held the slot: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if t2ran.Load() {
		t.Fatal("second thread ran without preemption")
	}

	// Break the loop from outside so the run can drain cleanly; only now
	// does the second thread get its turn.
	flag.Store(false)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not finish after the spin was released")
	}
	if !t2ran.Load() {
		t.Error("second thread never ran")
	}
}

func TestPreemptedThreadYieldIsHarmless(t *testing.T) {
	// A thread that calls Yield after losing the slot to the timer must
	// simply wait for its next dispatch, not double-queue itself.
	var spins atomic.Int64
	rec := &recorder{}

	cfg := Config{
		Preempt:    true,
		tickSource: newTickerSource(time.Millisecond),
	}

	err := runScheduler(t, cfg, func(any) {
		_ = Create(func(any) { rec.add("other") }, nil)
		for i := 0; i < 3; i++ {
			// Burn a little wall time so the ticker lands mid-loop.
			deadline := time.Now().Add(3 * time.Millisecond)
			for time.Now().Before(deadline) {
				spins.Add(1)
			}
			Yield()
		}
		rec.add("looper")
	}, nil)

	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.lines()
	if len(got) != 2 {
		t.Fatalf("Expected both threads to finish once, got %v", got)
	}
	if got[len(got)-1] != "looper" {
		t.Errorf("Expected looper to finish last, got %v", got)
	}
}

func TestPreemptionOffModeNoTicks(t *testing.T) {
	src := newTickerSource(time.Millisecond)

	err := runScheduler(t, Config{Preempt: false, tickSource: src}, func(any) {
		for i := 0; i < 3; i++ {
			Yield()
		}
	}, nil)

	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap := Stats(); snap.Preemptions != 0 {
		t.Errorf("Expected no preemptions with preemption off, got %d", snap.Preemptions)
	}
}
