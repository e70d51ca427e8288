package preempt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource feeds ticks by hand instead of arming a real timer.
type stubSource struct {
	ch       chan struct{}
	mu       sync.Mutex
	startHZ  int
	started  bool
	stopped  bool
	startErr error
}

func newStubSource() *stubSource {
	return &stubSource{ch: make(chan struct{})}
}

func (s *stubSource) Start(hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.startHZ = hz
	return nil
}

func (s *stubSource) Ticks() <-chan struct{} {
	return s.ch
}

func (s *stubSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// tick blocks until the watcher has accepted the tick.
func (s *stubSource) tick() {
	s.ch <- struct{}{}
}

func TestDisabledModeIsInert(t *testing.T) {
	src := newStubSource()
	p := New(Config{Enabled: false, Source: src, OnTick: func() {
		t.Error("tick delivered with preemption off")
	}})

	p.Start()
	p.Disable()
	p.Enable()
	p.Enable() // unmatched, must not crash
	p.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.False(t, src.started, "source armed in off mode")
}

func TestTickInvokesForcedYield(t *testing.T) {
	var yields atomic.Int32
	src := newStubSource()
	p := New(Config{Enabled: true, Source: src, OnTick: func() {
		yields.Add(1)
	}})

	p.Start()
	defer p.Stop()

	src.tick()
	src.tick()

	require.Eventually(t, func() bool {
		return yields.Load() == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), p.Delivered())
}

func TestDefaultHZ(t *testing.T) {
	src := newStubSource()
	p := New(Config{Enabled: true, Source: src})
	p.Start()
	defer p.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 100, src.startHZ)
}

func TestNestedDisableGatesDelivery(t *testing.T) {
	var yields atomic.Int32
	src := newStubSource()
	p := New(Config{Enabled: true, Source: src, OnTick: func() {
		yields.Add(1)
	}})

	p.Start()
	defer p.Stop()

	p.Disable()
	p.Disable()

	src.tick()
	require.Eventually(t, func() bool {
		return p.Suppressed() == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, yields.Load())

	// One enable is not enough; the section is still guarded.
	p.Enable()
	src.tick()
	require.Eventually(t, func() bool {
		return p.Suppressed() == 2
	}, time.Second, time.Millisecond)
	assert.Zero(t, yields.Load())

	// The matching enable reopens delivery.
	p.Enable()
	src.tick()
	require.Eventually(t, func() bool {
		return yields.Load() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), p.Delivered())
}

func TestFailedTimerDegradesToOff(t *testing.T) {
	src := newStubSource()
	src.startErr = assert.AnError

	var yields atomic.Int32
	p := New(Config{Enabled: true, Source: src, OnTick: func() {
		yields.Add(1)
	}})

	p.Start()
	p.Stop()

	// Degraded: no watcher, disable/enable are now no-ops.
	p.Disable()
	p.Enable()
	assert.Zero(t, yields.Load())
}

func TestStopRestoresAndJoins(t *testing.T) {
	src := newStubSource()
	p := New(Config{Enabled: true, Source: src, OnTick: func() {}})

	p.Start()
	p.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.stopped, "source not disarmed")

	// Idempotent.
	p.Stop()
}
