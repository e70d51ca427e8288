package uthread

import (
	"sync/atomic"
	"time"
)

// Metrics tracks scheduler activity counters. All fields are updated with
// atomic operations and are safe to read while the scheduler runs.
type Metrics struct {
	// Lifecycle counters
	ThreadsCreated atomic.Uint64 // Threads admitted by create
	Exits          atomic.Uint64 // Threads that reached exit
	Reaps          atomic.Uint64 // Zombies released by the idle loop

	// Scheduling counters
	ContextSwitches atomic.Uint64 // Dispatches out of the idle loop
	Yields          atomic.Uint64 // Voluntary yields
	Preemptions     atomic.Uint64 // Forced yields delivered by the timer
	Blocks          atomic.Uint64 // Threads moved to the blocked set
	Unblocks        atomic.Uint64 // Threads moved back to ready

	// Scheduler lifecycle
	StartTime atomic.Int64 // Run entry timestamp (UnixNano)
	StopTime  atomic.Int64 // Run return timestamp (UnixNano), 0 while running
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	ThreadsCreated  uint64
	Exits           uint64
	Reaps           uint64
	ContextSwitches uint64
	Yields          uint64
	Preemptions     uint64
	Blocks          uint64
	Unblocks        uint64
	Uptime          time.Duration
}

// Snapshot returns a consistent-enough copy for reporting. Individual
// counters are read atomically; the set as a whole is not fenced.
func (m *Metrics) Snapshot() MetricsSnapshot {
	end := m.StopTime.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	return MetricsSnapshot{
		ThreadsCreated:  m.ThreadsCreated.Load(),
		Exits:           m.Exits.Load(),
		Reaps:           m.Reaps.Load(),
		ContextSwitches: m.ContextSwitches.Load(),
		Yields:          m.Yields.Load(),
		Preemptions:     m.Preemptions.Load(),
		Blocks:          m.Blocks.Load(),
		Unblocks:        m.Unblocks.Load(),
		Uptime:          time.Duration(end - m.StartTime.Load()),
	}
}
