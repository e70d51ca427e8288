// Package preempt drives timer-based preemption for the scheduler.
//
// When enabled, a virtual-interval timer fires SIGVTALRM at HZ ticks per
// second of process CPU time. Each tick that passes the disable gate invokes
// the scheduler's forced yield. Disable/Enable form a nesting pair guarding
// scheduler critical sections: while the count is nonzero, ticks are
// discarded. Counting the nesting level, rather than re-masking the signal,
// is the safe-language rendition of sigprocmask — a Go signal cannot
// interrupt a goroutine mid-instruction, so gating delivery at the watcher
// is where masking actually happens.
package preempt

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-uthread/internal/constants"
)

// Logger is the subset of logging the preemptor needs.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

// TickSource produces the preemption ticks. The default source arms the
// virtual-time interval timer; tests substitute a channel they feed by hand.
type TickSource interface {
	// Start arms the source at hz ticks per second.
	Start(hz int) error
	// Ticks is the channel ticks arrive on.
	Ticks() <-chan struct{}
	// Stop disarms the source and restores whatever it displaced.
	Stop()
}

// Config configures a Preemptor.
type Config struct {
	// Enabled arms the timer. When false every method is a no-op, the
	// observable "preemption off" mode.
	Enabled bool

	// HZ is the tick frequency; 0 means constants.HZ.
	HZ int

	// OnTick is the forced yield, invoked once per delivered tick on the
	// watcher goroutine.
	OnTick func()

	// Logger may be nil.
	Logger Logger

	// Source overrides the tick source. Nil means the virtual itimer.
	Source TickSource
}

// Preemptor owns the timer, the watcher goroutine, and the disable gate.
type Preemptor struct {
	enabled bool
	hz      int
	onTick  func()
	logger  Logger
	source  TickSource

	blockers   atomic.Int32
	delivered  atomic.Uint64
	suppressed atomic.Uint64

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New builds a Preemptor from config. Start arms it.
func New(cfg Config) *Preemptor {
	hz := cfg.HZ
	if hz <= 0 {
		hz = constants.HZ
	}
	src := cfg.Source
	if src == nil {
		src = newItimerSource()
	}
	return &Preemptor{
		enabled: cfg.Enabled,
		hz:      hz,
		onTick:  cfg.OnTick,
		logger:  cfg.Logger,
		source:  src,
	}
}

// Start arms the tick source and launches the watcher. A source that fails
// to arm degrades to preemption off rather than failing the scheduler;
// applications that rely on preemption on such systems are on their own.
func (p *Preemptor) Start() {
	if !p.enabled || p.started {
		return
	}
	if err := p.source.Start(p.hz); err != nil {
		if p.logger != nil {
			p.logger.Printf("preemption timer unavailable, running cooperatively: %v", err)
		}
		p.enabled = false
		return
	}
	p.started = true
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.watch()
	if p.logger != nil {
		p.logger.Debugf("preemption armed at %d Hz", p.hz)
	}
}

// Stop disarms the source, restoring the displaced timer and signal
// disposition, and joins the watcher.
func (p *Preemptor) Stop() {
	if !p.started {
		return
	}
	p.started = false
	close(p.done)
	p.source.Stop()
	p.wg.Wait()
	if p.logger != nil {
		p.logger.Debugf("preemption stopped: delivered=%d suppressed=%d", p.delivered.Load(), p.suppressed.Load())
	}
}

// Disable raises the nesting count, masking tick delivery.
func (p *Preemptor) Disable() {
	if !p.enabled {
		return
	}
	p.blockers.Add(1)
}

// Enable lowers the nesting count, unmasking delivery on the final call.
// An unmatched Enable is tolerated, not policed.
func (p *Preemptor) Enable() {
	if !p.enabled {
		return
	}
	if p.blockers.Add(-1) < 0 {
		p.blockers.Store(0)
	}
}

// Delivered reports ticks that passed the gate and invoked the forced yield.
func (p *Preemptor) Delivered() uint64 {
	return p.delivered.Load()
}

// Suppressed reports ticks discarded while the gate was closed.
func (p *Preemptor) Suppressed() uint64 {
	return p.suppressed.Load()
}

func (p *Preemptor) watch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case _, ok := <-p.source.Ticks():
			if !ok {
				return
			}
			if p.blockers.Load() > 0 {
				p.suppressed.Add(1)
				continue
			}
			p.delivered.Add(1)
			if p.onTick != nil {
				p.onTick()
			}
		}
	}
}
