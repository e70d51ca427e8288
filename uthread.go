// Package uthread implements a user-level cooperative threading library with
// optional timer-driven preemption.
//
// One call to Run hosts many lightweight threads on the calling goroutine's
// scheduling slot. Exactly one thread owns the slot at a time: the idle loop
// dequeues the oldest ready thread, switches into it, and takes the slot
// back whenever the thread yields, blocks, or exits. Threads are created
// with Create, synchronize with Block/Unblock or a Sem, and run round-robin
// in FIFO order.
//
// With preemption enabled, a virtual-time alarm forces the running thread
// back onto the ready tail HZ times per second of consumed CPU, so a thread
// that never yields cannot starve the others. A forcibly descheduled thread
// keeps executing only until its next entry into the scheduler, where it
// parks until the idle loop dispatches it again.
package uthread

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/ehrlich-b/go-uthread/internal/constants"
	"github.com/ehrlich-b/go-uthread/internal/mctx"
	"github.com/ehrlich-b/go-uthread/internal/preempt"
	"github.com/ehrlich-b/go-uthread/queue"
)

// Logger is the logging surface the scheduler writes to. A nil Logger
// disables logging.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

// TCB is the thread control block: the stack and machine context of one
// user thread. A TCB's state is whichever scheduler set owns it (ready,
// blocked, zombie, or the current slot); there is no state field to drift
// out of sync with the sets.
type TCB struct {
	id    uint64
	ctx   *mctx.Context
	stack *mctx.Stack
}

// ID returns the thread's creation serial, starting at 1 for the initial
// thread.
func (t *TCB) ID() uint64 {
	return t.id
}

// Config contains parameters for running a scheduler
type Config struct {
	// Preempt arms the virtual-time alarm.
	Preempt bool

	// HZ overrides the preemption frequency; 0 means HZ (100).
	HZ int

	// StackSize overrides the per-thread stack budget; 0 means
	// DefaultStackSize.
	StackSize int

	// Logger receives scheduler activity. Nil disables logging.
	Logger Logger

	// tickSource overrides the preemption tick source in tests.
	tickSource preempt.TickSource
}

// Scheduler multiplexes user threads over the goroutine that entered Run.
type Scheduler struct {
	mu      sync.Mutex
	ready   *queue.Queue
	blocked *queue.Queue
	zombies *queue.Queue
	current *TCB

	// idle is the scheduling home: the saved state of the goroutine that
	// called Run. It is a bare context rather than a TCB; every suspension
	// resumes it.
	idle *mctx.Context

	pre       *preempt.Preemptor
	metrics   *Metrics
	logger    Logger
	stackSize int
	nextID    atomic.Uint64

	// threads maps goroutine id to TCB so package-level operations can
	// identify their caller even while it is being forcibly descheduled.
	threads sync.Map
}

// active is the scheduler currently inside Run. Package-level operations
// act on it; that is also how semaphores find the calling thread.
var active atomic.Pointer[Scheduler]

// lastMetrics keeps the most recent scheduler's counters readable after
// Run returns.
var lastMetrics atomic.Pointer[Metrics]

func newScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		ready:     queue.New(),
		blocked:   queue.New(),
		zombies:   queue.New(),
		idle:      mctx.New(),
		metrics:   NewMetrics(),
		logger:    cfg.Logger,
		stackSize: cfg.StackSize,
	}
	if s.stackSize <= 0 {
		s.stackSize = constants.DefaultStackSize
	}
	s.pre = preempt.New(preempt.Config{
		Enabled: cfg.Preempt,
		HZ:      cfg.HZ,
		OnTick:  s.preemptTick,
		Logger:  cfg.Logger,
		Source:  cfg.tickSource,
	})
	return s
}

// Run bootstraps a scheduler on the calling goroutine: it creates the idle
// context and an initial thread for fn(arg), then multiplexes threads until
// none remain ready. It returns after teardown; threads still blocked at
// that point stay blocked forever, which is an application bug, not a
// scheduler error.
func Run(preemptOn bool, fn func(any), arg any) error {
	return RunConfig(Config{Preempt: preemptOn}, fn, arg)
}

// RunConfig is Run with explicit configuration.
func RunConfig(cfg Config, fn func(any), arg any) error {
	if fn == nil {
		return NewError("run", ErrCodeInvalidArgument, "nil entry function")
	}
	s := newScheduler(cfg)
	if !active.CompareAndSwap(nil, s) {
		return NewError("run", ErrCodeAlreadyRunning, "another scheduler is running")
	}
	defer active.Store(nil)
	lastMetrics.Store(s.metrics)

	s.pre.Start()
	defer s.pre.Stop()

	if err := s.create(fn, arg); err != nil {
		return err
	}
	s.loop()

	s.mu.Lock()
	stillBlocked := s.blocked.Len()
	s.mu.Unlock()
	if stillBlocked > 0 && s.logger != nil {
		s.logger.Printf("scheduler stopped with %d thread(s) still blocked", stillBlocked)
	}
	s.metrics.StopTime.Store(time.Now().UnixNano())
	return nil
}

// Create admits a new thread for fn(arg) at the tail of the ready set. The
// new thread runs after every thread that was already ready.
func Create(fn func(any), arg any) error {
	s := active.Load()
	if s == nil {
		return NewError("create", ErrCodeNotRunning, "no scheduler is running")
	}
	return s.create(fn, arg)
}

// Yield surrenders the slot: the caller moves to the ready tail and runs
// again after every thread ready at this moment has had a turn. Called from
// outside a thread it is a no-op.
func Yield() {
	s := active.Load()
	if s == nil {
		return
	}
	self := s.self()
	if self == nil {
		return
	}
	s.yield(self)
}

// Exit terminates the calling thread and never returns. The thread's stack
// and TCB are released on the idle loop's next reaping pass. Called from
// outside a thread it is a no-op and returns.
func Exit() {
	s := active.Load()
	if s == nil {
		return
	}
	self := s.self()
	if self == nil {
		return
	}
	s.exit(self)
}

// Block suspends the calling thread until some other thread passes its TCB
// to Unblock. A thread that blocks with no unblocker coming stays blocked
// forever.
func Block() {
	s := active.Load()
	if s == nil {
		return
	}
	self := s.self()
	if self == nil {
		return
	}
	s.suspend(self, nil, nil)
}

// Unblock moves t from the blocked set to the ready tail. If t is not
// blocked the call is a no-op. The caller keeps the slot.
func Unblock(t *TCB) {
	s := active.Load()
	if s == nil {
		return
	}
	s.unblock(t)
}

// Current returns the calling thread's TCB, or nil when the caller is not
// a thread (the idle loop, or a plain goroutine).
func Current() *TCB {
	s := active.Load()
	if s == nil {
		return nil
	}
	return s.self()
}

// Stats returns the running scheduler's counters, or those of the most
// recently finished run.
func Stats() MetricsSnapshot {
	if s := active.Load(); s != nil {
		return s.metrics.Snapshot()
	}
	if m := lastMetrics.Load(); m != nil {
		return m.Snapshot()
	}
	return MetricsSnapshot{}
}

// self resolves the calling goroutine to its TCB, nil if the caller is not
// one of this scheduler's threads.
func (s *Scheduler) self() *TCB {
	v, ok := s.threads.Load(goid.Get())
	if !ok {
		return nil
	}
	return v.(*TCB)
}

func (s *Scheduler) create(fn func(any), arg any) error {
	if fn == nil {
		return NewError("create", ErrCodeInvalidArgument, "nil entry function")
	}
	t := &TCB{
		id:    s.nextID.Add(1),
		ctx:   mctx.New(),
		stack: mctx.NewStack(s.stackSize),
	}
	entry := func(a any) {
		gid := goid.Get()
		s.threads.Store(gid, t)
		defer s.threads.Delete(gid)
		fn(a)
	}
	if err := t.ctx.Init(t.stack, entry, arg, func() { s.exit(t) }); err != nil {
		return WrapError("create", ErrCodeInvalidArgument, err)
	}

	s.pre.Disable()
	s.mu.Lock()
	_ = s.ready.Enqueue(t)
	s.mu.Unlock()
	s.pre.Enable()

	s.metrics.ThreadsCreated.Add(1)
	if s.logger != nil {
		s.logger.Debugf("created thread %d", t.id)
	}
	return nil
}

// loop is the idle loop. Each pass reaps zombies, then dispatches the
// oldest ready thread and parks until the slot comes back.
func (s *Scheduler) loop() {
	for {
		s.pre.Disable()
		s.mu.Lock()
		s.reapLocked()
		if s.ready.Len() == 0 {
			s.mu.Unlock()
			s.pre.Enable()
			return
		}
		v, _ := s.ready.Dequeue()
		t := v.(*TCB)
		s.current = t
		s.mu.Unlock()
		s.pre.Enable()

		s.metrics.ContextSwitches.Add(1)
		mctx.Switch(s.idle, t.ctx)
	}
}

// reapLocked drains the zombie set, releasing each thread's stack. Runs
// with the scheduler lock held; only the idle loop calls it.
func (s *Scheduler) reapLocked() {
	for s.zombies.Len() > 0 {
		v, _ := s.zombies.Dequeue()
		t := v.(*TCB)
		_ = t.stack.Release()
		s.metrics.Reaps.Add(1)
		if s.logger != nil {
			s.logger.Debugf("reaped thread %d", t.id)
		}
	}
}

func (s *Scheduler) yield(self *TCB) {
	s.pre.Disable()
	s.mu.Lock()
	owned := s.current == self
	if owned {
		_ = s.ready.Enqueue(self)
		s.current = nil
	}
	s.mu.Unlock()
	s.pre.Enable()

	s.metrics.Yields.Add(1)
	if owned {
		s.idle.Resume()
	}
	// If the slot was already taken by a forced yield, the move to ready
	// happened on the watcher; either way, wait to be dispatched again.
	s.waitDispatch(self)
}

func (s *Scheduler) exit(self *TCB) {
	s.lockAsCurrent(self)
	_ = s.zombies.Enqueue(self)
	s.current = nil
	s.mu.Unlock()
	s.pre.Enable()

	s.metrics.Exits.Add(1)
	if s.logger != nil {
		s.logger.Debugf("thread %d exited", self.id)
	}
	s.idle.Resume()
	runtime.Goexit()
}

// suspend moves self to the blocked set and returns control to the idle
// loop, returning once some other thread unblocks self. cond, evaluated
// under the scheduler lock, may veto the suspension: semaphores re-check
// their count there so a slot released between their check and the block
// cannot be missed. also runs under the same lock, so a semaphore waiter
// registers atomically with its blocking. Reports whether it suspended.
func (s *Scheduler) suspend(self *TCB, cond func() bool, also func()) bool {
	s.lockAsCurrent(self)
	if cond != nil && !cond() {
		s.mu.Unlock()
		s.pre.Enable()
		return false
	}
	_ = s.blocked.Enqueue(self)
	if also != nil {
		also()
	}
	s.current = nil
	s.mu.Unlock()
	s.pre.Enable()

	s.metrics.Blocks.Add(1)
	s.idle.Resume()
	s.waitDispatch(self)
	return true
}

func (s *Scheduler) unblock(t *TCB) {
	if t == nil {
		return
	}
	s.pre.Disable()
	s.mu.Lock()
	if err := s.blocked.Delete(t); err == nil {
		_ = s.ready.Enqueue(t)
		s.metrics.Unblocks.Add(1)
	}
	s.mu.Unlock()
	s.pre.Enable()
}

// preemptTick is the forced yield, invoked on the preemption watcher each
// time a tick passes the disable gate. The current thread moves to the
// ready tail and the idle loop takes the slot back; the descheduled thread
// parks at its next scheduler entry.
func (s *Scheduler) preemptTick() {
	s.mu.Lock()
	t := s.current
	if t == nil {
		s.mu.Unlock()
		return
	}
	_ = s.ready.Enqueue(t)
	s.current = nil
	s.mu.Unlock()

	s.metrics.Preemptions.Add(1)
	if s.logger != nil {
		s.logger.Debugf("preempted thread %d", t.id)
	}
	s.idle.Resume()
}

// lockAsCurrent acquires the scheduler lock with self holding the slot,
// parking whenever a forced yield has taken it away. On return the lock is
// held, preemption is disabled, and s.current == self.
func (s *Scheduler) lockAsCurrent(self *TCB) {
	s.pre.Disable()
	s.mu.Lock()
	for s.current != self {
		s.mu.Unlock()
		s.pre.Enable()
		self.ctx.Park()
		s.pre.Disable()
		s.mu.Lock()
	}
}

// waitDispatch parks self until the idle loop installs it in the slot
// again. Spurious wakeups from banked resume tokens re-check and park.
func (s *Scheduler) waitDispatch(self *TCB) {
	for {
		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()
		if cur == self {
			return
		}
		self.ctx.Park()
	}
}
