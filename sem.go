package uthread

import "github.com/ehrlich-b/go-uthread/queue"

// Sem is a counting semaphore with FIFO wakeup, built on the scheduler's
// block/unblock. A waiting thread lives in both the semaphore's waiter
// queue and the scheduler's blocked set until an Up releases it from both;
// the dual residency is what lets Up wake exactly the oldest waiter.
//
// Semaphore state is guarded by the scheduler's critical-section
// discipline, so Down and Up may only be called while a scheduler runs.
type Sem struct {
	count   int
	waiters *queue.Queue
}

// NewSem creates a semaphore with the given initial count.
func NewSem(count int) (*Sem, error) {
	if count < 0 {
		return nil, NewError("sem_create", ErrCodeInvalidArgument, "negative count")
	}
	return &Sem{count: count, waiters: queue.New()}, nil
}

// Destroy releases the semaphore. It fails while threads are waiting.
func (m *Sem) Destroy() error {
	if m == nil {
		return NewError("sem_destroy", ErrCodeInvalidArgument, "nil semaphore")
	}
	if s := active.Load(); s != nil {
		s.pre.Disable()
		s.mu.Lock()
		defer func() {
			s.mu.Unlock()
			s.pre.Enable()
		}()
	}
	if m.waiters.Len() > 0 {
		return NewError("sem_destroy", ErrCodeBusy, "threads still waiting")
	}
	return m.waiters.Destroy()
}

// Down takes one slot, blocking the calling thread while the count is
// zero. Waking does not reserve the slot: the count is re-checked after
// every resume, because another thread may have taken it between the
// unblock and the dispatch.
func (m *Sem) Down() error {
	if m == nil {
		return NewError("sem_down", ErrCodeInvalidArgument, "nil semaphore")
	}
	s := active.Load()
	if s == nil {
		return NewError("sem_down", ErrCodeNotRunning, "no scheduler is running")
	}
	self := s.self()
	if self == nil {
		return NewError("sem_down", ErrCodeNotRunning, "not called from a thread")
	}

	for {
		s.pre.Disable()
		s.mu.Lock()
		if m.count > 0 {
			m.count--
			s.mu.Unlock()
			s.pre.Enable()
			return nil
		}
		s.mu.Unlock()
		s.pre.Enable()

		// The count was zero a moment ago. suspend re-checks it under the
		// lock and vetoes the block if an Up slipped in; otherwise the
		// waiter registration and the blocking are one atomic step.
		s.suspend(self,
			func() bool { return m.count == 0 },
			func() { _ = m.waiters.Enqueue(self) },
		)
	}
}

// Up releases one slot and wakes the oldest waiter, if any. The waker
// keeps the scheduler slot; the woken thread runs when its turn in the
// ready set comes.
func (m *Sem) Up() error {
	if m == nil {
		return NewError("sem_up", ErrCodeInvalidArgument, "nil semaphore")
	}
	s := active.Load()
	if s == nil {
		return NewError("sem_up", ErrCodeNotRunning, "no scheduler is running")
	}

	s.pre.Disable()
	s.mu.Lock()
	m.count++
	if m.waiters.Len() > 0 {
		v, _ := m.waiters.Dequeue()
		t := v.(*TCB)
		if err := s.blocked.Delete(t); err == nil {
			_ = s.ready.Enqueue(t)
			s.metrics.Unblocks.Add(1)
		}
	}
	s.mu.Unlock()
	s.pre.Enable()
	return nil
}

// Count returns the current count. Meaningful only from a running thread
// while no other thread is mid-operation.
func (m *Sem) Count() int {
	s := active.Load()
	if s == nil {
		return m.count
	}
	s.pre.Disable()
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.pre.Enable()
	}()
	return m.count
}
