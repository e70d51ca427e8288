// Package mctx implements the machine-context primitive the scheduler
// switches user threads with.
//
// A Context is the portable stand-in for a saved register set: a parked
// goroutine plus a one-slot resume latch. Switching into a context hands it
// the latch token; switching away parks on one's own latch until somebody
// hands a token back. At most one context runs per scheduler slot, so a
// single buffered token per context is sufficient.
//
// Resume is deliberately a latch, not a blocking send: a context that is
// resumed while still running (which happens when the preemption watcher
// re-queues a thread that has not reached a park point yet) keeps the token
// banked for its next Park.
package mctx

import "errors"

var (
	// ErrNilStack is returned by Init when no stack is supplied.
	ErrNilStack = errors.New("mctx: nil stack")

	// ErrNilEntry is returned by Init when no entry function is supplied.
	ErrNilEntry = errors.New("mctx: nil entry function")

	// ErrStackReleased is returned when a stack is released twice.
	ErrStackReleased = errors.New("mctx: stack already released")
)

// Stack records the stack budget owned by one thread. The Go runtime
// allocates and grows the actual memory; the handle exists so ownership
// follows the TCB from create to reap, and so a double release is caught.
type Stack struct {
	size     int
	released bool
}

// NewStack allocates a stack handle of the given size in bytes.
func NewStack(size int) *Stack {
	return &Stack{size: size}
}

// Size returns the stack budget in bytes.
func (s *Stack) Size() int {
	return s.size
}

// Release returns the stack to the system. Only the reaping pass calls
// this; a second release reports ErrStackReleased.
func (s *Stack) Release() error {
	if s == nil || s.released {
		return ErrStackReleased
	}
	s.released = true
	return nil
}

// Context is one switchable machine context.
type Context struct {
	resume chan struct{}
}

// New returns a context with an empty resume latch. A context that is never
// Init'ed represents the caller's own execution state (the idle context is
// one of these): it can be parked and resumed but has no entry function.
func New() *Context {
	return &Context{resume: make(chan struct{}, 1)}
}

// Init prepares c so that the first switch into it begins executing
// entry(arg) on its own stack. When entry returns, fin runs on the same
// stack; fin is the trampoline tail and must not return (the scheduler's
// exit path ends the goroutine).
func (c *Context) Init(stack *Stack, entry func(any), arg any, fin func()) error {
	if stack == nil {
		return ErrNilStack
	}
	if entry == nil {
		return ErrNilEntry
	}
	go func() {
		c.Park()
		entry(arg)
		if fin != nil {
			fin()
		}
	}()
	return nil
}

// Resume hands c its run token. If c already holds an unconsumed token the
// call is a no-op; the state the scheduler keeps is authoritative and a
// parked context always re-checks it after waking.
func (c *Context) Resume() {
	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// Park blocks the calling goroutine until c is resumed, consuming one token.
func (c *Context) Park() {
	<-c.resume
}

// Switch saves the caller as from and resumes to. It returns when some
// later switch resumes from.
func Switch(from, to *Context) {
	to.Resume()
	from.Park()
}
