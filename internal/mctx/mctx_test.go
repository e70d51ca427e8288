package mctx

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitValidation(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.Init(nil, func(any) {}, nil, nil), ErrNilStack)
	require.ErrorIs(t, c.Init(NewStack(1024), nil, nil, nil), ErrNilEntry)
}

func TestStackRelease(t *testing.T) {
	s := NewStack(32 * 1024)
	require.Equal(t, 32*1024, s.Size())
	require.NoError(t, s.Release())
	require.ErrorIs(t, s.Release(), ErrStackReleased)

	var nilStack *Stack
	require.ErrorIs(t, nilStack.Release(), ErrStackReleased)
}

func TestSwitchRunsEntry(t *testing.T) {
	main := New()
	worker := New()

	var trace []string
	err := worker.Init(NewStack(1024), func(arg any) {
		trace = append(trace, "entry:"+arg.(string))
	}, "x", func() {
		trace = append(trace, "fin")
		main.Resume()
		runtime.Goexit()
	})
	require.NoError(t, err)

	// Entry does not run until the first switch in.
	require.Empty(t, trace)

	Switch(main, worker)
	require.Equal(t, []string{"entry:x", "fin"}, trace)
}

func TestSwitchPingPong(t *testing.T) {
	main := New()
	worker := New()

	var trace []int
	err := worker.Init(NewStack(1024), func(any) {
		trace = append(trace, 1)
		Switch(worker, main)
		trace = append(trace, 3)
	}, nil, func() {
		main.Resume()
		runtime.Goexit()
	})
	require.NoError(t, err)

	Switch(main, worker)
	trace = append(trace, 2)
	Switch(main, worker)

	require.Equal(t, []int{1, 2, 3}, trace)
}

func TestResumeIsALatch(t *testing.T) {
	c := New()

	// Double resume banks a single token; Park consumes it without blocking.
	c.Resume()
	c.Resume()
	c.Park()

	// The latch is empty again: a fresh resume wakes a fresh park.
	done := make(chan struct{})
	go func() {
		c.Park()
		close(done)
	}()
	c.Resume()
	<-done
}
