//go:build linux

package preempt

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// itimerSource is the production tick source: a SIGVTALRM watcher fed by
// the process virtual-interval timer. Start captures the previous timer so
// Stop can put it back, the same handoff sigaction/setitimer callers do.
type itimerSource struct {
	sig   chan os.Signal
	ticks chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
	prev  unix.Itimerval
	armed bool
}

func newItimerSource() *itimerSource {
	return &itimerSource{}
}

func (s *itimerSource) Start(hz int) error {
	s.sig = make(chan os.Signal, 1)
	s.ticks = make(chan struct{}, 1)
	s.done = make(chan struct{})
	signal.Notify(s.sig, unix.SIGVTALRM)

	period := time.Second / time.Duration(hz)
	prev, err := unix.Setitimer(unix.ItimerVirtual, unix.MakeItimerval(period, period))
	if err != nil {
		signal.Stop(s.sig)
		return err
	}
	s.prev = prev
	s.armed = true
	s.wg.Add(1)
	go s.forward()
	return nil
}

func (s *itimerSource) forward() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.sig:
			select {
			case s.ticks <- struct{}{}:
			default:
			}
		}
	}
}

func (s *itimerSource) Ticks() <-chan struct{} {
	return s.ticks
}

func (s *itimerSource) Stop() {
	if !s.armed {
		return
	}
	s.armed = false
	signal.Stop(s.sig)
	signal.Reset(unix.SIGVTALRM)
	_, _ = unix.Setitimer(unix.ItimerVirtual, s.prev)
	close(s.done)
	s.wg.Wait()
}
