//go:build !linux

package preempt

import "errors"

// The virtual interval timer is only wired up on Linux. Elsewhere the
// default source refuses to arm and the preemptor degrades to cooperative
// mode.
type itimerSource struct{}

func newItimerSource() *itimerSource {
	return &itimerSource{}
}

func (s *itimerSource) Start(int) error {
	return errors.New("virtual interval timer not supported on this platform")
}

func (s *itimerSource) Ticks() <-chan struct{} {
	return nil
}

func (s *itimerSource) Stop() {}
