package uthread

import "sync"

// RecordingLogger is a Logger that captures every line it is given. It is
// useful for asserting on scheduler activity in tests of applications built
// on this package.
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
}

// Printf implements the Logger interface
func (l *RecordingLogger) Printf(format string, args ...any) {
	l.record(format)
}

// Debugf implements the Logger interface
func (l *RecordingLogger) Debugf(format string, args ...any) {
	l.record(format)
}

func (l *RecordingLogger) record(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

// Lines returns a copy of the captured format strings in arrival order.
func (l *RecordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Reset clears the captured lines.
func (l *RecordingLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}

// Compile-time interface check
var _ Logger = (*RecordingLogger)(nil)
