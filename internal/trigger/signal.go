// Package trigger provides the coordination primitives the dispatcher is
// built on: level-triggered signals and the FIFO task queue.
package trigger

import "sync"

// Signal is a level-triggered boolean flag. Any number of producers may call
// Raise concurrently; raising an already-raised signal collapses into a
// single pending wake. One consumer per signal calls Wait and Clear.
//
// Producer contract: a producer that raises a mode signal must raise the
// dispatcher's trigger signal afterwards, never before.
type Signal struct {
	name string

	mu     sync.Mutex
	raised bool
	wake   chan struct{}
}

// NewSignal creates a cleared signal. The name appears in logs only.
func NewSignal(name string) *Signal {
	return &Signal{name: name, wake: make(chan struct{})}
}

// Name returns the signal's log name.
func (s *Signal) Name() string { return s.name }

// Raise sets the signal and wakes any waiter. Idempotent.
func (s *Signal) Raise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raised {
		return
	}
	s.raised = true
	close(s.wake)
}

// Clear resets the signal. Clearing a cleared signal is a no-op.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.raised {
		return
	}
	s.raised = false
	s.wake = make(chan struct{})
}

// IsRaised reports the current state.
func (s *Signal) IsRaised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raised
}

// Raised returns a channel that is closed once the signal is raised, for use
// in select statements. The channel is a snapshot: take a fresh one after
// every Clear.
func (s *Signal) Raised() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake
}

// Wait blocks until the signal is raised. Returns immediately if it already
// is. The signal stays raised until Clear is called.
func (s *Signal) Wait() {
	s.mu.Lock()
	wake := s.wake
	raised := s.raised
	s.mu.Unlock()
	if raised {
		return
	}
	<-wake
}
