package job

import (
	"context"
	"sync"
)

// Signals is the cooperative control set shared by the controller and the
// worker. Cancelled and save-and-quit are sticky for the life of a job;
// paused can be toggled.
//
// Every transition closes the current changed channel and installs a new
// one, so waiters block on a channel instead of polling.
type Signals struct {
	mu          sync.Mutex
	cancelled   bool
	paused      bool
	saveAndQuit bool
	changed     chan struct{}
	done        chan struct{}
}

// NewSignals returns a signal set with every flag cleared.
func NewSignals() *Signals {
	return &Signals{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// broadcast must be called with mu held.
func (s *Signals) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// stop must be called with mu held.
func (s *Signals) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Cancel marks the job cancelled. Calling it again has no effect.
func (s *Signals) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.stop()
	s.broadcast()
}

// SaveAndQuit requests a checkpoint-and-stop. It also forces paused so no
// further progress is made while the controller finalizes.
func (s *Signals) SaveAndQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveAndQuit {
		return
	}
	s.saveAndQuit = true
	s.paused = true
	s.stop()
	s.broadcast()
}

// TogglePause flips paused and returns the new value.
func (s *Signals) TogglePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	s.broadcast()
	return s.paused
}

// SetPaused sets paused explicitly.
func (s *Signals) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return
	}
	s.paused = paused
	s.broadcast()
}

// Cancelled reports whether the job was cancelled.
func (s *Signals) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Paused reports whether the job is paused.
func (s *Signals) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SaveAndQuitRequested reports whether a save-and-quit was requested.
func (s *Signals) SaveAndQuitRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAndQuit
}

// Stopping reports whether either sticky flag is set.
func (s *Signals) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled || s.saveAndQuit
}

// Done is closed once Cancel or SaveAndQuit has been called.
func (s *Signals) Done() <-chan struct{} { return s.done }

// WaitUnpaused blocks while the job is paused. It returns early when a sticky
// flag is set, and returns ctx.Err() if ctx ends first.
func (s *Signals) WaitUnpaused(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.paused || s.cancelled || s.saveAndQuit {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
