package main

import "sync"

// frameScheduler holds the callback to run on the next Update. Registrations
// may come from any goroutine; run is called from the game loop.
type frameScheduler struct {
	mu      sync.Mutex
	pending func()
	seq     uint64
}

// Schedule replaces any pending callback with fn.
func (s *frameScheduler) Schedule(fn func()) func() {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.pending = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.seq == id {
			s.pending = nil
		}
		s.mu.Unlock()
	}
}

// run invokes the pending callback, if any, outside the lock so it may
// schedule its successor.
func (s *frameScheduler) run() bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
