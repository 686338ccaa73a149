package loader

import (
	"sync"
	"time"
)

// Scheduler holds at most one delayed action. Scheduling a new action
// cancels the pending one, and a cancelled action never runs, even if its
// timer already fired concurrently.
type Scheduler struct {
	clock Clock

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Schedule(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.gen++
		s.mu.Unlock()
		f()
	})
}

// Cancel drops the pending action and reports whether there was one.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Scheduler) cancelLocked() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	return true
}

func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
