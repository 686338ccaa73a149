package loader

import (
	"sync"
	"time"
)

// Debounce runs the most recently triggered function once no new trigger
// arrived for the configured delay.
type Debounce struct {
	delay time.Duration
	sched *Scheduler

	mu      sync.Mutex
	pending func()
}

func NewDebounce(clock Clock, delay time.Duration) *Debounce {
	return &Debounce{delay: delay, sched: NewScheduler(clock)}
}

func (d *Debounce) Trigger(f func()) {
	d.mu.Lock()
	d.pending = f
	d.mu.Unlock()
	d.sched.Schedule(d.delay, d.run)
}

func (d *Debounce) run() {
	d.mu.Lock()
	f := d.pending
	d.pending = nil
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

// Flush runs a pending function immediately. It returns false if nothing
// was pending.
func (d *Debounce) Flush() bool {
	if !d.sched.Cancel() {
		return false
	}
	d.run()
	return true
}

// Stop drops a pending function without running it.
func (d *Debounce) Stop() {
	d.sched.Cancel()
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

func (d *Debounce) Pending() bool {
	return d.sched.Pending()
}
