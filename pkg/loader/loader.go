package loader

import (
	"sync"
	"time"
)

const (
	DefaultShowDelay  = 150 * time.Millisecond
	DefaultMinVisible = 300 * time.Millisecond
)

// Debouncer turns a busy signal into a loader visibility flag without
// flicker. The loader appears only once busy has held for ShowDelay, and
// once shown stays for at least MinVisible.
type Debouncer struct {
	clock      Clock
	showDelay  time.Duration
	minVisible time.Duration
	onChange   func(visible bool)

	mu      sync.Mutex
	busy    bool
	visible bool
	shownAt time.Time
	show    *Scheduler
	hide    *Scheduler
}

type Option func(*Debouncer)

func WithClock(c Clock) Option {
	return func(d *Debouncer) {
		d.clock = c
	}
}

func WithShowDelay(delay time.Duration) Option {
	return func(d *Debouncer) {
		d.showDelay = delay
	}
}

func WithMinVisible(minVisible time.Duration) Option {
	return func(d *Debouncer) {
		d.minVisible = minVisible
	}
}

// WithOnChange registers a callback for visibility changes. It runs with the
// debouncer locked and must not call back into it.
func WithOnChange(f func(visible bool)) Option {
	return func(d *Debouncer) {
		d.onChange = f
	}
}

func NewDebouncer(opts ...Option) *Debouncer {
	ret := &Debouncer{
		clock:      RealClock,
		showDelay:  DefaultShowDelay,
		minVisible: DefaultMinVisible,
	}
	for _, o := range opts {
		o(ret)
	}
	ret.show = NewScheduler(ret.clock)
	ret.hide = NewScheduler(ret.clock)
	return ret
}

func (d *Debouncer) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if busy == d.busy {
		return
	}
	d.busy = busy

	if busy {
		d.hide.Cancel()
		if !d.visible {
			d.show.Schedule(d.showDelay, d.fireShow)
		}
		return
	}

	d.show.Cancel()
	if !d.visible {
		return
	}
	remaining := d.minVisible - d.clock.Now().Sub(d.shownAt)
	if remaining <= 0 {
		d.setVisibleLocked(false)
		return
	}
	d.hide.Schedule(remaining, d.fireHide)
}

func (d *Debouncer) fireShow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy && !d.visible {
		d.shownAt = d.clock.Now()
		d.setVisibleLocked(true)
	}
}

func (d *Debouncer) fireHide() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.busy && d.visible {
		d.setVisibleLocked(false)
	}
}

func (d *Debouncer) setVisibleLocked(v bool) {
	d.visible = v
	if d.onChange != nil {
		d.onChange(v)
	}
}

func (d *Debouncer) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

func (d *Debouncer) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Reset cancels pending timers and hides the loader immediately.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.show.Cancel()
	d.hide.Cancel()
	d.busy = false
	if d.visible {
		d.setVisibleLocked(false)
	}
}
