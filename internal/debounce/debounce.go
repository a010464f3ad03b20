// Package debounce delays a call until input has been quiet for a fixed period.
package debounce

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. time.AfterFunc satisfies it through StdAfterFunc.
type AfterFunc func(d time.Duration, fn func()) Timer

// StdAfterFunc schedules with the runtime timer.
func StdAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Debouncer runs only the most recent triggered func, once the quiet period has elapsed
// without another trigger.
type Debouncer struct {
	quiet     time.Duration
	afterFunc AfterFunc

	mu      sync.Mutex
	timer   Timer
	pending func()
	gen     uint64
	stopped bool
}

// Option customises a Debouncer.
type Option func(*Debouncer)

// WithAfterFunc replaces the scheduler, typically with a fake clock in tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(d *Debouncer) {
		if fn != nil {
			d.afterFunc = fn
		}
	}
}

// New constructs a Debouncer with the given quiet period.
func New(quiet time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{quiet: quiet, afterFunc: StdAfterFunc}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger cancels any pending call and schedules fn after the quiet period.
// Triggers after Stop are ignored.
func (d *Debouncer) Trigger(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopTimerLocked()
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = d.afterFunc(d.quiet, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// a newer trigger or a cancel superseded this timer after it was already running
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	fn()
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimerLocked()
	d.gen++
	d.pending = nil
}

// Flush runs the pending call immediately on the caller's goroutine. It reports whether
// there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	d.stopTimerLocked()
	d.gen++
	d.pending = nil
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Stop cancels the pending call and releases the timer. The Debouncer ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimerLocked()
	d.gen++
	d.pending = nil
	d.stopped = true
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
