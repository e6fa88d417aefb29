// Package debounce coalesces bursts of calls into one deferred task that
// runs after a quiet period. Each Trigger cancels the pending task and
// restarts the wait, so only the most recent invocation survives.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs at most one pending task after delay of inactivity.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	task    func()
	gen     uint64
	stopped bool
}

// New creates a Debouncer with the given quiet period.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Trigger schedules task, replacing and cancelling any pending one.
// After Stop, Trigger is a no-op.
func (d *Debouncer) Trigger(task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.task = task
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// fire runs the task scheduled as generation gen, unless it was superseded.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.task == nil {
		d.mu.Unlock()
		return
	}
	task := d.take()
	d.mu.Unlock()

	task()
}

// take clears the pending task and returns it. Called with d.mu held.
func (d *Debouncer) take() func() {
	task := d.task
	d.task = nil
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return task
}

// Pending reports whether a task is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil
}

// Cancel drops the pending task without running it. Reports whether one
// was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task == nil {
		return false
	}
	d.take()
	return true
}

// Flush runs the pending task immediately on the calling goroutine.
// Reports whether one was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.task == nil {
		d.mu.Unlock()
		return false
	}
	task := d.take()
	d.mu.Unlock()

	task()
	return true
}

// Stop rejects further triggers and runs the pending task, if any, on the
// calling goroutine. Used on shutdown so the last change is not lost.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	var task func()
	if d.task != nil {
		task = d.take()
	}
	d.mu.Unlock()

	if task != nil {
		task()
	}
}
