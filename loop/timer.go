package loop

import "time"

// Timer is the single handle for a one-shot or repeating callback
type Timer struct {
	loop     *Loop
	fn       func()
	interval time.Duration // zero for one-shot timers

	// guarded by loop.mu
	task    *task
	stopped bool
}

// Stop cancels the timer. It reports whether a pending callback was
// removed. Stopping a repeating timer from inside its own callback
// prevents the next tick.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	t.stopped = true
	removed := t.loop.cancelLocked(t.task)
	t.task = nil
	return removed
}

func (t *Timer) fire() {
	t.loop.mu.Lock()
	if t.stopped {
		t.loop.mu.Unlock()
		return
	}
	due := t.loop.current.due
	t.task = nil
	if t.interval == 0 {
		t.stopped = true
	}
	t.loop.mu.Unlock()

	t.fn()

	if t.interval == 0 {
		return
	}
	t.loop.mu.Lock()
	if !t.stopped {
		t.task = t.loop.scheduleLocked(due.Add(t.interval), t.fire)
	}
	t.loop.mu.Unlock()
}
