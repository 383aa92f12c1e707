// Package loop provides the single logical event loop that every engine and
// audio mutation runs on. Callbacks never run concurrently with each other.
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// Loop is a serial timer queue driven either in real time (Run) or by
// explicitly stepping virtual time (Step, Advance).
type Loop struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   taskQueue
	seq     uint64
	now     time.Time // latest time the loop has been stepped to
	current *task     // task being executed, nil between callbacks
	wake    chan struct{}
}

// New creates a loop that reads wall time from clk
func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clock: clk,
		now:   clk.Now(),
		wake:  make(chan struct{}, 1),
	}
}

// Now returns the loop's notion of the current time. Inside a callback this
// is the callback's scheduled time, so timers armed from a callback are
// relative to the previous deadline and never accumulate drift.
func (l *Loop) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowLocked()
}

func (l *Loop) nowLocked() time.Time {
	if l.current != nil {
		return l.current.due
	}
	if wall := l.clock.Now(); wall.After(l.now) {
		return wall
	}
	return l.now
}

// Post queues fn to run on the loop as soon as possible
func (l *Loop) Post(fn func()) {
	l.AfterFunc(0, fn)
}

// AfterFunc runs fn once on the loop after d
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn}
	l.mu.Lock()
	t.task = l.scheduleLocked(l.nowLocked().Add(clamp(d)), t.fire)
	l.mu.Unlock()
	l.notify()
	return t
}

// Every runs fn on the loop every d, first after d. Each deadline is the
// previous deadline plus d.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		panic("loop: non-positive interval for Every")
	}
	t := &Timer{loop: l, fn: fn, interval: d}
	l.mu.Lock()
	t.task = l.scheduleLocked(l.nowLocked().Add(d), t.fire)
	l.mu.Unlock()
	l.notify()
	return t
}

// Pending returns the number of scheduled callbacks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Step runs, in order, every callback due at or before until, including
// callbacks scheduled by earlier callbacks in the same step. It returns the
// number of callbacks executed.
func (l *Loop) Step(until time.Time) int {
	executed := 0
	for {
		l.mu.Lock()
		next := l.queue.peek()
		if next == nil || next.due.After(until) {
			if until.After(l.now) {
				l.now = until
			}
			l.mu.Unlock()
			return executed
		}
		heap.Pop(&l.queue)
		if next.due.After(l.now) {
			l.now = next.due
		}
		l.current = next
		l.mu.Unlock()

		l.execute(next)
		executed++

		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()
	}
}

// Advance moves virtual time forward by d, running everything that falls due
func (l *Loop) Advance(d time.Duration) int {
	return l.Step(l.Now().Add(clamp(d)))
}

// RunPending runs every callback that is already due
func (l *Loop) RunPending() int {
	return l.Step(l.Now())
}

// Run drives the loop in real time until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	log.Debug("Event loop started")
	defer log.Debug("Event loop stopped")

	for {
		l.Step(l.clock.Now())

		var timer *clock.Timer
		var fire <-chan time.Time
		l.mu.Lock()
		if next := l.queue.peek(); next != nil {
			timer = l.clock.Timer(next.due.Sub(l.clock.Now()))
			fire = timer.C
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from a loop callback.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) scheduleLocked(due time.Time, fn func()) *task {
	l.seq++
	t := &task{due: due, seq: l.seq, fn: fn}
	heap.Push(&l.queue, t)
	return t
}

func (l *Loop) cancelLocked(t *task) bool {
	if t == nil || t.index < 0 || t.index >= len(l.queue) || l.queue[t.index] != t {
		return false
	}
	heap.Remove(&l.queue, t.index)
	return true
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"due":   t.due,
				"panic": r,
			}).Error("Event loop callback panicked")
		}
	}()
	t.fn()
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
