// Package idletimer provides a resettable single-shot countdown.
//
// A Timer holds at most one pending callback. Reset restarts a live
// countdown in place, or arms a fresh one with the remembered callback
// once the previous countdown has fired or been cancelled.
package idletimer

import (
	"sync"
	"time"
)

// Timer is safe for concurrent use. The callback runs on its own
// goroutine, never on the goroutine calling Start or Reset.
type Timer struct {
	mu sync.Mutex

	duration time.Duration
	onFire   func()

	timer    *time.Timer
	armed    bool
	gen      uint64 // bumped on every arm/cancel; stale expirations are dropped
	deadline time.Time
}

// New creates a disarmed Timer.
func New() *Timer {
	return &Timer{}
}

// Start arms a new countdown, replacing anything pending.
func (t *Timer) Start(d time.Duration, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFire = onFire
	t.duration = d
	t.armLocked()
}

// Reset restarts the countdown with the current duration.
func (t *Timer) Reset() {
	t.ResetTo(0)
}

// ResetTo restarts the countdown. A positive d replaces the duration.
// If the timer was never started Reset does nothing.
func (t *Timer) ResetTo(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.duration = d
	}
	if t.onFire == nil {
		return
	}
	t.armLocked()
}

// Cancel disarms the timer. The callback will not run after Cancel
// returns unless it had already started.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.armed = false
	t.gen++
}

// Armed reports whether a countdown is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Remaining returns the time left before the callback fires, or 0 when disarmed.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return 0
	}
	if r := time.Until(t.deadline); r > 0 {
		return r
	}
	return 0
}

// armLocked (re)starts the countdown. Any expiration already in flight
// carries an older generation and is dropped by expire.
func (t *Timer) armLocked() {
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.deadline = time.Now().Add(t.duration)
	t.timer = time.AfterFunc(t.duration, func() { t.expire(gen) })
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// expire runs on the time.AfterFunc goroutine.
func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if !t.armed || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	fn := t.onFire
	t.mu.Unlock()

	fn()
}
