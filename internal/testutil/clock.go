// Package testutil provides test doubles shared across the repository's
// test suites.
package testutil

import (
	"sort"
	"sync"
	"time"

	relay "github.com/offlinekit/relay"
)

// ManualClock is a relay.Clock whose time only moves when a test advances
// it. Timers armed through AfterFunc fire during Advance, in deadline
// order, each on its own goroutine — matching the production contract.
//
// Tests drive backoff deterministically: advance past the computed delay
// and wait for the observable effect instead of sleeping.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualClock creates a clock pinned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc arms a timer that fires once Advance moves time past d.
// A non-positive d fires immediately.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) relay.Timer {
	c.mu.Lock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	c.fireDue()
	return t
}

// Advance moves time forward by d and fires every timer whose deadline has
// been reached.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

// PendingTimers reports how many armed timers have not fired yet.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) fireDue() {
	c.mu.Lock()
	var due []*manualTimer
	var rest []*manualTimer
	for _, t := range c.timers {
		if !t.deadline.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.fire()
	}
}

func (c *ManualClock) remove(t *manualTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, candidate := range c.timers {
		if candidate == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	fn       func()

	mu    sync.Mutex
	fired bool
}

// Stop cancels the timer. Reports false when it already fired.
func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()
	return t.clock.remove(t)
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	go fn()
}
