package relay

import "time"

// Clock abstracts wall-clock reads and one-shot timers so retry scheduling
// can be driven deterministically in tests.
//
// The production implementation delegates to the time package. Tests inject
// a manual clock and advance it explicitly instead of sleeping.
type Clock interface {
	Now() time.Time
	// AfterFunc arms a one-shot timer that runs fn on its own goroutine
	// after d elapses. The returned handle cancels a timer that has not
	// fired yet.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Reports false if it already fired or was
	// already stopped.
	Stop() bool
}

// systemClock is the production Clock.
type systemClock struct{}

// SystemClock returns the wall clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
