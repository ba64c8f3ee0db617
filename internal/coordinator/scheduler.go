package coordinator

import "time"

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback already
	// started or the timer was already stopped.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

// WallClock returns a Scheduler backed by time.AfterFunc.
func WallClock() Scheduler { return wallClock{} }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
