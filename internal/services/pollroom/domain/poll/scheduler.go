package poll

import "time"

// Timer is a cancellable deadline action.
type Timer interface {
	// Stop prevents the action from firing. It returns false if the action
	// already fired or was stopped.
	Stop() bool
}

// AfterFunc schedules f to run once after d on its own goroutine.
type AfterFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
