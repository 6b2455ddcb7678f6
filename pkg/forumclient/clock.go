package forumclient

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The controller wraps it so that callbacks run on its
// event loop; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// loopClock re-routes timer callbacks through an enqueue function.
type loopClock struct {
	base    Clock
	enqueue func(func()) bool
}

func (c loopClock) Now() time.Time {
	return c.base.Now()
}

func (c loopClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.base.AfterFunc(d, func() {
		c.enqueue(f)
	})
}
