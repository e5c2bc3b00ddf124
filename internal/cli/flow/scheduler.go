package flow

import "time"

// Scheduler defers a function call. The production implementation uses the wall
// clock; tests inject a manual one so flows never sleep.
type Scheduler interface {
	After(d time.Duration, fn func())
}

type wallClockScheduler struct{}

func (wallClockScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// NewScheduler returns the wall-clock scheduler
func NewScheduler() Scheduler {
	return wallClockScheduler{}
}
