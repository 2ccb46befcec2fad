package app

import "time"

// Scheduler runs f once after d. The controller uses it for countdown ticks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a scheduled call. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// WallScheduler schedules on real time.
func WallScheduler() Scheduler {
	return wallScheduler{}
}
