package app_test

import (
	"sync"
	"time"

	"trivia-host/internal/app"
)

// manualScheduler lets tests fire countdown ticks by hand.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTask) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) app.Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// latest returns the most recently scheduled task that is still pending.
func (s *manualScheduler) latest() *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if t := s.tasks[i]; !t.stopped && !t.fired {
			return t
		}
	}
	return nil
}

// tick fires the pending task, reporting whether there was one.
func (s *manualScheduler) tick() bool {
	t := s.latest()
	if t == nil {
		return false
	}
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
	return true
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
