package stream

import (
	"sync"
	"time"
)

// Serializer runs tasks one at a time. A task submitted while another one is
// running (from inside it, or from another goroutine) is queued and runs on
// the goroutine that is already draining the queue, right after the current
// task. State touched only from tasks therefore changes in whole turns.
type Serializer struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// Run queues the task and drains the queue unless it is already being
// drained.
func (s *Serializer) Run(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.drain()
}

func (s *Serializer) drain() {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			panic(r)
		}
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		task()
	}
}

// Scheduler defers a task to a later tick.
type Scheduler interface {
	Schedule(task func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func())

// Schedule implements Scheduler.
func (f SchedulerFunc) Schedule(task func()) {
	f(task)
}

// Go runs each task on a new goroutine.
var Go Scheduler = SchedulerFunc(func(task func()) {
	go task()
})

// After runs each task once the delay elapsed.
func After(delay time.Duration) Scheduler {
	if delay <= 0 {
		return Go
	}
	return SchedulerFunc(func(task func()) {
		time.AfterFunc(delay, task)
	})
}

// ManualScheduler queues tasks until Flush is called.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

// Schedule implements Scheduler.
func (m *ManualScheduler) Schedule(task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// Pending returns the number of queued tasks.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Flush runs queued tasks, including the ones they schedule, and returns how
// many ran.
func (m *ManualScheduler) Flush() int {
	ran := 0
	for {
		m.mu.Lock()
		tasks := m.tasks
		m.tasks = nil
		m.mu.Unlock()

		if len(tasks) == 0 {
			return ran
		}
		for _, task := range tasks {
			task()
			ran++
		}
	}
}
