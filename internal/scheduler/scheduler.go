package scheduler

import "sync"

// Scheduler queues work on one context.
type Scheduler interface {
	// Microtask queues fn to run after the current task and any
	// microtasks already queued.
	Microtask(fn func())
	// Post queues fn as a new task. Safe to call from any goroutine.
	Post(fn func())
}

// Manual is a Scheduler driven explicitly by the caller.
type Manual struct {
	mu    sync.Mutex
	tasks []func()
	micro []func()
}

// NewManual creates a manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Microtask implements Scheduler.
func (m *Manual) Microtask(fn func()) {
	m.mu.Lock()
	m.micro = append(m.micro, fn)
	m.mu.Unlock()
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
}

// RunMicrotasks drains the microtask queue and returns how many ran.
func (m *Manual) RunMicrotasks() int {
	ran := 0
	for {
		fn := m.pop(&m.micro)
		if fn == nil {
			return ran
		}
		fn()
		ran++
	}
}

// Turn drains microtasks, then runs posted tasks one at a time, draining
// microtasks after each, until both queues are empty. It returns the number
// of tasks run.
func (m *Manual) Turn() int {
	m.RunMicrotasks()
	ran := 0
	for {
		fn := m.pop(&m.tasks)
		if fn == nil {
			return ran
		}
		fn()
		ran++
		m.RunMicrotasks()
	}
}

// Pending returns the number of queued tasks and microtasks.
func (m *Manual) Pending() (tasks, microtasks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks), len(m.micro)
}

func (m *Manual) pop(q *[]func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(*q) == 0 {
		return nil
	}
	fn := (*q)[0]
	(*q)[0] = nil
	*q = (*q)[1:]
	return fn
}
