package tracing

import (
	"sync"
	"time"
)

// AverageTimeTracer measures how long the traced tasks take. The guest call
// timer of an emulation is one.
type AverageTimeTracer struct {
	clock  TimeTeller
	filter TaskFilter

	lock    sync.Mutex
	started map[string]time.Time
	count   uint64
	total   time.Duration
	longest time.Duration
}

// NewAverageTimeTracer creates a tracer that times the tasks accepted by
// filter with clock.
func NewAverageTimeTracer(clock TimeTeller, filter TaskFilter) *AverageTimeTracer {
	return &AverageTimeTracer{
		clock:   clock,
		filter:  filter,
		started: make(map[string]time.Time),
	}
}

// AverageTime returns the mean duration of the finished tasks.
func (t *AverageTimeTracer) AverageTime() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.count == 0 {
		return 0
	}

	return t.total / time.Duration(t.count)
}

// MaxTime returns the longest duration of a finished task.
func (t *AverageTimeTracer) MaxTime() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.longest
}

// TotalCount returns the number of finished tasks.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count
}

// InFlight returns the number of tasks started but not finished.
func (t *AverageTimeTracer) InFlight() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.started)
}

// StartTask notes the start time of the task.
func (t *AverageTimeTracer) StartTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	now := t.clock.CurrentTime()

	t.lock.Lock()
	t.started[task.ID] = now
	t.lock.Unlock()
}

// StepTask ignores steps.
func (t *AverageTimeTracer) StepTask(Task) {}

// EndTask adds the duration of the task.
func (t *AverageTimeTracer) EndTask(task Task) {
	now := t.clock.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.started[task.ID]
	if !ok {
		return
	}

	delete(t.started, task.ID)

	d := now.Sub(start)
	t.count++
	t.total += d
	t.longest = max(t.longest, d)
}
