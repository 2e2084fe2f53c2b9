package tracing

import (
	"slices"
	"sync"
)

// StepCountTracer tallies the steps reached by the traced tasks. Each step is
// counted once per task, both overall and per task subject, so a trap tracer
// tells how often each intercepted function passed through or failed.
type StepCountTracer struct {
	filter TaskFilter

	lock      sync.Mutex
	open      map[string]Task
	steps     []string
	total     map[string]uint64
	bySubject map[string]map[string]uint64
}

// NewStepCountTracer creates a tracer that counts the tasks accepted by filter.
// A nil filter accepts every task.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:    filter,
		open:      make(map[string]Task),
		total:     make(map[string]uint64),
		bySubject: make(map[string]map[string]uint64),
	}
}

// Steps returns the step names in the order they were first seen.
func (t *StepCountTracer) Steps() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return slices.Clone(t.steps)
}

// Count returns how many tasks reached the step.
func (t *StepCountTracer) Count(step string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.total[step]
}

// Counts returns the number of tasks per step.
func (t *StepCountTracer) Counts() map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	m := make(map[string]uint64, len(t.total))
	for k, v := range t.total {
		m[k] = v
	}

	return m
}

// Subjects returns, for one step, how many tasks of each subject reached it.
func (t *StepCountTracer) Subjects(step string) map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	m := make(map[string]uint64, len(t.bySubject[step]))
	for k, v := range t.bySubject[step] {
		m[k] = v
	}

	return m
}

// StartTask starts following a task.
func (t *StepCountTracer) StartTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	task.Steps = nil

	t.lock.Lock()
	t.open[task.ID] = task
	t.lock.Unlock()
}

// StepTask counts the step if the task has not reached it before.
func (t *StepCountTracer) StepTask(task Task) {
	if len(task.Steps) == 0 {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	followed, ok := t.open[task.ID]
	if !ok {
		return
	}

	step := task.Steps[0].What
	reached := slices.ContainsFunc(followed.Steps, func(s TaskStep) bool {
		return s.What == step
	})

	followed.Steps = append(followed.Steps, task.Steps[0])
	t.open[task.ID] = followed

	if reached {
		return
	}

	if _, seen := t.total[step]; !seen {
		t.steps = append(t.steps, step)
		t.bySubject[step] = make(map[string]uint64)
	}

	t.total[step]++
	t.bySubject[step][followed.What]++
}

// EndTask stops following the task.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.open, task.ID)
	t.lock.Unlock()
}
