package tracing

import (
	"strings"
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/firmhook/datarecording"
)

// TraceTable is the table DBTracer writes.
const TraceTable = "trace"

// TraceEntry is a row of the trace table.
type TraceEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	Steps     string
}

// DBTracer is a tracer that stores finished tasks with a DataRecorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]Task
	enabled      bool
}

// NewDBTracer creates a new DBTracer. Tracing starts enabled.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TraceTable, TraceEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
		enabled:      true,
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// IsTracing tells whether finished tasks are written.
func (t *DBTracer) IsTracing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled
}

// EnableTracing makes the tracer write the tasks that start from now on.
func (t *DBTracer) EnableTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = true
}

// DisableTracing drops the tasks in flight and stops writing.
func (t *DBTracer) DisableTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = false
	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	startingTaskMustBeValid(task)

	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Where == "" {
		panic("task location must be set")
	}
}

// StepTask adds the steps of task to the task in flight.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	now := t.timeTeller.CurrentTime()
	for _, step := range task.Steps {
		step.Time = now
		original.Steps = append(original.Steps, step)
	}

	t.tracingTasks[task.ID] = original
}

// EndTask writes the task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	original.EndTime = t.timeTeller.CurrentTime()
	t.writeTaskToDB(original)
}

func (t *DBTracer) writeTaskToDB(task Task) {
	steps := make([]string, 0, len(task.Steps))
	for _, s := range task.Steps {
		steps = append(steps, s.What)
	}

	t.backend.InsertData(TraceTable, TraceEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: seconds(task.StartTime),
		EndTime:   seconds(task.EndTime),
		Steps:     strings.Join(steps, ","),
	})
}

// Terminate drops the tasks in flight and flushes the backend.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}
