package tracing

import "time"

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time time.Time `json:"time"`
	What string    `json:"what"`
}

// A Task is a unit of work seen by the engine: serving a trap, or a guest
// call running until its continuation.
type Task struct {
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id"`
	Kind      string     `json:"kind"`
	What      string     `json:"what"`
	Where     string     `json:"where"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Steps     []TaskStep `json:"steps"`
	Detail    any        `json:"-"`
}

// Duration returns how long the task took.
func (t Task) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// KindFilter keeps the tasks of one kind.
func KindFilter(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}

// A TimeTeller tells the current time.
type TimeTeller interface {
	CurrentTime() time.Time
}

// WallClock tells the host time.
type WallClock struct{}

// CurrentTime returns time.Now.
func (WallClock) CurrentTime() time.Time {
	return time.Now()
}

func seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}

	return float64(t.UnixNano()) / 1e9
}
