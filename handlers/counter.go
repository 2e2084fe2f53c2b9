package handlers

import (
	"time"

	"github.com/sarchlab/firmhook/intercept"
)

// CounterClass returns an increasing value on each hit. Each location
// counts on its own, starting from zero.
//
//	registration_args: {increment: 1}
var CounterClass = intercept.Class{
	Name: "Counter",
	New: func(*intercept.Env, intercept.Args) (intercept.Handler, error) {
		return NewCounter(), nil
	},
}

// Counter serves CounterClass.
type Counter struct {
	Counts     map[uint64]uint64
	Increments map[uint64]uint64
}

// NewCounter creates a counter with no locations.
func NewCounter() *Counter {
	return &Counter{
		Counts:     make(map[uint64]uint64),
		Increments: make(map[uint64]uint64),
	}
}

// Entries declares the catch-all get_value entry point.
func (c *Counter) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{{
		Name:    "get_value",
		Aliases: []string{intercept.AnyFunction},
		Register: func(r intercept.Registration) (intercept.Method, error) {
			inc, err := r.Args.Uint("increment", 1)
			if err != nil {
				return nil, err
			}

			c.Counts[r.Addr] = 0
			c.Increments[r.Addr] = inc

			return c.getValue, nil
		},
	}}
}

func (c *Counter) getValue(t *intercept.Trap) (intercept.Result, error) {
	v := c.Counts[t.Addr]
	c.Counts[t.Addr] = v + c.Increments[t.Addr]

	return intercept.Return(v), nil
}

// TimerClass returns the host milliseconds elapsed since the location was
// registered, divided by scale.
//
//	registration_args: {scale: 1}
var TimerClass = intercept.Class{
	Name: "Timer",
	New: func(*intercept.Env, intercept.Args) (intercept.Handler, error) {
		return NewTimer(time.Now), nil
	},
}

// Timer serves TimerClass.
type Timer struct {
	Starts map[uint64]time.Time
	Scales map[uint64]float64

	now func() time.Time
}

// NewTimer creates a timer that reads the time from now.
func NewTimer(now func() time.Time) *Timer {
	return &Timer{
		Starts: make(map[uint64]time.Time),
		Scales: make(map[uint64]float64),
		now:    now,
	}
}

// Entries declares the catch-all get_value entry point.
func (h *Timer) Entries() []intercept.HandlerEntry {
	return []intercept.HandlerEntry{{
		Name:    "get_value",
		Aliases: []string{intercept.AnyFunction},
		Register: func(r intercept.Registration) (intercept.Method, error) {
			scale, err := r.Args.Float("scale", 1)
			if err != nil {
				return nil, err
			}

			if scale <= 0 {
				return nil, errNonPositive("scale")
			}

			h.Starts[r.Addr] = h.now()
			h.Scales[r.Addr] = scale

			return h.getValue, nil
		},
	}}
}

func (h *Timer) getValue(t *intercept.Trap) (intercept.Result, error) {
	elapsed := h.now().Sub(h.Starts[t.Addr])
	ms := uint64(float64(elapsed.Milliseconds()) / h.Scales[t.Addr])

	t.Logger().Debug("time", "ms", ms)

	return intercept.Return(ms), nil
}
