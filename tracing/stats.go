package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/datarecording"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/trap"
)

// Tables written by StatsCollector.Record.
const (
	InterceptStatsTable = "intercept_stats"
	EngineStatsTable    = "engine_stats"
)

// InterceptStats counts how the traps of one binding were served.
type InterceptStats struct {
	ID            trap.BreakpointID `json:"id"`
	Addr          uint64            `json:"addr"`
	Class         string            `json:"class"`
	Function      string            `json:"function"`
	Hits          uint64            `json:"hits"`
	Intercepted   uint64            `json:"intercepted"`
	PassedThrough uint64            `json:"passed_through"`
	Errors        uint64            `json:"errors"`
}

// EngineStats sums up a run.
type EngineStats struct {
	Intercepts     int    `json:"intercepts"`
	UsedIntercepts int    `json:"used_intercepts"`
	Traps          uint64 `json:"traps"`
	UnboundTraps   uint64 `json:"unbound_traps"`
	Replaced       uint64 `json:"replaced"`
	GuestCalls     uint64 `json:"guest_calls"`
	StubsCreated   uint64 `json:"stubs_created"`
}

// InterceptStatsEntry is a row of the intercept statistics table.
type InterceptStatsEntry struct {
	BreakpointID  int
	Addr          uint64
	Class         string
	Function      string
	Hits          uint64
	Intercepted   uint64
	PassedThrough uint64
	Errors        uint64
}

// EngineStatsEntry is a row of the engine statistics table.
type EngineStatsEntry struct {
	Name  string
	Value uint64
}

// A StatsCollector is a hook that counts traps and guest calls. Attach it to
// the dispatcher and the injector.
type StatsCollector struct {
	lock     sync.Mutex
	byID     map[trap.BreakpointID]*InterceptStats
	engine   EngineStats
	recorded bool
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		byID: make(map[trap.BreakpointID]*InterceptStats),
	}
}

// Track makes bindings appear in the statistics before they are hit.
func (c *StatsCollector) Track(bindings []intercept.Binding) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, b := range bindings {
		c.entry(b)
	}
}

func (c *StatsCollector) entry(b intercept.Binding) *InterceptStats {
	s, ok := c.byID[b.ID]
	if !ok {
		s = &InterceptStats{
			ID:       b.ID,
			Addr:     b.Addr,
			Class:    b.Class,
			Function: b.Function,
		}
		c.byID[b.ID] = s
	}

	return s
}

// Func counts the event.
func (c *StatsCollector) Func(ctx sim.HookCtx) {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch ctx.Pos {
	case intercept.HookPosAfterTrap:
		c.count(ctx.Item.(intercept.Binding), ctx.Detail.(intercept.TrapOutcome))
	case intercept.HookPosUnboundTrap:
		c.engine.UnboundTraps++
	case intercept.HookPosDuplicateIntercept:
		c.engine.Replaced++
		delete(c.byID, ctx.Detail.(intercept.Binding).ID)
	case guestcall.HookPosCallIssued:
		c.engine.GuestCalls++
	case guestcall.HookPosStubCreated:
		c.engine.StubsCreated++
	}
}

func (c *StatsCollector) count(b intercept.Binding, outcome intercept.TrapOutcome) {
	s := c.entry(b)
	s.Hits++
	c.engine.Traps++

	switch {
	case outcome.Err != nil:
		s.Errors++
	case outcome.Result.Intercept:
		s.Intercepted++
	default:
		s.PassedThrough++
	}
}

// Intercepts returns the statistics of every binding, ordered by breakpoint
// ID.
func (c *StatsCollector) Intercepts() []InterceptStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	list := make([]InterceptStats, 0, len(c.byID))
	for _, s := range c.byID {
		list = append(list, *s)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}

// Engine returns the run summary.
func (c *StatsCollector) Engine() EngineStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	e := c.engine
	e.Intercepts = len(c.byID)
	for _, s := range c.byID {
		if s.Hits > 0 {
			e.UsedIntercepts++
		}
	}

	return e
}

// Record writes the statistics into two tables. It can be called once.
func (c *StatsCollector) Record(r datarecording.DataRecorder) {
	c.lock.Lock()
	if c.recorded {
		c.lock.Unlock()
		return
	}
	c.recorded = true
	c.lock.Unlock()

	r.CreateTable(InterceptStatsTable, InterceptStatsEntry{})
	r.CreateTable(EngineStatsTable, EngineStatsEntry{})

	for _, s := range c.Intercepts() {
		r.InsertData(InterceptStatsTable, InterceptStatsEntry{
			BreakpointID:  int(s.ID),
			Addr:          s.Addr,
			Class:         s.Class,
			Function:      s.Function,
			Hits:          s.Hits,
			Intercepted:   s.Intercepted,
			PassedThrough: s.PassedThrough,
			Errors:        s.Errors,
		})
	}

	e := c.Engine()
	for _, row := range []EngineStatsEntry{
		{"intercepts", uint64(e.Intercepts)},
		{"used_intercepts", uint64(e.UsedIntercepts)},
		{"traps", e.Traps},
		{"unbound_traps", e.UnboundTraps},
		{"replaced", e.Replaced},
		{"guest_calls", e.GuestCalls},
		{"stubs_created", e.StubsCreated},
	} {
		r.InsertData(EngineStatsTable, row)
	}

	r.Flush()
}
