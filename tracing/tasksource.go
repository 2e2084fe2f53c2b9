package tracing

import (
	"fmt"
	"sync"

	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/sim"
)

// Task kinds produced by a TaskSource.
const (
	KindTrap      = "trap"
	KindGuestCall = "guest_call"
)

// Steps added to trap tasks when the handler returns.
const (
	StepIntercepted = "intercepted"
	StepPassThrough = "pass_through"
	StepError       = "error"
)

// StepNoContinuation ends a guest call that returns straight to its caller.
const StepNoContinuation = "no_continuation"

// A TaskSource turns the hooks of a dispatcher and an injector into tasks.
// Serving a trap is a task. A guest call is a task that starts in the
// issuing trap and ends when its continuation trap is reached, and the
// continuation trap is its child.
//
// Attach the source to the dispatcher and the injector with AcceptHook,
// then collect its tasks with CollectTrace.
type TaskSource struct {
	*sim.HookableBase

	name string

	lock  sync.Mutex
	traps []string
	calls map[uint64][]string
}

// NewTaskSource creates a task source.
func NewTaskSource(name string) *TaskSource {
	sim.NameMustBeValid(name)

	return &TaskSource{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		calls:        make(map[uint64][]string),
	}
}

// Name returns the name of the source.
func (s *TaskSource) Name() string {
	return s.name
}

// Func reacts to the dispatcher and injector hooks.
func (s *TaskSource) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case intercept.HookPosBeforeTrap:
		s.trapStarted(ctx.Item.(intercept.Binding))
	case intercept.HookPosAfterTrap:
		s.trapEnded(ctx.Detail.(intercept.TrapOutcome))
	case guestcall.HookPosCallIssued:
		s.callIssued(ctx.Item.(guestcall.CallInfo))
	}
}

func (s *TaskSource) trapStarted(b intercept.Binding) {
	id := sim.GetIDGenerator().Generate()

	s.lock.Lock()
	parent := ""
	if pending := s.calls[b.Addr]; len(pending) > 0 {
		parent = pending[len(pending)-1]
		s.calls[b.Addr] = pending[:len(pending)-1]
	}
	s.traps = append(s.traps, id)
	s.lock.Unlock()

	if parent != "" {
		EndTask(parent, s)
	}

	StartTask(id, parent, s, KindTrap, b.Class+"."+b.Function,
		fmt.Sprintf("%#x", b.Addr), b)
}

func (s *TaskSource) trapEnded(outcome intercept.TrapOutcome) {
	s.lock.Lock()
	if len(s.traps) == 0 {
		s.lock.Unlock()
		return
	}

	id := s.traps[len(s.traps)-1]
	s.traps = s.traps[:len(s.traps)-1]
	s.lock.Unlock()

	switch {
	case outcome.Err != nil:
		AddTaskStep(id, s, StepError)
	case outcome.Result.Intercept:
		AddTaskStep(id, s, StepIntercepted)
	default:
		AddTaskStep(id, s, StepPassThrough)
	}

	EndTask(id, s)
}

func (s *TaskSource) callIssued(info guestcall.CallInfo) {
	id := sim.GetIDGenerator().Generate()

	s.lock.Lock()
	parent := ""
	if len(s.traps) > 0 {
		parent = s.traps[len(s.traps)-1]
	}

	if info.TrapAddr != 0 {
		s.calls[info.TrapAddr] = append(s.calls[info.TrapAddr], id)
	}
	s.lock.Unlock()

	what := info.Symbol
	if what == "" {
		what = fmt.Sprintf("%#x", info.Target)
	}

	StartTask(id, parent, s, KindGuestCall, what,
		fmt.Sprintf("%#x", info.StubBase), info)

	if info.TrapAddr == 0 {
		AddTaskStep(id, s, StepNoContinuation)
		EndTask(id, s)
	}
}
