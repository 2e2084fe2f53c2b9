package intercept

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/trap"
)

// HookPosBeforeTrap triggers before a bound trap is served. The item is the
// Binding.
var HookPosBeforeTrap = &sim.HookPos{Name: "Before Trap"}

// HookPosAfterTrap triggers after a bound trap is served. The item is the
// Binding and the detail is a TrapOutcome.
var HookPosAfterTrap = &sim.HookPos{Name: "After Trap"}

// HookPosUnboundTrap triggers when the emulator reports a trap that has no
// binding. The item is the breakpoint ID.
var HookPosUnboundTrap = &sim.HookPos{Name: "Unbound Trap"}

// HookPosDuplicateIntercept triggers when a new intercept replaces an
// existing one at the same location. The item is the new Binding and the
// detail is the replaced one.
var HookPosDuplicateIntercept = &sim.HookPos{Name: "Duplicate Intercept"}

// A Binding ties an installed breakpoint or watchpoint to the method that
// serves it.
type Binding struct {
	ID       trap.BreakpointID `json:"id"`
	Addr     uint64            `json:"addr"`
	Watch    trap.WatchKind    `json:"watch"`
	OneShot  bool              `json:"one_shot"`
	Class    string            `json:"class"`
	Function string            `json:"function"`
	Hits     uint64            `json:"hits"`

	Handler Handler `json:"-"`
	Method  Method  `json:"-"`
}

// TrapOutcome is how a trap was left.
type TrapOutcome struct {
	Result Result
	Err    error
}

type location struct {
	addr  uint64
	watch trap.WatchKind
}

// A Dispatcher owns the table of bindings and serves the traps the emulator
// reports.
type Dispatcher struct {
	*sim.HookableBase

	env      *Env
	registry *Registry

	lock       sync.Mutex
	bindings   map[trap.BreakpointID]*Binding
	byLocation map[location]trap.BreakpointID

	stopped atomic.Bool
}

// NewDispatcher creates a dispatcher and makes it the trap listener of the
// environment's target.
func NewDispatcher(env *Env, registry *Registry) *Dispatcher {
	d := &Dispatcher{
		HookableBase: sim.NewHookableBase(),
		env:          env,
		registry:     registry,
		bindings:     make(map[trap.BreakpointID]*Binding),
		byLocation:   make(map[location]trap.BreakpointID),
	}

	env.Target.SetTrapListener(d)

	return d
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Register binds one intercept.
func (d *Dispatcher) Register(desc Descriptor) (trap.BreakpointID, error) {
	if !desc.Resolved {
		return 0, &UnresolvedAddressError{Descriptor: desc}
	}

	h, err := d.registry.GetOrCreate(desc.Class, desc.ClassArgs)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Source = desc.Source
		}

		return 0, err
	}

	entry, ok := findEntry(h, desc.Function)
	if !ok {
		return 0, &HandlerNotFoundError{
			Source:   desc.Source,
			Class:    desc.Class,
			Function: desc.Function,
		}
	}

	method, err := entry.Register(Registration{
		Addr:     desc.Addr,
		Function: desc.Function,
		Args:     desc.RegistrationArgs,
	})
	if err != nil {
		return 0, &ConfigError{
			Source: desc.Source,
			Class:  desc.Class,
			Msg:    fmt.Sprintf("registration of %s rejected", desc.Function),
			Err:    err,
		}
	}

	return d.install(&Binding{
		Addr:     desc.Addr,
		Watch:    desc.Watch,
		OneShot:  desc.RunOnce,
		Class:    desc.Class,
		Function: desc.Function,
		Handler:  h,
		Method:   method,
	})
}

// RegisterAll binds intercepts in order. Intercepts whose location or
// function name cannot be resolved are logged and skipped. Any other error
// stops the registration and is returned.
func (d *Dispatcher) RegisterAll(descs []Descriptor) error {
	logger := d.env.logger()

	for _, desc := range descs {
		id, err := d.Register(desc)

		var unresolved *UnresolvedAddressError
		var notFound *HandlerNotFoundError

		switch {
		case err == nil:
			logger.Debug("intercept registered",
				"bp", int(id), "intercept", desc.String())
		case errors.As(err, &unresolved), errors.As(err, &notFound):
			logger.Error("intercept skipped", "err", err)
		default:
			return err
		}
	}

	return nil
}

// Bind installs a breakpoint at addr served by a continuation.
func (d *Dispatcher) Bind(addr uint64, c Continuation) (trap.BreakpointID, error) {
	if c.IsZero() {
		panic("cannot bind an empty continuation")
	}

	entry, ok := findEntry(c.Handler, string(c.Entry))
	if !ok {
		return 0, &HandlerNotFoundError{
			Source:   "continuation",
			Class:    fmt.Sprintf("%T", c.Handler),
			Function: string(c.Entry),
		}
	}

	method, err := entry.Register(Registration{
		Addr:     addr,
		Function: string(c.Entry),
	})
	if err != nil {
		return 0, err
	}

	return d.install(&Binding{
		Addr:     addr,
		Class:    d.ClassName(c.Handler),
		Function: string(c.Entry),
		Handler:  c.Handler,
		Method:   method,
	})
}

// ClassName returns the registry name of a handler instance, or its Go type
// when the registry did not create it.
func (d *Dispatcher) ClassName(h Handler) string {
	for name, inst := range d.registry.Instances() {
		if inst == h {
			return name
		}
	}

	return fmt.Sprintf("%T", h)
}

func (d *Dispatcher) install(b *Binding) (trap.BreakpointID, error) {
	var (
		id  trap.BreakpointID
		err error
	)

	if b.Watch != trap.WatchNone {
		id, err = d.env.Target.InstallWatchpoint(b.Addr, b.Watch)
	} else {
		id, err = d.env.Target.InstallBreakpoint(b.Addr, b.OneShot)
	}

	if err != nil {
		return 0, fmt.Errorf("installing %s.%s at %#x: %w",
			b.Class, b.Function, b.Addr, err)
	}

	b.ID = id
	loc := location{addr: b.Addr, watch: b.Watch}

	d.lock.Lock()
	oldID, dup := d.byLocation[loc]
	var old *Binding
	if dup {
		old = d.bindings[oldID]
		delete(d.bindings, oldID)
	}

	d.bindings[id] = b
	d.byLocation[loc] = id
	d.lock.Unlock()

	if dup {
		d.replaced(b, old)
	}

	return id, nil
}

func (d *Dispatcher) replaced(b, old *Binding) {
	d.env.logger().Warn("duplicate intercept replaces the existing one",
		"addr", hexAddr(b.Addr),
		"old", old.Class+"."+old.Function,
		"new", b.Class+"."+b.Function)

	if err := d.env.Target.Remove(old.ID); err != nil {
		d.env.logger().Warn("cannot remove replaced breakpoint",
			"bp", int(old.ID), "err", err)
	}

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: d,
			Pos:    HookPosDuplicateIntercept,
			Item:   *b,
			Detail: *old,
		})
	}
}

// Remove removes a binding and its breakpoint.
func (d *Dispatcher) Remove(id trap.BreakpointID) error {
	d.lock.Lock()
	b, ok := d.bindings[id]
	if ok {
		d.forget(b)
	}
	d.lock.Unlock()

	if !ok {
		return fmt.Errorf("no binding for breakpoint %d", id)
	}

	return d.env.Target.Remove(id)
}

func (d *Dispatcher) forget(b *Binding) {
	delete(d.bindings, b.ID)

	loc := location{addr: b.Addr, watch: b.Watch}
	if d.byLocation[loc] == b.ID {
		delete(d.byLocation, loc)
	}
}

// Bindings returns a snapshot of the bindings, ordered by breakpoint ID.
func (d *Dispatcher) Bindings() []Binding {
	d.lock.Lock()
	defer d.lock.Unlock()

	list := make([]Binding, 0, len(d.bindings))
	for _, b := range d.bindings {
		list = append(list, *b)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}

// Lookup returns the binding of a breakpoint.
func (d *Dispatcher) Lookup(id trap.BreakpointID) (Binding, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, ok := d.bindings[id]
	if !ok {
		return Binding{}, false
	}

	return *b, true
}

// Stop makes the dispatcher resume every later trap without serving it.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
}

// HandleTrap serves a trap reported by the emulator.
func (d *Dispatcher) HandleTrap(id trap.BreakpointID) error {
	if d.stopped.Load() {
		return d.env.Target.Continue()
	}

	d.lock.Lock()
	b, ok := d.bindings[id]
	var binding Binding
	if ok {
		b.Hits++
		binding = *b

		if b.OneShot {
			d.forget(b)
		}
	}
	d.lock.Unlock()

	if !ok {
		return d.unbound(id)
	}

	// Targets remove one-shot breakpoints themselves, but watchpoints have
	// no one-shot form.
	if binding.OneShot && binding.Watch != trap.WatchNone {
		if err := d.env.Target.Remove(id); err != nil {
			d.env.logger().Warn("cannot remove one-shot watchpoint",
				"bp", int(id), "err", err)
		}
	}

	return d.serve(id, binding)
}

func (d *Dispatcher) unbound(id trap.BreakpointID) error {
	logger := d.env.logger().With("bp", int(id))
	if pc, err := d.env.Target.ReadRegister(d.env.Arch.PCReg); err == nil {
		logger = logger.With("pc", hexAddr(pc))
	}

	logger.Warn("trap has no handler")

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: d,
			Pos:    HookPosUnboundTrap,
			Item:   id,
		})
	}

	return d.env.Target.Continue()
}

func (d *Dispatcher) serve(id trap.BreakpointID, b Binding) error {
	t := &Trap{ID: id, Addr: b.Addr, Binding: b, Env: d.env}

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{Domain: d, Pos: HookPosBeforeTrap, Item: b})
	}

	result, err := b.Method(t)

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: d,
			Pos:    HookPosAfterTrap,
			Item:   b,
			Detail: TrapOutcome{Result: result, Err: err},
		})
	}

	if err != nil {
		herr := &HandlerError{
			ID:       id,
			Addr:     b.Addr,
			Class:    b.Class,
			Function: b.Function,
			Err:      err,
		}
		t.Logger().Error("handler failed", "err", err)

		return herr
	}

	if result.Intercept {
		if err := d.executeReturn(result); err != nil {
			return fmt.Errorf("returning from %s.%s at %#x: %w",
				b.Class, b.Function, b.Addr, err)
		}
	}

	return d.env.Target.Continue()
}

// executeReturn puts the return value in place and sends the guest back to
// the caller of the intercepted function.
func (d *Dispatcher) executeReturn(r Result) error {
	a := d.env.Arch
	tgt := d.env.Target

	if r.HasValue {
		err := tgt.WriteRegister(a.ReturnReg, r.Value&a.ReturnMask())
		if err != nil {
			return err
		}
	}

	lr, err := tgt.ReadRegister(a.LinkReg)
	if err != nil {
		return err
	}

	return tgt.WriteRegister(a.PCReg, a.CodeAddr(lr))
}
