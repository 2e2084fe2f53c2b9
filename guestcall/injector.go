// Package guestcall runs guest functions on behalf of trap handlers.
//
// A call is injected by saving the link register on the guest stack,
// marshalling the arguments, and pointing the program counter at a small
// stub in scratch memory. The stub calls the target and returns to the
// caller of the intercepted function. A breakpoint on the stub's final
// return instruction runs the handler's continuation. Stubs are cached by
// call shape.
package guestcall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/trap"
)

// HookPosCallIssued triggers when a call is set up. The item is a CallInfo.
var HookPosCallIssued = &sim.HookPos{Name: "Call Issued"}

// HookPosStubCreated triggers when a new stub is written. The item is a
// StubInfo.
var HookPosStubCreated = &sim.HookPos{Name: "Stub Created"}

// A Binder binds continuation breakpoints.
type Binder interface {
	Bind(addr uint64, c intercept.Continuation) (trap.BreakpointID, error)

	// ClassName returns the name of the class instance h was created as.
	ClassName(h intercept.Handler) string
}

// CallStubKey identifies a call shape. Calls of the same shape share a
// stub. Handler is the class name of the continuation's handler instance,
// so two instances of one handler type never share a continuation.
type CallStubKey struct {
	Handler string
	Entry   intercept.EntryPoint
	Target  uint64
	NArgs   int
}

type stub struct {
	key      CallStubKey
	block    *scratch.Block
	trapAddr uint64
	bp       trap.BreakpointID
	listing  []string
}

// StubInfo describes a cached stub.
type StubInfo struct {
	Handler  string   `json:"handler"`
	Entry    string   `json:"entry"`
	Target   uint64   `json:"target"`
	NArgs    int      `json:"nargs"`
	Base     uint64   `json:"base"`
	Size     uint64   `json:"size"`
	TrapAddr uint64   `json:"trap_addr"`
	Listing  []string `json:"listing"`
}

// CallInfo describes an issued call.
type CallInfo struct {
	Target   uint64
	Symbol   string
	Args     []uint64
	StubBase uint64
	Reused   bool

	// TrapAddr is where the continuation runs. It is zero when the call has
	// no continuation.
	TrapAddr uint64
}

// An Injector issues guest calls.
//
// Calls are issued from the emulator goroutine. Stubs may be listed from
// any goroutine.
type Injector struct {
	*sim.HookableBase

	target  trap.Target
	arch    *arch.Arch
	heap    *scratch.Heap
	binder  Binder
	symbols intercept.SymbolTable
	logger  *slog.Logger

	lock  sync.Mutex
	stubs map[CallStubKey]*stub
}

// Heap returns the scratch heap.
func (i *Injector) Heap() *scratch.Heap {
	return i.heap
}

func (i *Injector) callInfo(
	s *stub,
	target intercept.CallTarget,
	args []uint64,
	reused bool,
	cont intercept.Continuation,
) CallInfo {
	info := CallInfo{
		Target:   s.key.Target,
		Symbol:   target.Symbol,
		Args:     append([]uint64(nil), args...),
		StubBase: s.block.Base,
		Reused:   reused,
	}

	if !cont.IsZero() {
		info.TrapAddr = s.trapAddr
	}

	return info
}

// Invoke makes the guest call target with args once the current trap
// returns. When the callee returns, the continuation runs at the stub's
// return instruction, with the callee's result in the return register.
// Invoke returns the Result the calling handler must return.
func (i *Injector) Invoke(
	target intercept.CallTarget,
	args []uint64,
	cont intercept.Continuation,
) (intercept.Result, error) {
	addr, err := i.resolve(target)
	if err != nil {
		return intercept.Result{}, err
	}

	if err := i.shapeMustBeSupported(target, args); err != nil {
		return intercept.Result{}, err
	}

	key := CallStubKey{
		Entry:  cont.Entry,
		Target: addr,
		NArgs:  len(args),
	}
	if !cont.IsZero() {
		key.Handler = i.binder.ClassName(cont.Handler)
	}

	i.lock.Lock()
	s, reused := i.stubs[key]
	i.lock.Unlock()

	if !reused {
		s, err = i.createStub(key, target, cont)
		if err != nil {
			return intercept.Result{}, err
		}
	}

	if err := i.pushLinkRegister(); err != nil {
		return intercept.Result{}, err
	}

	if err := i.setArgs(args); err != nil {
		return intercept.Result{}, err
	}

	if err := i.target.WriteRegister(i.arch.PCReg, s.block.Base); err != nil {
		return intercept.Result{}, err
	}

	i.logger.Debug("guest call issued",
		"target", target.String(),
		"addr", fmt.Sprintf("%#x", addr),
		"nargs", len(args),
		"stub", fmt.Sprintf("%#x", s.block.Base),
		"reused", reused)

	if i.NumHooks() > 0 {
		i.InvokeHook(sim.HookCtx{
			Domain: i,
			Pos:    HookPosCallIssued,
			Item:   i.callInfo(s, target, args, reused, cont),
		})
	}

	return intercept.PassThrough(), nil
}

// InvokeVariadic always fails. Calls to variadic functions are not
// supported.
func (i *Injector) InvokeVariadic(
	target intercept.CallTarget,
	args []uint64,
	_ intercept.Continuation,
) (intercept.Result, error) {
	return intercept.Result{}, &UnsupportedCallShapeError{
		Target: target.String(),
		NArgs:  len(args),
		Reason: "variadic calls are not supported",
	}
}

func (i *Injector) resolve(target intercept.CallTarget) (uint64, error) {
	if target.Symbol == "" {
		return i.arch.CodeAddr(target.Addr), nil
	}

	if i.symbols == nil {
		return 0, &UnresolvedSymbolError{Symbol: target.Symbol}
	}

	addr, ok := i.symbols.Lookup(target.Symbol)
	if !ok {
		return 0, &UnresolvedSymbolError{Symbol: target.Symbol}
	}

	return i.arch.CodeAddr(addr), nil
}

func (i *Injector) shapeMustBeSupported(
	target intercept.CallTarget,
	args []uint64,
) error {
	mask := i.arch.ReturnMask()
	for n, v := range args {
		if v&^mask != 0 {
			return &UnsupportedCallShapeError{
				Target: target.String(),
				NArgs:  len(args),
				Reason: fmt.Sprintf("argument %d (%#x) is wider than %d bytes",
					n, v, i.arch.PointerSize),
			}
		}
	}

	return nil
}

func (i *Injector) createStub(
	key CallStubKey,
	target intercept.CallTarget,
	cont intercept.Continuation,
) (*stub, error) {
	code, err := i.arch.CallStub(key.Target, i.arch.StackArgBytes(key.NArgs))
	if err != nil {
		return nil, &UnsupportedCallShapeError{
			Target: target.String(),
			NArgs:  key.NArgs,
			Reason: "no stub for this call",
			Err:    err,
		}
	}

	block, err := i.heap.Allocate(uint64(len(code.Code)))
	if err != nil {
		return nil, err
	}

	if err := trap.WriteBytes(i.target, block.Base, code.Code); err != nil {
		_ = i.heap.Free(block)
		return nil, fmt.Errorf("writing call stub at %#x: %w", block.Base, err)
	}

	s := &stub{
		key:      key,
		block:    block,
		trapAddr: block.Base + code.TrapOffset,
		listing:  code.Listing,
	}

	if !cont.IsZero() {
		s.bp, err = i.binder.Bind(s.trapAddr, cont)
		if err != nil {
			_ = i.heap.Free(block)
			return nil, fmt.Errorf("binding continuation %s: %w", cont.Entry, err)
		}
	}

	i.lock.Lock()
	i.stubs[key] = s
	i.lock.Unlock()

	i.logStub(s)

	if i.NumHooks() > 0 {
		i.InvokeHook(sim.HookCtx{
			Domain: i,
			Pos:    HookPosStubCreated,
			Item:   s.info(),
		})
	}

	return s, nil
}

func (i *Injector) logStub(s *stub) {
	if !i.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	code, err := trap.ReadBytes(i.target, s.block.Base, int(s.block.Size))
	if err != nil {
		i.logger.Debug("cannot read back stub", "err", err)
		return
	}

	for _, inst := range i.arch.Disassemble(code, s.block.Base) {
		i.logger.Debug("injected",
			"addr", fmt.Sprintf("%#x", inst.Addr),
			"bytes", fmt.Sprintf("%x", inst.Raw),
			"inst", inst.Text)
	}
}

// pushLinkRegister saves the link register on the guest stack. The stub
// restores it before returning to the caller.
func (i *Injector) pushLinkRegister() error {
	a := i.arch

	sp, err := i.target.ReadRegister(a.SPReg)
	if err != nil {
		return err
	}

	lr, err := i.target.ReadRegister(a.LinkReg)
	if err != nil {
		return err
	}

	sp -= uint64(a.LinkSlot)
	if err := trap.WriteWord(i.target, sp, a.PointerSize, lr); err != nil {
		return err
	}

	return i.target.WriteRegister(a.SPReg, sp)
}

// setArgs puts the leading arguments in registers and the rest on the
// stack, the first stack argument at the lowest address.
func (i *Injector) setArgs(args []uint64) error {
	a := i.arch

	for n, v := range args {
		if n >= len(a.ArgRegs) {
			break
		}

		if err := i.target.WriteRegister(a.ArgRegs[n], v); err != nil {
			return err
		}
	}

	area := a.StackArgBytes(len(args))
	if area == 0 {
		return nil
	}

	sp, err := i.target.ReadRegister(a.SPReg)
	if err != nil {
		return err
	}

	sp -= uint64(area)
	overflow := args[len(a.ArgRegs):]
	if err := i.target.WriteMemory(sp, a.PointerSize, overflow); err != nil {
		return err
	}

	return i.target.WriteRegister(a.SPReg, sp)
}

// WriteBuffer copies data into a fresh scratch block.
func (i *Injector) WriteBuffer(data []byte) (*scratch.Block, error) {
	block, err := i.heap.Allocate(uint64(len(data)))
	if err != nil {
		return nil, err
	}

	if err := trap.WriteBytes(i.target, block.Base, data); err != nil {
		_ = i.heap.Free(block)
		return nil, err
	}

	return block, nil
}

// Alloc reserves a scratch block without writing it.
func (i *Injector) Alloc(size uint64) (*scratch.Block, error) {
	return i.heap.Allocate(size)
}

// Free releases a scratch block.
func (i *Injector) Free(b *scratch.Block) error {
	return i.heap.Free(b)
}

// Stubs describes the cached stubs, ordered by address.
func (i *Injector) Stubs() []StubInfo {
	i.lock.Lock()
	defer i.lock.Unlock()

	infos := make([]StubInfo, 0, len(i.stubs))
	for _, s := range i.stubs {
		infos = append(infos, s.info())
	}

	sort.Slice(infos, func(a, b int) bool { return infos[a].Base < infos[b].Base })

	return infos
}

func (s *stub) info() StubInfo {
	handler := "<none>"
	if s.key.Handler != "" {
		handler = s.key.Handler
	}

	return StubInfo{
		Handler:  handler,
		Entry:    string(s.key.Entry),
		Target:   s.key.Target,
		NArgs:    s.key.NArgs,
		Base:     s.block.Base,
		Size:     s.block.Size,
		TrapAddr: s.trapAddr,
		Listing:  s.listing,
	}
}
