// Package memtarget provides an emulator stand-in that keeps registers and
// memory in host maps. Traps are raised explicitly by calling Fire or
// Access. It backs dry runs and the tests of the intercept engine.
package memtarget

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/trap"
)

// A Breakpoint is a breakpoint or a watchpoint installed in the target.
type Breakpoint struct {
	ID      trap.BreakpointID
	Addr    uint64
	OneShot bool
	Watch   trap.WatchKind
}

type region struct {
	base, size uint64
}

// Target is an in-memory trap.Target.
type Target struct {
	lock sync.Mutex

	arch     *arch.Arch
	regs     map[string]uint64
	mem      map[uint64]byte
	regions  []region
	bps      map[trap.BreakpointID]*Breakpoint
	nextID   trap.BreakpointID
	listener trap.Listener

	continues  int
	interrupts []int
	vectorBase uint64
	stopped    bool
}

// New creates a target of the given architecture with no memory mapped.
func New(a *arch.Arch) *Target {
	return &Target{
		arch:   a,
		regs:   make(map[string]uint64),
		mem:    make(map[uint64]byte),
		bps:    make(map[trap.BreakpointID]*Breakpoint),
		nextID: 1,
	}
}

// Arch returns the architecture of the target.
func (t *Target) Arch() *arch.Arch {
	return t.arch
}

// Map makes a memory range accessible.
func (t *Target) Map(base, size uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.regions = append(t.regions, region{base: base, size: size})
}

func (t *Target) mapped(addr uint64, n int) bool {
	end := addr + uint64(n)
	for _, r := range t.regions {
		if addr >= r.base && end <= r.base+r.size && end >= addr {
			return true
		}
	}

	return false
}

// InstallBreakpoint installs an execution breakpoint.
func (t *Target) InstallBreakpoint(
	addr uint64,
	oneShot bool,
) (trap.BreakpointID, error) {
	return t.install(&Breakpoint{Addr: addr, OneShot: oneShot}), nil
}

// InstallWatchpoint installs a data watchpoint.
func (t *Target) InstallWatchpoint(
	addr uint64,
	kind trap.WatchKind,
) (trap.BreakpointID, error) {
	if kind == trap.WatchNone {
		return 0, fmt.Errorf("watchpoint at %#x has no access kind", addr)
	}

	return t.install(&Breakpoint{Addr: addr, Watch: kind}), nil
}

func (t *Target) install(bp *Breakpoint) trap.BreakpointID {
	t.lock.Lock()
	defer t.lock.Unlock()

	bp.ID = t.nextID
	t.nextID++
	t.bps[bp.ID] = bp

	return bp.ID
}

// Remove removes a breakpoint or a watchpoint.
func (t *Target) Remove(id trap.BreakpointID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.bps[id]; !ok {
		return fmt.Errorf("no breakpoint with ID %d", id)
	}

	delete(t.bps, id)

	return nil
}

// Breakpoints returns the installed breakpoints ordered by ID.
func (t *Target) Breakpoints() []Breakpoint {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]Breakpoint, 0, len(t.bps))
	for _, bp := range t.bps {
		list = append(list, *bp)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}

// ReadMemory reads count values of width bytes each.
func (t *Target) ReadMemory(addr uint64, width, count int) ([]uint64, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.mapped(addr, width*count) {
		return nil, fmt.Errorf("read of %d bytes at %#x is outside mapped memory",
			width*count, addr)
	}

	values := make([]uint64, count)
	buf := make([]byte, width)
	for i := range values {
		for j := range buf {
			buf[j] = t.mem[addr+uint64(i*width+j)]
		}

		v, err := decode(t.arch.ByteOrder, buf)
		if err != nil {
			return nil, err
		}

		values[i] = v
	}

	return values, nil
}

// WriteMemory writes values of width bytes each.
func (t *Target) WriteMemory(addr uint64, width int, values []uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.mapped(addr, width*len(values)) {
		return fmt.Errorf("write of %d bytes at %#x is outside mapped memory",
			width*len(values), addr)
	}

	for i, v := range values {
		buf, err := encode(t.arch.ByteOrder, width, v)
		if err != nil {
			return err
		}

		for j, b := range buf {
			t.mem[addr+uint64(i*width+j)] = b
		}
	}

	return nil
}

func decode(order binary.ByteOrder, buf []byte) (uint64, error) {
	switch len(buf) {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 8:
		return order.Uint64(buf), nil
	}

	return 0, fmt.Errorf("unsupported access width %d", len(buf))
}

func encode(order binary.ByteOrder, width int, v uint64) ([]byte, error) {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	default:
		return nil, fmt.Errorf("unsupported access width %d", width)
	}

	return buf, nil
}

// ReadRegister reads a register.
func (t *Target) ReadRegister(name string) (uint64, error) {
	reg, err := t.register(name)
	if err != nil {
		return 0, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	return t.regs[reg], nil
}

// WriteRegister writes a register.
func (t *Target) WriteRegister(name string, value uint64) error {
	reg, err := t.register(name)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.regs[reg] = value & t.arch.ReturnMask()

	return nil
}

func (t *Target) register(name string) (string, error) {
	if _, ok := t.arch.RegisterNumber(name); !ok {
		return "", fmt.Errorf("%s has no register %q", t.arch.Name, name)
	}

	return t.arch.CanonicalRegister(name), nil
}

// Assemble encodes one instruction of the target architecture.
func (t *Target) Assemble(text string) ([]byte, error) {
	return t.arch.Assemble(text)
}

// Continue records that the guest was resumed.
func (t *Target) Continue() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.continues++

	return nil
}

// Continues returns how many times the guest was resumed.
func (t *Target) Continues() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.continues
}

// SetTrapListener sets the listener that receives traps.
func (t *Target) SetTrapListener(l trap.Listener) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.listener = l
}

// Fire simulates the guest reaching addr. The program counter is moved to
// addr and every execution breakpoint there is reported. One-shot
// breakpoints are removed before they are reported.
func (t *Target) Fire(addr uint64) error {
	if err := t.WriteRegister(t.arch.PCReg, addr); err != nil {
		return err
	}

	return t.report(func(bp *Breakpoint) bool {
		return bp.Watch == trap.WatchNone && bp.Addr == addr
	})
}

// Access simulates a guest data access of the given kind at addr and reports
// the watchpoints that cover it.
func (t *Target) Access(addr uint64, kind trap.WatchKind) error {
	return t.report(func(bp *Breakpoint) bool {
		return bp.Watch != trap.WatchNone && bp.Addr == addr &&
			bp.Watch&kind != 0
	})
}

func (t *Target) report(match func(bp *Breakpoint) bool) error {
	t.lock.Lock()

	var hits []trap.BreakpointID
	for id, bp := range t.bps {
		if match(bp) {
			hits = append(hits, id)
			if bp.OneShot {
				delete(t.bps, id)
			}
		}
	}

	listener := t.listener
	t.lock.Unlock()

	if len(hits) == 0 {
		return fmt.Errorf("no trap matches")
	}

	if listener == nil {
		return fmt.Errorf("no trap listener")
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i] < hits[j] })

	for _, id := range hits {
		if err := listener.HandleTrap(id); err != nil {
			return err
		}
	}

	return nil
}

// TriggerInterrupt records an interrupt request.
func (t *Target) TriggerInterrupt(num int) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.interrupts = append(t.interrupts, num)

	return nil
}

// SetVectorBase records the interrupt vector base.
func (t *Target) SetVectorBase(base uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.vectorBase = base

	return nil
}

// Interrupts returns the interrupts triggered so far.
func (t *Target) Interrupts() []int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]int(nil), t.interrupts...)
}

// VectorBase returns the last interrupt vector base set.
func (t *Target) VectorBase() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.vectorBase
}

// Stop marks the target as stopped.
func (t *Target) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.stopped = true

	return nil
}

// Stopped reports whether Stop was called.
func (t *Target) Stopped() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stopped
}
