package gdbrsp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/trap"
)

// vtor is the vector table offset register of ARMv7-M cores.
const vtor = 0xE000_ED08

type breakpoint struct {
	id      trap.BreakpointID
	addr    uint64
	oneShot bool
	watch   trap.WatchKind
}

// A Target is a trap.Target backed by a remote gdbstub.
type Target struct {
	conn             *Conn
	closer           io.Closer
	arch             *arch.Arch
	logger           *slog.Logger
	interruptCommand string
	maxRead          int
	maxWrite         int

	// lock serializes packet exchanges and guards the fields below.
	lock        sync.Mutex
	running     bool
	interrupted bool
	pending     []int
	bps         map[trap.BreakpointID]*breakpoint
	nextID      trap.BreakpointID
	listener    trap.Listener
	resume      bool
	exited      bool
	exitCode    int
	closed      bool
}

var (
	_ trap.Target              = (*Target)(nil)
	_ trap.Runner              = (*Target)(nil)
	_ trap.Stopper             = (*Target)(nil)
	_ trap.InterruptController = (*Target)(nil)
)

// Arch returns the architecture of the guest.
func (t *Target) Arch() *arch.Arch {
	return t.arch
}

// roundTrip sends a request and returns the reply. The lock must be held.
func (t *Target) roundTrip(req string) (string, error) {
	if t.running {
		return "", fmt.Errorf("gdbrsp: %q sent while the guest runs", req)
	}

	if err := t.conn.WritePacket(req); err != nil {
		return "", err
	}

	reply, err := t.conn.ReadPacket()
	if err != nil {
		return "", err
	}

	if err := replyError(req, reply); err != nil {
		return "", err
	}

	return reply, nil
}

func (t *Target) expectOK(req string) error {
	reply, err := t.roundTrip(req)
	if err != nil {
		return err
	}

	if reply != "OK" {
		return fmt.Errorf("gdbrsp: %q not supported by the stub (reply %q)",
			req, reply)
	}

	return nil
}

func zType(kind trap.WatchKind) int {
	switch kind {
	case trap.WatchWrite:
		return 2
	case trap.WatchRead:
		return 3
	case trap.WatchReadWrite:
		return 4
	}

	return 0
}

func (t *Target) zKind(bp *breakpoint) int {
	if bp.watch == trap.WatchNone && t.arch.Thumb {
		return 2
	}

	return t.arch.PointerSize
}

func (t *Target) insert(bp *breakpoint) error {
	return t.expectOK(fmt.Sprintf("Z%d,%x,%d", zType(bp.watch), bp.addr, t.zKind(bp)))
}

func (t *Target) erase(bp *breakpoint) error {
	return t.expectOK(fmt.Sprintf("z%d,%x,%d", zType(bp.watch), bp.addr, t.zKind(bp)))
}

// InstallBreakpoint installs a software breakpoint.
func (t *Target) InstallBreakpoint(
	addr uint64,
	oneShot bool,
) (trap.BreakpointID, error) {
	return t.install(&breakpoint{addr: t.arch.CodeAddr(addr), oneShot: oneShot})
}

// InstallWatchpoint installs a watchpoint covering one word at addr.
func (t *Target) InstallWatchpoint(
	addr uint64,
	kind trap.WatchKind,
) (trap.BreakpointID, error) {
	if kind == trap.WatchNone {
		return 0, fmt.Errorf("watchpoint at %#x has no access kind", addr)
	}

	return t.install(&breakpoint{addr: addr, watch: kind})
}

func (t *Target) install(bp *breakpoint) (trap.BreakpointID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.insert(bp); err != nil {
		return 0, err
	}

	bp.id = t.nextID
	t.nextID++
	t.bps[bp.id] = bp

	return bp.id, nil
}

// Remove removes a breakpoint or a watchpoint.
func (t *Target) Remove(id trap.BreakpointID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	bp, ok := t.bps[id]
	if !ok {
		return fmt.Errorf("no breakpoint with ID %d", id)
	}

	delete(t.bps, id)

	return t.erase(bp)
}

// ReadMemory reads count values of width bytes each.
func (t *Target) ReadMemory(addr uint64, width, count int) ([]uint64, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	data, err := t.readBytes(addr, width*count)
	if err != nil {
		return nil, err
	}

	values := make([]uint64, count)
	for i := range values {
		values[i], err = decode(t.arch, data[i*width:(i+1)*width])
		if err != nil {
			return nil, err
		}
	}

	return values, nil
}

func (t *Target) readBytes(addr uint64, n int) ([]byte, error) {
	data := make([]byte, 0, n)
	for len(data) < n {
		chunk := min(n-len(data), t.maxRead)

		reply, err := t.roundTrip(fmt.Sprintf("m%x,%x", addr+uint64(len(data)), chunk))
		if err != nil {
			return nil, err
		}

		b, err := hex.DecodeString(reply)
		if err != nil {
			return nil, fmt.Errorf("gdbrsp: memory reply: %w", err)
		}

		if len(b) != chunk {
			return nil, fmt.Errorf("gdbrsp: short read at %#x: %d of %d bytes",
				addr+uint64(len(data)), len(b), chunk)
		}

		data = append(data, b...)
	}

	return data, nil
}

// WriteMemory writes values of width bytes each.
func (t *Target) WriteMemory(addr uint64, width int, values []uint64) error {
	data := make([]byte, 0, width*len(values))
	for _, v := range values {
		b, err := encode(t.arch, width, v)
		if err != nil {
			return err
		}

		data = append(data, b...)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	for off := 0; off < len(data); off += t.maxWrite {
		chunk := data[off:min(off+t.maxWrite, len(data))]

		err := t.expectOK(fmt.Sprintf("M%x,%x:%s",
			addr+uint64(off), len(chunk), hex.EncodeToString(chunk)))
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *Target) registerNumber(name string) (int, error) {
	n, ok := t.arch.RegisterNumber(name)
	if !ok {
		return 0, fmt.Errorf("%s has no register %q", t.arch.Name, name)
	}

	return n, nil
}

// ReadRegister reads a register.
func (t *Target) ReadRegister(name string) (uint64, error) {
	n, err := t.registerNumber(name)
	if err != nil {
		return 0, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	return t.readRegister(n)
}

func (t *Target) readRegister(n int) (uint64, error) {
	reply, err := t.roundTrip(fmt.Sprintf("p%x", n))
	if err != nil {
		return 0, err
	}

	if strings.Contains(reply, "x") {
		return 0, fmt.Errorf("gdbrsp: register %d is unavailable", n)
	}

	b, err := hex.DecodeString(reply)
	if err != nil {
		return 0, fmt.Errorf("gdbrsp: register reply: %w", err)
	}

	return decode(t.arch, b)
}

// WriteRegister writes a register.
func (t *Target) WriteRegister(name string, value uint64) error {
	n, err := t.registerNumber(name)
	if err != nil {
		return err
	}

	b, err := encode(t.arch, t.arch.PointerSize, value)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	return t.expectOK(fmt.Sprintf("P%x=%s", n, hex.EncodeToString(b)))
}

// Assemble encodes one instruction of the guest architecture.
func (t *Target) Assemble(text string) ([]byte, error) {
	return t.arch.Assemble(text)
}

// Continue lets Run resume the guest once the current trap is served.
func (t *Target) Continue() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.resume = true

	return nil
}

// SetTrapListener sets the listener that receives traps.
func (t *Target) SetTrapListener(l trap.Listener) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.listener = l
}

// TriggerInterrupt injects an interrupt. While the guest runs the request is
// queued and the guest is halted to deliver it.
func (t *Target) TriggerInterrupt(num int) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.running {
		t.pending = append(t.pending, num)
		return t.interruptLocked()
	}

	return t.monitor(fmt.Sprintf(t.interruptCommand, num))
}

// SetVectorBase moves the interrupt vector table.
func (t *Target) SetVectorBase(base uint64) error {
	if !t.arch.Thumb {
		return fmt.Errorf("%s has no vector table offset register", t.arch.Name)
	}

	return t.WriteMemory(vtor, 4, []uint64{base})
}

// monitor runs a command of the stub's monitor. The lock must be held.
func (t *Target) monitor(cmd string) error {
	req := "qRcmd," + hex.EncodeToString([]byte(cmd))
	if err := t.conn.WritePacket(req); err != nil {
		return err
	}

	for {
		reply, err := t.conn.ReadPacket()
		if err != nil {
			return err
		}

		if err := replyError(cmd, reply); err != nil {
			return err
		}

		switch {
		case reply == "OK":
			return nil
		case reply == "":
			return fmt.Errorf("gdbrsp: the stub has no monitor")
		case reply[0] == 'O':
			out, _ := hex.DecodeString(reply[1:])
			t.logger.Debug("monitor output", "cmd", cmd, "out", string(out))
		default:
			out, _ := hex.DecodeString(reply)
			t.logger.Debug("monitor output", "cmd", cmd, "out", string(out))

			return nil
		}
	}
}

func (t *Target) interruptLocked() error {
	if !t.running || t.interrupted {
		return nil
	}

	t.interrupted = true

	return t.conn.WriteInterrupt()
}

// ExitCode returns the exit status of the guest, and whether it exited.
func (t *Target) ExitCode() (int, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.exitCode, t.exited
}

// Stop kills the guest and closes the connection.
func (t *Target) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	if !t.exited {
		if err := t.conn.WritePacket("k"); err != nil {
			t.logger.Debug("kill failed", "err", err)
		}
	}

	return t.closer.Close()
}

// Run resumes the guest and serves its traps until it exits, or until ctx
// is cancelled.
func (t *Target) Run(ctx context.Context) error {
	stopWatching := context.AfterFunc(ctx, func() {
		t.lock.Lock()
		defer t.lock.Unlock()

		if err := t.interruptLocked(); err != nil {
			t.logger.Warn("cannot interrupt the guest", "err", err)
		}
	})
	defer stopWatching()

	for {
		stop, err := t.resumeGuest(ctx)
		if err != nil {
			return err
		}

		if stop.Exited {
			return t.exit(stop)
		}

		if err := t.deliverInterrupts(); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := t.hits(stop)
		if err != nil {
			return err
		}

		if len(ids) == 0 && stop.Signal != SigTrap && stop.Signal != SigInt {
			return &SignalError{Signal: stop.Signal}
		}

		if err := t.serve(ids); err != nil {
			return err
		}
	}
}

func (t *Target) serve(ids []trap.BreakpointID) error {
	for _, id := range ids {
		t.lock.Lock()
		t.resume = false
		listener := t.listener
		t.lock.Unlock()

		if listener == nil {
			return fmt.Errorf("gdbrsp: no trap listener")
		}

		if err := listener.HandleTrap(id); err != nil {
			return err
		}

		t.lock.Lock()
		resumed := t.resume
		t.lock.Unlock()

		if !resumed {
			return fmt.Errorf("gdbrsp: trap %d left the guest halted", id)
		}
	}

	return nil
}

func (t *Target) exit(stop Stop) error {
	t.lock.Lock()
	t.exited = true
	t.exitCode = stop.Code
	t.lock.Unlock()

	if stop.Killed {
		return &SignalError{Signal: stop.Code}
	}

	t.logger.Info("guest exited", "code", stop.Code)

	return nil
}

func (t *Target) resumeGuest(ctx context.Context) (Stop, error) {
	t.lock.Lock()

	if err := ctx.Err(); err != nil {
		t.lock.Unlock()
		return Stop{}, err
	}

	stop, stepped, err := t.stepOver()
	if err != nil || (stepped && stop.Exited) {
		t.lock.Unlock()
		return stop, err
	}

	if err := t.conn.WritePacket("c"); err != nil {
		t.lock.Unlock()
		return Stop{}, err
	}

	t.running = true
	t.interrupted = false
	t.lock.Unlock()

	stop, err = t.readStop()

	t.lock.Lock()
	t.running = false
	t.lock.Unlock()

	return stop, err
}

// readStop waits for a stop reply, logging console output on the way.
func (t *Target) readStop() (Stop, error) {
	for {
		reply, err := t.conn.ReadPacket()
		if err != nil {
			return Stop{}, err
		}

		if len(reply) > 1 && reply[0] == 'O' && reply != "OK" {
			out, _ := hex.DecodeString(reply[1:])
			t.logger.Info("guest output", "out", string(out))

			continue
		}

		return ParseStop(reply)
	}
}

// stepOver single-steps past the breakpoints at the current PC, so that
// resuming does not hit them again. The lock must be held.
func (t *Target) stepOver() (Stop, bool, error) {
	pcNum, err := t.registerNumber(t.arch.PCReg)
	if err != nil {
		return Stop{}, false, err
	}

	pc, err := t.readRegister(pcNum)
	if err != nil {
		return Stop{}, false, err
	}

	pc = t.arch.CodeAddr(pc)

	var at *breakpoint
	for _, bp := range t.bps {
		if bp.watch == trap.WatchNone && bp.addr == pc {
			at = bp
			break
		}
	}

	if at == nil {
		return Stop{}, false, nil
	}

	if err := t.erase(at); err != nil {
		return Stop{}, false, err
	}

	if err := t.conn.WritePacket("s"); err != nil {
		return Stop{}, false, err
	}

	stop, err := t.readStop()
	if err != nil {
		return Stop{}, false, err
	}

	if stop.Exited {
		t.exited = true
		t.exitCode = stop.Code

		return stop, true, nil
	}

	return stop, true, t.insert(at)
}

// hits returns the breakpoints a stop reports, ordered by ID. One-shot
// breakpoints are removed before they are reported.
func (t *Target) hits(stop Stop) ([]trap.BreakpointID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	var match func(bp *breakpoint) bool

	switch {
	case stop.Watch != trap.WatchNone:
		match = func(bp *breakpoint) bool {
			return bp.watch == stop.Watch &&
				stop.WatchAddr >= bp.addr &&
				stop.WatchAddr < bp.addr+uint64(t.arch.PointerSize)
		}
	case stop.Signal == SigTrap:
		pcNum, err := t.registerNumber(t.arch.PCReg)
		if err != nil {
			return nil, err
		}

		pc, err := t.readRegister(pcNum)
		if err != nil {
			return nil, err
		}

		pc = t.arch.CodeAddr(pc)
		match = func(bp *breakpoint) bool {
			return bp.watch == trap.WatchNone && bp.addr == pc
		}
	default:
		return nil, nil
	}

	var ids []trap.BreakpointID
	for id, bp := range t.bps {
		if match(bp) {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		bp := t.bps[id]
		if !bp.oneShot {
			continue
		}

		delete(t.bps, id)

		if err := t.erase(bp); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func (t *Target) deliverInterrupts() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	pending := t.pending
	t.pending = nil

	for _, num := range pending {
		if err := t.monitor(fmt.Sprintf(t.interruptCommand, num)); err != nil {
			return err
		}
	}

	return nil
}

// SignalError reports a guest stopped by a signal no trap explains.
type SignalError struct {
	Signal int
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("gdbrsp: guest stopped by signal %d", e.Signal)
}

func decode(a *arch.Arch, b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(a.ByteOrder.Uint16(b)), nil
	case 4:
		return uint64(a.ByteOrder.Uint32(b)), nil
	case 8:
		return a.ByteOrder.Uint64(b), nil
	}

	return 0, fmt.Errorf("unsupported access width %d", len(b))
}

func encode(a *arch.Arch, width int, v uint64) ([]byte, error) {
	b := make([]byte, width)
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		a.ByteOrder.PutUint16(b, uint16(v))
	case 4:
		a.ByteOrder.PutUint32(b, uint32(v))
	case 8:
		a.ByteOrder.PutUint64(b, v)
	default:
		return nil, fmt.Errorf("unsupported access width %d", width)
	}

	return b, nil
}
