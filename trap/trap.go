// Package trap defines the contract between the intercept engine and the
// instruction-set emulator that runs the firmware.
//
// The emulator reports every breakpoint or watchpoint hit to a Listener, on
// the emulator's own goroutine, and does not resume the guest until the
// listener returns and asks it to continue.
package trap

import (
	"context"
	"fmt"
)

// BreakpointID is the emulator-assigned identifier of an installed
// breakpoint or watchpoint.
type BreakpointID int

// WatchKind selects whether an intercept is an execution breakpoint or a data
// watchpoint, and which accesses the watchpoint triggers on.
type WatchKind int

// The watch kinds.
const (
	WatchNone WatchKind = iota
	WatchRead
	WatchWrite
	WatchReadWrite
)

// ParseWatchKind converts the configuration spelling of a watch kind. The
// empty string means an execution breakpoint.
func ParseWatchKind(s string) (WatchKind, error) {
	switch s {
	case "":
		return WatchNone, nil
	case "r":
		return WatchRead, nil
	case "w":
		return WatchWrite, nil
	case "rw":
		return WatchReadWrite, nil
	}

	return WatchNone, fmt.Errorf("invalid watchpoint kind %q, want r, w or rw", s)
}

func (k WatchKind) String() string {
	switch k {
	case WatchNone:
		return "exec"
	case WatchRead:
		return "r"
	case WatchWrite:
		return "w"
	case WatchReadWrite:
		return "rw"
	}

	return fmt.Sprintf("WatchKind(%d)", int(k))
}

// A Listener receives trap notifications from the emulator.
type Listener interface {
	// HandleTrap is called synchronously when the guest hits the breakpoint
	// or watchpoint with the given ID.
	HandleTrap(id BreakpointID) error
}

// A Target is the emulator as seen by the intercept engine.
type Target interface {
	// InstallBreakpoint installs an execution breakpoint. One-shot
	// breakpoints are removed by the emulator after their first hit.
	InstallBreakpoint(addr uint64, oneShot bool) (BreakpointID, error)

	// InstallWatchpoint installs a data watchpoint of the given kind.
	InstallWatchpoint(addr uint64, kind WatchKind) (BreakpointID, error)

	// Remove removes a breakpoint or a watchpoint.
	Remove(id BreakpointID) error

	// ReadMemory reads count values of width bytes each.
	ReadMemory(addr uint64, width, count int) ([]uint64, error)

	// WriteMemory writes values of width bytes each, starting at addr.
	WriteMemory(addr uint64, width int, values []uint64) error

	// ReadRegister reads a register by its architectural name.
	ReadRegister(name string) (uint64, error)

	// WriteRegister writes a register by its architectural name.
	WriteRegister(name string, value uint64) error

	// Assemble encodes a single instruction of the target architecture.
	Assemble(text string) ([]byte, error)

	// Continue resumes the guest after a trap has been handled.
	Continue() error

	// SetTrapListener sets the listener that receives traps.
	SetTrapListener(l Listener)
}

// An InterruptController can raise interrupts in the guest. Targets that
// support interrupt injection implement it in addition to Target.
type InterruptController interface {
	TriggerInterrupt(num int) error
	SetVectorBase(base uint64) error
}

// A Runner is a Target that drives the guest on its own, delivering traps to
// its listener until the context is cancelled or the guest stops.
type Runner interface {
	Run(ctx context.Context) error
}

// A Stopper is a Target that can be shut down.
type Stopper interface {
	Stop() error
}
