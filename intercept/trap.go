package intercept

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/firmhook/trap"
)

// A Trap is one hit of a bound breakpoint or watchpoint.
type Trap struct {
	ID      trap.BreakpointID
	Addr    uint64
	Binding Binding
	Env     *Env
}

// Target returns the emulator.
func (t *Trap) Target() trap.Target {
	return t.Env.Target
}

// Logger returns a logger annotated with the trap location.
func (t *Trap) Logger() *slog.Logger {
	return t.Env.logger().With(
		"bp", int(t.ID),
		"addr", hexAddr(t.Addr),
		"class", t.Binding.Class,
		"function", t.Binding.Function,
	)
}

// Arg reads the i-th argument of the intercepted function, from registers
// first and then from the stack.
func (t *Trap) Arg(i int) (uint64, error) {
	if i < 0 {
		return 0, fmt.Errorf("argument index %d is negative", i)
	}

	a := t.Env.Arch
	if i < len(a.ArgRegs) {
		return t.Env.Target.ReadRegister(a.ArgRegs[i])
	}

	sp, err := t.Env.Target.ReadRegister(a.SPReg)
	if err != nil {
		return 0, err
	}

	addr := sp + uint64((i-len(a.ArgRegs))*a.PointerSize)

	return trap.ReadWord(t.Env.Target, addr, a.PointerSize)
}

// Args reads the first n arguments.
func (t *Trap) Args(n int) ([]uint64, error) {
	args := make([]uint64, n)
	for i := range args {
		v, err := t.Arg(i)
		if err != nil {
			return nil, err
		}

		args[i] = v
	}

	return args, nil
}

// ReturnAddr reads the address the intercepted function returns to.
func (t *Trap) ReturnAddr() (uint64, error) {
	lr, err := t.Env.Target.ReadRegister(t.Env.Arch.LinkReg)
	if err != nil {
		return 0, err
	}

	return t.Env.Arch.CodeAddr(lr), nil
}

// ReturnValue reads the return register. Continuations use it to get the
// result of the injected call.
func (t *Trap) ReturnValue() (uint64, error) {
	return t.Env.Target.ReadRegister(t.Env.Arch.ReturnReg)
}

// ReadString reads a NUL-terminated string from the guest.
func (t *Trap) ReadString(addr uint64, max int) (string, error) {
	return trap.ReadCString(t.Env.Target, addr, max)
}

// ReadBytes reads raw bytes from the guest.
func (t *Trap) ReadBytes(addr uint64, n int) ([]byte, error) {
	return trap.ReadBytes(t.Env.Target, addr, n)
}

// WriteBytes writes raw bytes to the guest.
func (t *Trap) WriteBytes(addr uint64, data []byte) error {
	return trap.WriteBytes(t.Env.Target, addr, data)
}
