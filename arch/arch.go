// Package arch describes the calling conventions of the guest architectures
// and synthesizes the small call stubs used to run guest functions on behalf
// of trap handlers.
package arch

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Arch describes a guest architecture.
type Arch struct {
	Name        string
	PointerSize int
	ByteOrder   binary.ByteOrder

	// ArgRegs lists the registers that carry the leading call arguments.
	// Arguments beyond them go to the stack.
	ArgRegs   []string
	ReturnReg string
	LinkReg   string
	PCReg     string
	SPReg     string

	// StackAlign is the alignment of the stack area used for overflow
	// arguments.
	StackAlign int

	// LinkSlot is the number of stack bytes used to save the link register
	// before an injected call.
	LinkSlot int

	// Thumb is set for cores that only execute Thumb code. Code addresses
	// carry the interworking bit on such cores.
	Thumb bool

	// Registers lists the register names in the order the GDB remote
	// protocol numbers them. Empty names are registers not used here.
	Registers []string

	aliases map[string]string
	isa     isa
}

type isa interface {
	forms() []form
	callStub(b *stubBuilder, target uint64, stackBytes int) error
}

var archs = map[string]*Arch{}

func register(a *Arch, names ...string) {
	for _, n := range append([]string{a.Name}, names...) {
		archs[n] = a
	}
}

// Lookup returns the architecture with the given name. Names are case
// insensitive.
func Lookup(name string) (*Arch, error) {
	a, ok := archs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q", name)
	}

	return a, nil
}

// MustLookup is like Lookup but panics on unknown names.
func MustLookup(name string) *Arch {
	a, err := Lookup(name)
	if err != nil {
		panic(err)
	}

	return a
}

// ReturnMask is the mask that truncates a value to the width of the return
// register.
func (a *Arch) ReturnMask() uint64 {
	if a.PointerSize >= 8 {
		return ^uint64(0)
	}

	return (uint64(1) << (8 * a.PointerSize)) - 1
}

// CodeAddr converts a value loaded from a link register or a function
// pointer into the address of the instruction it refers to.
func (a *Arch) CodeAddr(v uint64) uint64 {
	if a.Thumb {
		return v &^ 1
	}

	return v
}

// FuncPointer converts a code address into the value a branch-and-link
// instruction expects.
func (a *Arch) FuncPointer(addr uint64) uint64 {
	if a.Thumb {
		return addr | 1
	}

	return addr
}

// CanonicalRegister resolves register aliases such as "lr" on AArch64.
func (a *Arch) CanonicalRegister(name string) string {
	name = strings.ToLower(name)
	if c, ok := a.aliases[name]; ok {
		return c
	}

	return name
}

// RegisterNumber returns the GDB register number of a register.
func (a *Arch) RegisterNumber(name string) (int, bool) {
	name = a.CanonicalRegister(name)
	if name == "" {
		return 0, false
	}

	for i, r := range a.Registers {
		if r == name {
			return i, true
		}
	}

	return 0, false
}

// StackArgBytes returns the size of the stack area used by the arguments of
// a call with nargs arguments.
func (a *Arch) StackArgBytes(nargs int) int {
	n := nargs - len(a.ArgRegs)
	if n <= 0 {
		return 0
	}

	return alignUp(n*a.PointerSize, a.StackAlign)
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}

	return (v + align - 1) / align * align
}

func numbered(prefix string, from, to int) []string {
	names := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		names = append(names, fmt.Sprintf("%s%d", prefix, i))
	}

	return names
}

func init() {
	armRegs := append(numbered("r", 0, 12), "sp", "lr", "pc")
	armRegs = append(armRegs, make([]string, 9)...)
	armRegs = append(armRegs, "cpsr")

	register(&Arch{
		Name:        "arm",
		PointerSize: 4,
		ByteOrder:   binary.LittleEndian,
		ArgRegs:     []string{"r0", "r1", "r2", "r3"},
		ReturnReg:   "r0",
		LinkReg:     "lr",
		PCReg:       "pc",
		SPReg:       "sp",
		StackAlign:  4,
		LinkSlot:    4,
		Registers:   armRegs,
		aliases:     map[string]string{"r13": "sp", "r14": "lr", "r15": "pc"},
		isa:         a32{},
	}, "armv7", "arm-a32")

	thumbRegs := append([]string{}, armRegs...)
	thumbRegs[len(thumbRegs)-1] = "xpsr"

	register(&Arch{
		Name:        "cortex-m3",
		PointerSize: 4,
		ByteOrder:   binary.LittleEndian,
		ArgRegs:     []string{"r0", "r1", "r2", "r3"},
		ReturnReg:   "r0",
		LinkReg:     "lr",
		PCReg:       "pc",
		SPReg:       "sp",
		StackAlign:  4,
		LinkSlot:    4,
		Thumb:       true,
		Registers:   thumbRegs,
		aliases:     map[string]string{"r13": "sp", "r14": "lr", "r15": "pc"},
		isa:         t32{},
	}, "cortex-m4", "cortex-m7", "thumb")

	arm64Regs := append(numbered("x", 0, 30), "sp", "pc", "cpsr")

	register(&Arch{
		Name:        "arm64",
		PointerSize: 8,
		ByteOrder:   binary.LittleEndian,
		ArgRegs:     numbered("x", 0, 7),
		ReturnReg:   "x0",
		LinkReg:     "x30",
		PCReg:       "pc",
		SPReg:       "sp",
		StackAlign:  16,
		LinkSlot:    16,
		Registers:   arm64Regs,
		aliases:     map[string]string{"lr": "x30", "fp": "x29"},
		isa:         a64{},
	}, "aarch64")

	ppcRegs := append(numbered("r", 0, 31), make([]string, 32)...)
	ppcRegs = append(ppcRegs, "pc", "msr", "cr", "lr", "ctr", "xer")

	register(&Arch{
		Name:        "powerpc",
		PointerSize: 4,
		ByteOrder:   binary.BigEndian,
		ArgRegs:     numbered("r", 3, 10),
		ReturnReg:   "r3",
		LinkReg:     "lr",
		PCReg:       "pc",
		SPReg:       "r1",
		StackAlign:  4,
		LinkSlot:    4,
		Registers:   ppcRegs,
		aliases:     map[string]string{"sp": "r1", "nip": "pc"},
		isa:         ppc32{},
	}, "ppc", "powerpc:mpc8xx")
}
