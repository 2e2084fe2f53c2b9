package arch

import "fmt"

// A Stub is the code that performs one injected call. The guest enters it
// at its first byte with the arguments already marshalled and the caller's
// link register saved on the stack. The stub calls the target, releases the
// stack arguments, restores the link register, and returns to the original
// caller.
type Stub struct {
	Code []byte

	// TrapOffset is the offset of the instruction that returns to the
	// original caller. A continuation breakpoint goes there.
	TrapOffset uint64

	// Listing holds the assembly text of the stub, one line per item.
	Listing []string
}

// CallStub synthesizes a stub that calls target. stackBytes is the size of
// the stack argument area, as returned by StackArgBytes.
func (a *Arch) CallStub(target uint64, stackBytes int) (Stub, error) {
	b := &stubBuilder{arch: a}

	if err := a.isa.callStub(b, target, stackBytes); err != nil {
		return Stub{}, fmt.Errorf("%s: call stub for %#x: %w",
			a.Name, target, err)
	}

	if !b.trapMarked {
		panic("call stub has no continuation trap")
	}

	return Stub{
		Code:       b.code,
		TrapOffset: b.trapOffset,
		Listing:    b.listing,
	}, nil
}

type stubBuilder struct {
	arch *Arch

	code       []byte
	listing    []string
	trapOffset uint64
	trapMarked bool
	err        error
}

func (b *stubBuilder) inst(text string) {
	if b.err != nil {
		return
	}

	enc, err := b.arch.Assemble(text)
	if err != nil {
		b.err = err
		return
	}

	b.code = append(b.code, enc...)
	b.listing = append(b.listing, text)
}

func (b *stubBuilder) markTrap() {
	b.trapOffset = uint64(len(b.code))
	b.trapMarked = true
}

func (b *stubBuilder) align(n int) {
	for b.err == nil && len(b.code)%n != 0 {
		b.inst("nop")
	}
}

func (b *stubBuilder) word(v uint64, size int) {
	if b.err != nil {
		return
	}

	buf := make([]byte, size)
	switch size {
	case 4:
		b.arch.ByteOrder.PutUint32(buf, uint32(v))
		b.listing = append(b.listing, fmt.Sprintf(".word %#x", v))
	case 8:
		b.arch.ByteOrder.PutUint64(buf, v)
		b.listing = append(b.listing, fmt.Sprintf(".quad %#x", v))
	default:
		panic("unsupported literal size")
	}

	b.code = append(b.code, buf...)
}
