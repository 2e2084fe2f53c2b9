package arch

import "fmt"

// ppc32 is the 32-bit PowerPC instruction set.
type ppc32 struct{}

func (ppc32) forms() []form {
	return ppcForms
}

func ppcImm16(base uint32, signed bool) form {
	return form{
		size:  4,
		match: base,
		mask:  0xFFFF0000,
		encode: func(n int64) (uint32, error) {
			lo, hi := int64(0), int64(0xFFFF)
			if signed {
				lo, hi = -0x8000, 0x7FFF
			}

			if err := inRange(n, lo, hi); err != nil {
				return 0, err
			}

			return base | uint32(n)&0xFFFF, nil
		},
		decode: func(w uint32) int64 {
			if signed {
				return signExtend(w&0xFFFF, 16)
			}

			return int64(w & 0xFFFF)
		},
	}
}

func withText(f form, text string) form {
	f.text = text
	return f
}

var ppcForms = []form{
	withText(ppcImm16(0x3D800000, false), "lis r12, N"),
	withText(ppcImm16(0x618C0000, false), "ori r12, r12, N"),
	withText(ppcImm16(0x38210000, true), "addi r1, r1, N"),
	withText(ppcImm16(0x80010000, true), "lwz r0, N(r1)"),
	fixed("mtctr r12", 0x7D8903A6),
	fixed("bctrl", 0x4E800421),
	fixed("mtlr r0", 0x7C0803A6),
	fixed("blr", 0x4E800020),
	fixed("nop", 0x60000000),
}

// callStub emits
//
//	lis r12, target@h
//	ori r12, r12, target@l
//	mtctr r12
//	bctrl
//	lwz r0, n(r1)       n is the stack argument area
//	addi r1, r1, n+4
//	mtlr r0
//	blr                 <- continuation trap
func (ppc32) callStub(b *stubBuilder, target uint64, stackBytes int) error {
	if target > 0xFFFFFFFF {
		return fmt.Errorf("call target %#x does not fit 32 bits", target)
	}

	b.inst(fmt.Sprintf("lis r12, %d", target>>16))
	b.inst(fmt.Sprintf("ori r12, r12, %d", target&0xFFFF))
	b.inst("mtctr r12")
	b.inst("bctrl")
	b.inst(fmt.Sprintf("lwz r0, %d(r1)", stackBytes))
	b.inst(fmt.Sprintf("addi r1, r1, %d", stackBytes+b.arch.LinkSlot))
	b.inst("mtlr r0")
	b.markTrap()
	b.inst("blr")

	return b.err
}
