package arch

import (
	"fmt"
	"math/bits"
)

// a32 is the 32-bit ARM instruction set.
type a32 struct{}

func (a32) forms() []form {
	return a32Forms
}

var a32Forms = []form{
	{
		text:  "ldr lr, [pc, #N]",
		size:  4,
		match: 0xE51FE000,
		mask:  0xFF7FF000,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, -4095, 4095); err != nil {
				return 0, err
			}

			if n < 0 {
				return 0xE51FE000 | uint32(-n), nil
			}

			return 0xE59FE000 | uint32(n), nil
		},
		decode: func(w uint32) int64 {
			imm := int64(w & 0xFFF)
			if w&(1<<23) == 0 {
				return -imm
			}

			return imm
		},
	},
	{
		text:   "add sp, sp, #N",
		size:   4,
		match:  0xE28DD000,
		mask:   0xFFFFF000,
		encode: a32AddSP,
		decode: func(w uint32) int64 {
			rot := int((w >> 8) & 0xF)
			return int64(bits.RotateLeft32(w&0xFF, -2*rot))
		},
	},
	fixed("blx lr", 0xE12FFF3E),
	fixed("bx lr", 0xE12FFF1E),
	fixed("pop {lr}", 0xE49DE004),
	fixed("push {lr}", 0xE52DE004),
	fixed("mov pc, lr", 0xE1A0F00E),
	fixed("nop", 0xE320F000),
}

// a32AddSP encodes the immediate as an ARM modified immediate, an 8-bit
// value rotated right by an even amount.
func a32AddSP(n int64) (uint32, error) {
	if err := inRange(n, 0, 0xFFFFFFFF); err != nil {
		return 0, err
	}

	for rot := 0; rot < 16; rot++ {
		v := bits.RotateLeft32(uint32(n), 2*rot)
		if v <= 0xFF {
			return 0xE28DD000 | uint32(rot)<<8 | v, nil
		}
	}

	return 0, fmt.Errorf("%d is not a valid modified immediate", n)
}

// callStub emits
//
//	ldr lr, [pc, #off]
//	blx lr
//	add sp, sp, #n      (only with stack arguments)
//	pop {lr}
//	mov pc, lr          <- continuation trap
//	.word target
func (a32) callStub(b *stubBuilder, target uint64, stackBytes int) error {
	insts := 4
	if stackBytes > 0 {
		insts++
	}

	// The PC reads two instructions ahead of the load.
	literal := insts * 4
	b.inst(fmt.Sprintf("ldr lr, [pc, #%d]", literal-8))
	b.inst("blx lr")

	if stackBytes > 0 {
		b.inst(fmt.Sprintf("add sp, sp, #%d", stackBytes))
	}

	b.inst("pop {lr}")
	b.markTrap()
	b.inst("mov pc, lr")
	b.word(target, 4)

	return b.err
}
