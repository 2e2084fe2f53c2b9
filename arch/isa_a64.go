package arch

import "fmt"

// a64 is the AArch64 instruction set.
type a64 struct{}

func (a64) forms() []form {
	return a64Forms
}

var a64Forms = []form{
	{
		text:  "ldr x30, #N",
		size:  4,
		match: 0x5800001E,
		mask:  0xFF00001F,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, -(1 << 20), (1<<20)-4); err != nil {
				return 0, err
			}

			if err := multipleOf(n, 4); err != nil {
				return 0, err
			}

			return 0x5800001E | (uint32(n/4)&0x7FFFF)<<5, nil
		},
		decode: func(w uint32) int64 {
			return signExtend((w>>5)&0x7FFFF, 19) * 4
		},
	},
	{
		text:  "add sp, sp, #N",
		size:  4,
		match: 0x910003FF,
		mask:  0xFFC003FF,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, 0, 4095); err != nil {
				return 0, err
			}

			return 0x910003FF | uint32(n)<<10, nil
		},
		decode: func(w uint32) int64 {
			return int64((w >> 10) & 0xFFF)
		},
	},
	{
		text:  "ldr x30, [sp], #N",
		size:  4,
		match: 0xF84007FE,
		mask:  0xFFE00FFF,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, -256, 255); err != nil {
				return 0, err
			}

			return 0xF84007FE | (uint32(n)&0x1FF)<<12, nil
		},
		decode: func(w uint32) int64 {
			return signExtend((w>>12)&0x1FF, 9)
		},
	},
	fixed("blr x30", 0xD63F03C0),
	fixed("ret", 0xD65F03C0),
	fixed("nop", 0xD503201F),
}

// callStub emits
//
//	ldr x30, #literal
//	blr x30
//	add sp, sp, #n      (only with stack arguments)
//	ldr x30, [sp], #16
//	ret                 <- continuation trap
//	.quad target        (doubleword aligned)
func (a64) callStub(b *stubBuilder, target uint64, stackBytes int) error {
	end := 4 * 4
	if stackBytes > 0 {
		end += 4
	}

	literal := alignUp(end, 8)

	b.inst(fmt.Sprintf("ldr x30, #%d", literal))
	b.inst("blr x30")

	if stackBytes > 0 {
		b.inst(fmt.Sprintf("add sp, sp, #%d", stackBytes))
	}

	b.inst(fmt.Sprintf("ldr x30, [sp], #%d", b.arch.LinkSlot))
	b.markTrap()
	b.inst("ret")
	b.align(8)
	b.word(target, 8)

	return b.err
}
