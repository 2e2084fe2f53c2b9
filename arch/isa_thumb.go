package arch

import "fmt"

// t32 is the Thumb-2 instruction set of the Cortex-M cores.
type t32 struct{}

func (t32) forms() []form {
	return t32Forms
}

var t32Forms = []form{
	{
		text:    "ldr.w lr, [pc, #N]",
		size:    4,
		thumb32: true,
		match:   0xF85FE000,
		mask:    0xFF7FF000,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, -4095, 4095); err != nil {
				return 0, err
			}

			if n < 0 {
				return 0xF85FE000 | uint32(-n), nil
			}

			return 0xF8DFE000 | uint32(n), nil
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
		text:  "add sp, #N",
		size:  2,
		match: 0xB000,
		mask:  0xFF80,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, 0, 508); err != nil {
				return 0, err
			}

			if err := multipleOf(n, 4); err != nil {
				return 0, err
			}

			return 0xB000 | uint32(n>>2), nil
		},
		decode: func(w uint32) int64 {
			return int64(w&0x7F) << 2
		},
	},
	{
		text:    "ldr.w lr, [sp], #N",
		size:    4,
		thumb32: true,
		match:   0xF85DEB00,
		mask:    0xFFFFFF00,
		encode: func(n int64) (uint32, error) {
			if err := inRange(n, 0, 255); err != nil {
				return 0, err
			}

			return 0xF85DEB00 | uint32(n), nil
		},
		decode: func(w uint32) int64 {
			return int64(w & 0xFF)
		},
	},
	fixed16("blx lr", 0x47F0),
	fixed16("bx lr", 0x4770),
	fixed16("nop", 0xBF00),
}

// callStub emits
//
//	ldr.w lr, [pc, #off]
//	blx lr
//	add sp, #n          (only with stack arguments)
//	ldr.w lr, [sp], #4
//	bx lr               <- continuation trap
//	.word target|1      (word aligned)
func (t32) callStub(b *stubBuilder, target uint64, stackBytes int) error {
	end := 4 + 2 + 4 + 2
	if stackBytes > 0 {
		end += 2
	}

	literal := alignUp(end, 4)

	// The PC reads as the word-aligned address of the load plus four.
	b.inst(fmt.Sprintf("ldr.w lr, [pc, #%d]", literal-4))
	b.inst("blx lr")

	if stackBytes > 0 {
		b.inst(fmt.Sprintf("add sp, #%d", stackBytes))
	}

	b.inst("ldr.w lr, [sp], #4")
	b.markTrap()
	b.inst("bx lr")
	b.align(4)
	b.word(target|1, 4)

	return b.err
}
