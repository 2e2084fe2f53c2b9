package arch

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func word(a *Arch, code []byte) uint32 {
	return a.ByteOrder.Uint32(code)
}

var _ = Describe("Assembler", func() {
	Context("ARM", func() {
		a := MustLookup("arm")

		DescribeTable("encodes stub instructions",
			func(text string, want uint32) {
				code, err := a.Assemble(text)
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(HaveLen(4))
				Expect(word(a, code)).To(Equal(want))
			},
			Entry("load literal", "ldr lr, [pc, #8]", uint32(0xE59FE008)),
			Entry("load literal, odd spacing", "LDR  lr,[pc,  #12]",
				uint32(0xE59FE00C)),
			Entry("negative offset", "ldr lr, [pc, #-4]", uint32(0xE51FE004)),
			Entry("call", "blx lr", uint32(0xE12FFF3E)),
			Entry("release stack", "add sp, sp, #4", uint32(0xE28DD004)),
			Entry("release rotated", "add sp, sp, #0x400", uint32(0xE28DDB01)),
			Entry("pop", "pop {lr}", uint32(0xE49DE004)),
			Entry("return", "mov pc, lr", uint32(0xE1A0F00E)),
		)

		It("should reject immediates that cannot be encoded", func() {
			_, err := a.Assemble("add sp, sp, #0x101")
			Expect(err).To(HaveOccurred())
		})

		It("should reject unknown instructions", func() {
			_, err := a.Assemble("mul r0, r1, r2")
			Expect(err).To(MatchError(ContainSubstring("unsupported")))
		})

		It("should decode what it encodes", func() {
			for _, text := range []string{
				"ldr lr, [pc, #12]",
				"blx lr",
				"add sp, sp, #8",
				"pop {lr}",
				"mov pc, lr",
			} {
				code, err := a.Assemble(text)
				Expect(err).NotTo(HaveOccurred())

				insts := a.Disassemble(code, 0x100)
				Expect(insts).To(HaveLen(1))
				Expect(insts[0].Text).To(Equal(text))
				Expect(insts[0].Addr).To(Equal(uint64(0x100)))
			}
		})
	})

	Context("Cortex-M", func() {
		a := MustLookup("cortex-m3")

		It("should store 32-bit instructions as two halfwords", func() {
			code, err := a.Assemble("ldr.w lr, [pc, #8]")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal([]byte{0xDF, 0xF8, 0x08, 0xE0}))
		})

		It("should encode 16-bit instructions", func() {
			code, err := a.Assemble("blx lr")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal([]byte{0xF0, 0x47}))

			code, err = a.Assemble("add sp, #8")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal([]byte{0x02, 0xB0}))
		})

		It("should decode mixed-width code", func() {
			var code []byte
			for _, text := range []string{
				"ldr.w lr, [pc, #8]", "blx lr", "ldr.w lr, [sp], #4", "bx lr",
			} {
				enc, err := a.Assemble(text)
				Expect(err).NotTo(HaveOccurred())
				code = append(code, enc...)
			}

			insts := a.Disassemble(code, 0)
			Expect(insts).To(HaveLen(4))
			Expect(insts[2].Text).To(Equal("ldr.w lr, [sp], #4"))
			Expect(insts[3].Addr).To(Equal(uint64(10)))
		})
	})

	Context("AArch64", func() {
		a := MustLookup("aarch64")

		It("should encode stub instructions", func() {
			code, err := a.Assemble("ldr x30, #16")
			Expect(err).NotTo(HaveOccurred())
			Expect(word(a, code)).To(Equal(uint32(0x5800009E)))

			code, err = a.Assemble("ldr x30, [sp], #16")
			Expect(err).NotTo(HaveOccurred())
			Expect(word(a, code)).To(Equal(uint32(0xF84107FE)))

			code, err = a.Assemble("add sp, sp, #16")
			Expect(err).NotTo(HaveOccurred())
			Expect(word(a, code)).To(Equal(uint32(0x910043FF)))
		})

		It("should decode negative literal offsets", func() {
			code, err := a.Assemble("ldr x30, #-8")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Disassemble(code, 0)[0].Text).To(Equal("ldr x30, #-8"))
		})
	})

	Context("PowerPC", func() {
		a := MustLookup("powerpc")

		It("should encode big-endian words", func() {
			code, err := a.Assemble("lis r12, 0x1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal([]byte{0x3D, 0x80, 0x12, 0x34}))
			Expect(binary.BigEndian.Uint32(code)).To(Equal(uint32(0x3D801234)))

			code, err = a.Assemble("lwz r0, 8(r1)")
			Expect(err).NotTo(HaveOccurred())
			Expect(word(a, code)).To(Equal(uint32(0x80010008)))
		})

		It("should reject out of range immediates", func() {
			_, err := a.Assemble("addi r1, r1, 40000")
			Expect(err).To(HaveOccurred())
		})
	})
})
