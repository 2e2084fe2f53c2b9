package arch

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func listing(a *Arch, s Stub) []string {
	var texts []string
	for _, inst := range a.Disassemble(s.Code, 0) {
		texts = append(texts, inst.Text)
	}

	return texts
}

var _ = Describe("CallStub", func() {
	It("should build an ARM stub without stack arguments", func() {
		a := MustLookup("arm")

		s, err := a.CallStub(0x8000, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Code).To(HaveLen(20))
		Expect(listing(a, s)).To(Equal([]string{
			"ldr lr, [pc, #8]",
			"blx lr",
			"pop {lr}",
			"mov pc, lr",
			".word 0x00008000",
		}))
		Expect(s.TrapOffset).To(Equal(uint64(12)))
		Expect(a.ByteOrder.Uint32(s.Code[16:])).To(Equal(uint32(0x8000)))
	})

	It("should release stack arguments in an ARM stub", func() {
		a := MustLookup("arm")

		s, err := a.CallStub(0x8000, a.StackArgBytes(5))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Listing).To(Equal([]string{
			"ldr lr, [pc, #12]",
			"blx lr",
			"add sp, sp, #4",
			"pop {lr}",
			"mov pc, lr",
			".word 0x8000",
		}))
		Expect(s.TrapOffset).To(Equal(uint64(16)))
	})

	It("should set the interworking bit in a Cortex-M stub", func() {
		a := MustLookup("cortex-m3")

		s, err := a.CallStub(0x8000, 8)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Listing).To(Equal([]string{
			"ldr.w lr, [pc, #12]",
			"blx lr",
			"add sp, #8",
			"ldr.w lr, [sp], #4",
			"bx lr",
			"nop",
			".word 0x8001",
		}))
		Expect(s.TrapOffset).To(Equal(uint64(12)))
		Expect(s.Code).To(HaveLen(20))
		Expect(a.ByteOrder.Uint32(s.Code[16:])).To(Equal(uint32(0x8001)))
	})

	It("should align the AArch64 literal", func() {
		a := MustLookup("arm64")

		s, err := a.CallStub(0x4000_1000, a.StackArgBytes(9))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Listing).To(Equal([]string{
			"ldr x30, #24",
			"blr x30",
			"add sp, sp, #16",
			"ldr x30, [sp], #16",
			"ret",
			"nop",
			".quad 0x40001000",
		}))
		Expect(s.TrapOffset).To(Equal(uint64(16)))
		Expect(a.ByteOrder.Uint64(s.Code[24:])).To(Equal(uint64(0x4000_1000)))
	})

	It("should load the PowerPC target as two halves", func() {
		a := MustLookup("powerpc")

		s, err := a.CallStub(0x0012_3456, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(listing(a, s)).To(Equal([]string{
			"lis r12, 18",
			"ori r12, r12, 13398",
			"mtctr r12",
			"bctrl",
			"lwz r0, 0(r1)",
			"addi r1, r1, 4",
			"mtlr r0",
			"blr",
		}))
		Expect(s.TrapOffset).To(Equal(uint64(28)))
	})

	It("should fail when the stack area cannot be released", func() {
		a := MustLookup("cortex-m3")

		_, err := a.CallStub(0x8000, 1024)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Arch", func() {
	It("should compute stack argument areas", func() {
		Expect(MustLookup("arm").StackArgBytes(4)).To(Equal(0))
		Expect(MustLookup("arm").StackArgBytes(6)).To(Equal(8))
		Expect(MustLookup("arm64").StackArgBytes(9)).To(Equal(16))
		Expect(MustLookup("powerpc").StackArgBytes(8)).To(Equal(0))
	})

	It("should mask return values", func() {
		Expect(MustLookup("arm").ReturnMask()).To(Equal(uint64(0xFFFFFFFF)))
		Expect(MustLookup("arm64").ReturnMask()).To(Equal(^uint64(0)))
	})

	It("should number registers the way the GDB protocol does", func() {
		n, ok := MustLookup("arm").RegisterNumber("lr")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(14))

		n, ok = MustLookup("arm").RegisterNumber("cpsr")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(25))

		n, ok = MustLookup("arm64").RegisterNumber("lr")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(30))

		n, ok = MustLookup("powerpc").RegisterNumber("lr")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(67))
	})

	It("should reject unknown architectures", func() {
		_, err := Lookup("z80")
		Expect(err).To(HaveOccurred())
	})
})
