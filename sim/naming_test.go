package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Naming", func() {
	It("should accept hierarchical names", func() {
		Expect(func() { NameMustBeValid("UART") }).NotTo(Panic())
		Expect(func() { NameMustBeValid("UART.RxBuffer[0]") }).NotTo(Panic())
		Expect(func() { NameMustBeValid("A.B[1][2].C") }).NotTo(Panic())
	})

	It("should reject malformed names", func() {
		Expect(func() { NameMustBeValid("") }).To(Panic())
		Expect(func() { NameMustBeValid("uart") }).To(Panic())
		Expect(func() { NameMustBeValid("A..B") }).To(Panic())
		Expect(func() { NameMustBeValid("A.B.") }).To(Panic())
		Expect(func() { NameMustBeValid("Rx_Buffer") }).To(Panic())
		Expect(func() { NameMustBeValid("Buf[x]") }).To(Panic())
		Expect(func() { NameMustBeValid("Buf[1") }).To(Panic())
	})

	It("should build names", func() {
		Expect(BuildName("", "UART")).To(Equal("UART"))
		Expect(BuildName("UART", "RxBuffer")).To(Equal("UART.RxBuffer"))
		Expect(BuildNameWithIndex("UART", "RxBuffer", 3)).
			To(Equal("UART.RxBuffer[3]"))
	})
})
