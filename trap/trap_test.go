package trap

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("WatchKind", func() {
	DescribeTable("parses configuration spellings",
		func(s string, want WatchKind) {
			k, err := ParseWatchKind(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(k).To(Equal(want))
			if s != "" {
				Expect(k.String()).To(Equal(s))
			}
		},
		Entry("breakpoint", "", WatchNone),
		Entry("read", "r", WatchRead),
		Entry("write", "w", WatchWrite),
		Entry("read and write", "rw", WatchReadWrite),
	)

	It("should reject unknown kinds", func() {
		_, err := ParseWatchKind("x")
		Expect(err).To(HaveOccurred())
	})
})
