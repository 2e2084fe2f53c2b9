package scratch

import (
	"errors"
	"math/rand"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/firmhook/sim"
)

func partitionMustHold(h *Heap) {
	blocks := append(h.FreeBlocks(), h.AllocatedBlocks()...)
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Base < blocks[j].Base
	})

	next := h.Base()
	for _, b := range blocks {
		Expect(b.Base).To(Equal(next), "blocks must not overlap or leave gaps")
		Expect(b.Size).To(BeNumerically(">", 0))
		next = b.End()
	}

	Expect(next).To(Equal(h.Base() + h.Size()))

	free := h.FreeBlocks()
	for i := 1; i < len(free); i++ {
		Expect(free[i-1].End()).To(BeNumerically("<", free[i].Base),
			"adjacent free blocks must be merged")
	}
}

var _ = Describe("Heap", func() {
	var h *Heap

	BeforeEach(func() {
		h = NewHeap(0x3000_0000, 0x1000, 4)
	})

	It("should round sizes up to the alignment", func() {
		b, err := h.Allocate(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Size).To(Equal(uint64(8)))
		Expect(b.Base).To(Equal(uint64(0x3000_0000)))
		Expect(b.InUse).To(BeTrue())

		z, err := h.Allocate(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(z.Size).To(Equal(uint64(4)))
		Expect(z.Base).To(Equal(uint64(0x3000_0008)))
	})

	It("should split the first fitting block in two", func() {
		_, err := h.Allocate(16)
		Expect(err).NotTo(HaveOccurred())

		Expect(h.FreeBlocks()).To(Equal([]Block{
			{Base: 0x3000_0010, Size: 0x1000 - 16},
		}))
	})

	It("should use the lowest free block that fits", func() {
		a, _ := h.Allocate(16)
		b, _ := h.Allocate(64)
		_, _ = h.Allocate(16)

		Expect(h.Free(a)).To(Succeed())
		Expect(h.Free(b)).To(Succeed())

		c, err := h.Allocate(32)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Base).To(Equal(uint64(0x3000_0000)))
		partitionMustHold(h)
	})

	It("should restore the free layout after allocate and free", func() {
		a, _ := h.Allocate(12)
		_, _ = h.Allocate(40)
		Expect(h.Free(a)).To(Succeed())

		before := h.FreeBlocks()

		b, err := h.Allocate(20)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Free(b)).To(Succeed())

		Expect(h.FreeBlocks()).To(Equal(before))
	})

	It("should merge with both neighbours", func() {
		a, _ := h.Allocate(8)
		b, _ := h.Allocate(8)
		c, _ := h.Allocate(8)

		Expect(h.Free(a)).To(Succeed())
		Expect(h.Free(c)).To(Succeed())
		Expect(h.FreeBlocks()).To(HaveLen(2))

		Expect(h.Free(b)).To(Succeed())
		Expect(h.FreeBlocks()).To(Equal([]Block{{Base: 0x3000_0000, Size: 0x1000}}))
	})

	It("should report exhaustion", func() {
		_, err := h.Allocate(0x800)
		Expect(err).NotTo(HaveOccurred())

		_, err = h.Allocate(0x900)

		var oom *OutOfScratchMemoryError
		Expect(errors.As(err, &oom)).To(BeTrue())
		Expect(oom.Requested).To(Equal(uint64(0x900)))
		Expect(oom.Largest).To(Equal(uint64(0x800)))
	})

	It("should refuse requests larger than the region", func() {
		for _, size := range []uint64{^uint64(0), ^uint64(0) - 2, 0x1001} {
			b, err := h.Allocate(size)

			var oom *OutOfScratchMemoryError
			Expect(errors.As(err, &oom)).To(BeTrue())
			Expect(oom.Requested).To(Equal(size))
			Expect(b).To(BeNil())
		}

		Expect(h.AllocatedBlocks()).To(BeEmpty())
		Expect(h.FreeBlocks()).To(Equal([]Block{{Base: 0x3000_0000, Size: 0x1000}}))
	})

	It("should reject frees of blocks it does not own", func() {
		b, _ := h.Allocate(8)
		Expect(h.Free(b)).To(Succeed())
		Expect(h.Free(b)).NotTo(Succeed())
		Expect(h.Free(&Block{Base: 0x3000_0100, Size: 8})).NotTo(Succeed())
		Expect(h.Free(nil)).NotTo(Succeed())
	})

	It("should report usage and invoke hooks", func() {
		var positions []*sim.HookPos
		h.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		b, _ := h.Allocate(24)
		used, total := h.Usage()
		Expect(used).To(Equal(uint64(24)))
		Expect(total).To(Equal(uint64(0x1000)))

		Expect(h.Free(b)).To(Succeed())
		Expect(positions).To(Equal([]*sim.HookPos{HookPosAllocate, HookPosFree}))
	})

	It("should keep the partition under random allocate and free", func() {
		rng := rand.New(rand.NewSource(7))
		var live []*Block

		for i := 0; i < 2000; i++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				j := rng.Intn(len(live))
				Expect(h.Free(live[j])).To(Succeed())
				live = append(live[:j], live[j+1:]...)
			} else {
				b, err := h.Allocate(uint64(rng.Intn(96)))
				if err == nil {
					live = append(live, b)
				} else {
					var oom *OutOfScratchMemoryError
					Expect(errors.As(err, &oom)).To(BeTrue())
				}
			}

			partitionMustHold(h)
		}

		for _, b := range live {
			Expect(h.Free(b)).To(Succeed())
		}

		Expect(h.FreeBlocks()).To(Equal([]Block{{Base: 0x3000_0000, Size: 0x1000}}))
	})
})
