package sim

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BufferImpl", func() {

	var (
		buf Buffer
	)

	BeforeEach(func() {
		buf = NewBuffer("Buf", 2)
	})

	It("should allow push and pop", func() {
		Expect(buf.Capacity()).To(Equal(2))
		Expect(buf.CanPush()).To(BeTrue())

		buf.Push(1)
		Expect(buf.CanPush()).To(BeTrue())
		Expect(buf.Size()).To(Equal(1))

		buf.Push(2)
		Expect(buf.CanPush()).To(BeFalse())
		Expect(buf.Size()).To(Equal(2))
		Expect(func() {
			buf.Push(3)
		}).To(Panic())
		Expect(buf.TryPush(3)).To(BeFalse())

		Expect(buf.Peek()).To(Equal(1))
		Expect(buf.Pop()).To(Equal(1))
		Expect(buf.Size()).To(Equal(1))
		Expect(buf.Peek()).To(Equal(2))
		Expect(buf.Pop()).To(Equal(2))
		Expect(buf.Size()).To(Equal(0))
		Expect(buf.Peek()).To(BeNil())
		Expect(buf.Pop()).To(BeNil())
	})

	It("should clear", func() {
		buf.Push(2)
		Expect(buf.Size()).To(Equal(1))

		buf.Clear()

		Expect(buf.Size()).To(Equal(0))
		Expect(buf.Peek()).To(BeNil())
	})

	It("should wrap around", func() {
		for i := 0; i < 5; i++ {
			buf.Push(i)
			Expect(buf.Pop()).To(Equal(i))
		}

		buf.Push(5)
		buf.Push(6)
		Expect(buf.TryPush(7)).To(BeFalse())
		Expect(buf.Peek()).To(Equal(5))
	})

	It("should pop while elements are kept", func() {
		buf = NewBuffer("Buf", 8)
		for _, c := range "ab\ncd" {
			buf.Push(c)
		}

		line := buf.PopWhile(8, func(e any) (bool, bool) {
			return true, e.(rune) == '\n'
		})
		Expect(line).To(Equal([]any{'a', 'b', '\n'}))

		upToD := buf.PopWhile(8, func(e any) (bool, bool) {
			return e.(rune) != 'd', false
		})
		Expect(upToD).To(Equal([]any{'c'}))
		Expect(buf.Size()).To(Equal(1))

		Expect(buf.PopWhile(0, func(any) (bool, bool) { return true, false })).
			To(BeEmpty())
	})

	It("should not accept a zero capacity", func() {
		Expect(func() { NewBuffer("Buf", 0) }).To(Panic())
	})

	It("should invoke hooks on push and pop", func() {
		var positions []*HookPos
		buf.AcceptHook(HookFunc(func(ctx HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		buf.Push(1)
		buf.Pop()

		Expect(positions).To(Equal([]*HookPos{HookPosBufPush, HookPosBufPop}))
	})

	It("should accept pushes from another goroutine", func() {
		buf = NewBuffer("Buf", 100)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Push(i)
			}
		}()
		wg.Wait()

		Expect(buf.Size()).To(Equal(100))
		Expect(buf.Pop()).To(Equal(0))
	})
})
