package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HookableBase", func() {
	It("should invoke the hooks in order", func() {
		h := NewHookableBase()
		pos := &HookPos{Name: "Pos"}

		var calls []string
		h.AcceptHook(HookFunc(func(ctx HookCtx) {
			calls = append(calls, "first:"+ctx.Pos.Name)
		}))
		h.AcceptHook(HookFunc(func(ctx HookCtx) {
			calls = append(calls, "second:"+ctx.Pos.Name)
		}))

		Expect(h.NumHooks()).To(Equal(2))

		h.InvokeHook(HookCtx{Domain: h, Pos: pos})

		Expect(calls).To(Equal([]string{"first:Pos", "second:Pos"}))
	})

	It("should call hooks attached during an invocation from the next one", func() {
		h := NewHookableBase()

		late := 0
		h.AcceptHook(HookFunc(func(HookCtx) {
			if h.NumHooks() == 1 {
				h.AcceptHook(HookFunc(func(HookCtx) { late++ }))
			}
		}))

		h.InvokeHook(HookCtx{Domain: h})
		Expect(late).To(BeZero())

		h.InvokeHook(HookCtx{Domain: h})
		Expect(late).To(Equal(1))
		Expect(h.Hooks()).To(HaveLen(2))
	})
})

var _ = Describe("Sequential ID generator", func() {
	It("should count from one", func() {
		g := &sequentialIDGenerator{}

		Expect(g.Generate()).To(Equal("1"))
		Expect(g.Generate()).To(Equal("2"))
	})

	It("should generate distinct global IDs", func() {
		g := globalIDGenerator{}

		Expect(g.Generate()).NotTo(Equal(g.Generate()))
	})
})
