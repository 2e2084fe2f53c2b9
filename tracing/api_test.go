package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/firmhook/sim"
)

var _ = Describe("Api", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
		domain.EXPECT().NumHooks().Return(1).AnyTimes()
	})

	It("should panic if ID is not given", func() {
		Expect(func() {
			StartTask("", "123", domain, "kind", "what", "0x100", nil)
		}).Should(Panic())
	})

	It("should panic if domain is nil", func() {
		Expect(func() {
			StartTask("id", "123", nil, "kind", "what", "0x100", nil)
		}).Should(Panic())
	})

	It("should panic if kind is empty", func() {
		Expect(func() {
			StartTask("id", "123", domain, "", "what", "0x100", nil)
		}).Should(Panic())
	})

	It("should panic if what is empty", func() {
		Expect(func() {
			StartTask("id", "123", domain, "kind", "", "0x100", nil)
		}).Should(Panic())
	})

	It("should locate tasks at the domain by default", func() {
		domain.EXPECT().Name().Return("Tracer")
		domain.EXPECT().InvokeHook(gomock.Any()).Do(func(ctx sim.HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosTaskStart))
			Expect(ctx.Item.(Task).Where).To(Equal("Tracer"))
		})

		StartTask("id", "", domain, "kind", "what", "", nil)
	})

	It("should not build tasks without hooks", func() {
		quiet := NewMockNamedHookable(mockCtrl)
		quiet.EXPECT().NumHooks().Return(0).AnyTimes()

		StartTask("id", "", quiet, "kind", "what", "", nil)
		AddTaskStep("id", quiet, "step")
		EndTask("id", quiet)
	})

	It("should refuse the same tracer twice", func() {
		src := NewTaskSource("Tracer")
		tracer := NewStepCountTracer(nil)

		CollectTrace(src, tracer)

		Expect(func() { CollectTrace(src, tracer) }).To(Panic())
	})
})
