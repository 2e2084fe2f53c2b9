package monitoring

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/datarecording"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/handlers"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/tracing"
	"github.com/sarchlab/firmhook/trap/memtarget"
)

var _ = Describe("Monitor", func() {
	var (
		m          *Monitor
		target     *memtarget.Target
		dispatcher *intercept.Dispatcher
		injector   *guestcall.Injector
		stats      *tracing.StatsCollector
	)

	get := func(url string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		m.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

		return w
	}

	post := func(url string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		m.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, url, nil))

		return w
	}

	decode := func(w *httptest.ResponseRecorder, v any) {
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(json.Unmarshal(w.Body.Bytes(), v)).To(Succeed())
	}

	BeforeEach(func() {
		a := arch.MustLookup("arm")
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		target = memtarget.New(a)
		target.Map(0x3000_0000, 0x1000)

		env := &intercept.Env{Target: target, Arch: a, Logger: logger}
		registry := intercept.NewRegistry(env)
		handlers.RegisterAll(registry)
		dispatcher = intercept.NewDispatcher(env, registry)

		injector = guestcall.MakeBuilder().
			WithTarget(target).
			WithArch(a).
			WithHeap(scratch.NewHeap(0x3000_0000, 0x1000, a.PointerSize)).
			WithBinder(dispatcher).
			WithLogger(logger).
			Build()
		env.Calls = injector

		stats = tracing.NewStatsCollector()
		dispatcher.AcceptHook(stats)

		for i, fn := range []string{"HAL_GetTick", "HAL_Delay"} {
			_, err := dispatcher.Register(intercept.Descriptor{
				Addr:     0x1000 + uint64(i)*0x10,
				Resolved: true,
				Class:    "Counter",
				Function: fn,
			})
			Expect(err).NotTo(HaveOccurred())
		}

		stats.Track(dispatcher.Bindings())

		m = NewMonitor()
		m.RegisterDispatcher(dispatcher)
		m.RegisterInjector(injector)
		m.RegisterStats(stats)
	})

	It("should list the bindings", func() {
		var bindings []intercept.Binding
		decode(get("/api/bindings"), &bindings)

		Expect(bindings).To(HaveLen(2))
		Expect(bindings[0].Function).To(Equal("HAL_GetTick"))
		Expect(bindings[1].Addr).To(Equal(uint64(0x1010)))
	})

	It("should serialize handler state", func() {
		w := get("/api/handler/Counter")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("Counts"))

		Expect(get("/api/handler/Nothing").Code).To(Equal(http.StatusNotFound))
	})

	It("should show the scratch heap and the progress", func() {
		_, err := injector.WriteBuffer([]byte("hello"))
		Expect(err).NotTo(HaveOccurred())

		var heap heapRsp
		decode(get("/api/heap"), &heap)
		Expect(heap.Base).To(Equal(uint64(0x3000_0000)))
		Expect(heap.Used).To(Equal(uint64(8)))
		Expect(heap.Allocated).To(HaveLen(1))

		Expect(target.Fire(0x1000)).To(Succeed())

		var bars []ProgressBar
		decode(get("/api/progress"), &bars)
		Expect(bars).To(HaveLen(2))
		Expect(bars[0].Total).To(Equal(uint64(2)))
		Expect(bars[0].Finished).To(Equal(uint64(1)))
		Expect(bars[1].InProgress).To(Equal(uint64(8)))
	})

	It("should show the statistics", func() {
		Expect(target.Fire(0x1000)).To(Succeed())
		Expect(target.Fire(0x1000)).To(Succeed())

		var rsp statsRsp
		decode(get("/api/stats"), &rsp)
		Expect(rsp.Engine.Traps).To(Equal(uint64(2)))
		Expect(rsp.Intercepts[0].Hits).To(Equal(uint64(2)))
		Expect(rsp.Intercepts[1].Hits).To(BeZero())
	})

	It("should answer 404 for parts that are not registered", func() {
		Expect(get("/api/bus").Code).To(Equal(http.StatusNotFound))
		Expect(post("/api/trace/on").Code).To(Equal(http.StatusNotFound))
		Expect(post("/api/shutdown").Code).To(Equal(http.StatusNotFound))
	})

	It("should show the bus", func() {
		emuSide, _ := bus.NewMemPair()
		b, err := bus.MakeBuilder().WithTransport(emuSide).Build()
		Expect(err).NotTo(HaveOccurred())
		m.RegisterBus(b)

		var rsp busRsp
		decode(get("/api/bus"), &rsp)
		Expect(rsp.Stats.Sent).To(BeZero())
	})

	It("should turn tracing on and off", func() {
		recorder := datarecording.New(filepath.Join(GinkgoT().TempDir(), "trace"))
		DeferCleanup(recorder.Close)

		tracer := tracing.NewDBTracer(tracing.WallClock{}, recorder)
		m.RegisterTracer(tracer)

		var rsp traceRsp
		decode(post("/api/trace/off"), &rsp)
		Expect(rsp.Tracing).To(BeFalse())
		Expect(tracer.IsTracing()).To(BeFalse())

		decode(post("/api/trace/on"), &rsp)
		Expect(rsp.Tracing).To(BeTrue())

		Expect(get("/api/trace/on").Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should report trap outcomes", func() {
		src := tracing.NewTaskSource("Emulation")
		dispatcher.AcceptHook(src)

		outcomes := tracing.NewStepCountTracer(tracing.KindFilter(tracing.KindTrap))
		tracing.CollectTrace(src, outcomes)
		m.RegisterOutcomeCounter(outcomes)

		Expect(target.Fire(0x1000)).To(Succeed())
		Expect(target.Fire(0x1000)).To(Succeed())
		Expect(target.Fire(0x1010)).To(Succeed())

		var rsp traceRsp
		decode(get("/api/trace"), &rsp)

		Expect(rsp.Tracing).To(BeFalse())
		Expect(rsp.Outcomes).To(HaveKeyWithValue(tracing.StepIntercepted, uint64(3)))
		Expect(rsp.Failing).To(BeEmpty())
	})

	It("should reject API requests with the wrong method", func() {
		Expect(get("/api/trace/on").Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(get("/api/shutdown").Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(get("/api/nothing").Code).To(Equal(http.StatusNotFound))
	})

	It("should forward shutdown requests", func() {
		var codes []int
		m.RegisterShutdown(func(code int) { codes = append(codes, code) })

		Expect(post("/api/shutdown?code=3").Code).To(Equal(http.StatusAccepted))
		Expect(post("/api/shutdown?code=x").Code).To(Equal(http.StatusBadRequest))
		Expect(codes).To(Equal([]int{3}))
	})

	Context("buffers", func() {
		BeforeEach(func() {
			a := sim.NewBuffer("UART0.RX", 10)
			b := sim.NewBuffer("UART1.RX", 2)
			c := sim.NewBuffer("UART2.RX", 100)

			for i := 0; i < 3; i++ {
				a.Push(i)
				c.Push(i)
			}
			b.Push(0)

			m.RegisterBuffers(a, b, c)
		})

		It("should sort by percent", func() {
			var rsp []map[string]any
			decode(get("/api/hangdetector/buffers"), &rsp)

			Expect(rsp).To(HaveLen(3))
			Expect(rsp[0]["buffer"]).To(Equal("UART1.RX"))
			Expect(rsp[1]["buffer"]).To(Equal("UART0.RX"))
		})

		It("should sort by level and page", func() {
			var rsp []map[string]any
			decode(get("/api/hangdetector/buffers?sort=level&limit=1&offset=1"), &rsp)

			Expect(rsp).To(HaveLen(1))
			Expect(rsp[0]["buffer"]).To(Equal("UART2.RX"))
		})

		It("should reject unknown sort methods", func() {
			Expect(get("/api/hangdetector/buffers?sort=name").Code).
				To(Equal(http.StatusBadRequest))
		})
	})
})
