package emulation

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/datarecording"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/handlers"
	"github.com/sarchlab/firmhook/handlers/luascript"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/monitoring"
	"github.com/sarchlab/firmhook/periph"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/tracing"
	"github.com/sarchlab/firmhook/trap"
)

// Builder can be used to build an emulation.
type Builder struct {
	target       trap.Target
	arch         *arch.Arch
	logger       *slog.Logger
	descriptors  []intercept.Descriptor
	symbols      intercept.SymbolTable
	scratchBase  uint64
	scratchSize  uint64
	transport    bus.Transport
	pollInterval time.Duration
	classes      []intercept.Class

	vectorBase    uint64
	setVectorBase bool

	recordPath string
	trace      bool

	monitorOn   bool
	monitorPort int
	openBrowser bool
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		pollInterval: bus.DefaultPollInterval,
	}
}

// WithTarget sets the emulator that runs the firmware.
func (b Builder) WithTarget(t trap.Target) Builder {
	b.target = t
	return b
}

// WithArch sets the architecture of the guest.
func (b Builder) WithArch(a *arch.Arch) Builder {
	b.arch = a
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithIntercepts sets the intercepts registered at start-up, in order.
func (b Builder) WithIntercepts(descs []intercept.Descriptor) Builder {
	b.descriptors = descs
	return b
}

// WithSymbols sets the table guest calls resolve symbols with.
func (b Builder) WithSymbols(s intercept.SymbolTable) Builder {
	b.symbols = s
	return b
}

// WithScratch sets the guest memory region that holds call stubs and
// handler buffers.
func (b Builder) WithScratch(base, size uint64) Builder {
	b.scratchBase = base
	b.scratchSize = size

	return b
}

// WithTransport sets the transport of the peripheral bus.
func (b Builder) WithTransport(t bus.Transport) Builder {
	b.transport = t
	return b
}

// WithPollInterval sets how long the bus loop waits for each frame.
func (b Builder) WithPollInterval(d time.Duration) Builder {
	b.pollInterval = d
	return b
}

// WithClasses adds handler classes to the built-in ones.
func (b Builder) WithClasses(classes ...intercept.Class) Builder {
	b.classes = append(b.classes[:len(b.classes):len(b.classes)], classes...)
	return b
}

// WithVectorBase makes the emulation point the interrupt vector table at
// base when it starts.
func (b Builder) WithVectorBase(base uint64) Builder {
	b.vectorBase = base
	b.setVectorBase = true

	return b
}

// WithRecord writes the statistics and the run information to
// path.sqlite3. With trace set, every trap and guest call is recorded as a
// task.
func (b Builder) WithRecord(path string, trace bool) Builder {
	b.recordPath = path
	b.trace = trace

	return b
}

// WithMonitorPort turns on the monitor and sets its port. Port 0 picks a
// free port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port

	return b
}

// WithBrowser opens the monitor page when the emulation starts.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.target == nil {
		panic("emulation needs a target")
	}

	if b.arch == nil {
		panic("emulation needs an architecture")
	}

	if b.scratchSize == 0 {
		panic("emulation needs a scratch region")
	}

	if b.transport == nil {
		panic("emulation needs a bus transport")
	}

	if b.trace && b.recordPath == "" {
		panic("tracing needs a record path")
	}

	if b.openBrowser && !b.monitorOn {
		panic("cannot open the monitor page when monitoring is disabled")
	}
}

// Build builds the emulation. Nothing runs until Start is called.
func (b Builder) Build() (*Emulation, error) {
	b.parametersMustBeValid()

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Emulation{
		id:          xid.New().String(),
		logger:      logger,
		target:      b.target,
		descriptors: b.descriptors,
		vectorBase:  b.vectorBase,
		setVector:   b.setVectorBase,
		exitCode:    -1,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.env = &intercept.Env{
		Target:   b.target,
		Arch:     b.arch,
		Logger:   logger,
		Symbols:  b.symbols,
		Shutdown: e.Shutdown,
		Context:  e.ctx,
	}

	e.registry = intercept.NewRegistry(e.env)
	handlers.RegisterAll(e.registry)
	e.registry.RegisterClass(luascript.Class)
	for _, c := range b.classes {
		e.registry.RegisterClass(c)
	}

	e.dispatcher = intercept.NewDispatcher(e.env, e.registry)

	e.heap = scratch.NewHeap(b.scratchBase, b.scratchSize, b.arch.PointerSize)
	e.injector = guestcall.MakeBuilder().
		WithTarget(b.target).
		WithArch(b.arch).
		WithHeap(e.heap).
		WithBinder(e.dispatcher).
		WithSymbols(b.symbols).
		WithLogger(logger).
		Build()
	e.env.Calls = e.injector

	if err := b.buildBus(e); err != nil {
		e.cancel()
		return nil, err
	}

	e.stats = tracing.NewStatsCollector()
	e.dispatcher.AcceptHook(e.stats)
	e.injector.AcceptHook(e.stats)

	logHook := sim.NewLogHook(logger.With("hook", true), slog.LevelDebug)
	e.dispatcher.AcceptHook(logHook)
	e.injector.AcceptHook(logHook)
	e.heap.AcceptHook(logHook)
	e.bus.AcceptHook(logHook)

	if b.recordPath != "" {
		b.buildRecorder(e)
	}

	if b.monitorOn {
		b.buildMonitor(e)
	}

	return e, nil
}

func (b Builder) buildBus(e *Emulation) error {
	ic, _ := b.target.(trap.InterruptController)

	var err error
	e.bus, err = bus.MakeBuilder().
		WithTransport(b.transport).
		WithLogger(e.logger).
		WithPollInterval(b.pollInterval).
		WithInterruptController(ic).
		Build()
	if err != nil {
		return err
	}

	e.models, err = periph.NewSet(e.bus, ic, e.logger)
	if err != nil {
		return err
	}

	e.env.Models = e.bus

	return nil
}

func (b Builder) buildRecorder(e *Emulation) {
	e.recorder = datarecording.New(b.recordPath)
	e.exec = datarecording.NewExecRecorder(e.recorder)

	e.tasks = tracing.NewTaskSource("Emulation")
	e.dispatcher.AcceptHook(e.tasks)
	e.injector.AcceptHook(e.tasks)

	e.callTimer = tracing.NewAverageTimeTracer(
		tracing.WallClock{}, tracing.KindFilter(tracing.KindGuestCall))
	tracing.CollectTrace(e.tasks, e.callTimer)

	e.outcomes = tracing.NewStepCountTracer(tracing.KindFilter(tracing.KindTrap))
	tracing.CollectTrace(e.tasks, e.outcomes)

	if b.trace {
		e.tracer = tracing.NewDBTracer(tracing.WallClock{}, e.recorder)
		tracing.CollectTrace(e.tasks, e.tracer)
	}
}

func (b Builder) buildMonitor(e *Emulation) {
	e.monitor = monitoring.NewMonitor()
	if b.monitorPort > 0 {
		e.monitor.WithPortNumber(b.monitorPort)
	}

	if b.openBrowser {
		e.monitor.WithBrowser()
	}

	e.monitor.RegisterDispatcher(e.dispatcher)
	e.monitor.RegisterInjector(e.injector)
	e.monitor.RegisterBus(e.bus)
	e.monitor.RegisterStats(e.stats)
	e.monitor.RegisterBufferLister(e.models.UART)
	e.monitor.RegisterShutdown(e.Shutdown)

	if e.tracer != nil {
		e.monitor.RegisterTracer(e.tracer)
	}

	if e.callTimer != nil {
		e.monitor.RegisterCallTimer(e.callTimer)
		e.monitor.RegisterOutcomeCounter(e.outcomes)
	}
}
