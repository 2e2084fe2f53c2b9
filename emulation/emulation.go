// Package emulation puts the intercept engine, the guest-call injector and
// the peripheral bus together around one emulator.
package emulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/datarecording"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/monitoring"
	"github.com/sarchlab/firmhook/periph"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/tracing"
	"github.com/sarchlab/firmhook/trap"
)

// monitorStopTimeout bounds how long Terminate waits for monitor requests.
const monitorStopTimeout = 2 * time.Second

// An Emulation runs one firmware under an emulator with its intercepts and
// peripheral models.
type Emulation struct {
	id     string
	logger *slog.Logger

	target      trap.Target
	env         *intercept.Env
	registry    *intercept.Registry
	dispatcher  *intercept.Dispatcher
	heap        *scratch.Heap
	injector    *guestcall.Injector
	bus         *bus.Bus
	models      *periph.Set
	descriptors []intercept.Descriptor
	vectorBase  uint64
	setVector   bool

	recorder  datarecording.DataRecorder
	exec      *datarecording.ExecRecorder
	stats     *tracing.StatsCollector
	tasks     *tracing.TaskSource
	tracer    *tracing.DBTracer
	callTimer *tracing.AverageTimeTracer
	outcomes  *tracing.StepCountTracer
	monitor   *monitoring.Monitor

	ctx    context.Context
	cancel context.CancelFunc
	busErr chan error

	lock       sync.Mutex
	started    bool
	exitCode   int
	terminated bool
}

// ID returns the unique ID of the run.
func (e *Emulation) ID() string {
	return e.id
}

// Env returns what handlers see.
func (e *Emulation) Env() *intercept.Env {
	return e.env
}

// Dispatcher returns the breakpoint dispatcher.
func (e *Emulation) Dispatcher() *intercept.Dispatcher {
	return e.dispatcher
}

// Injector returns the guest-call injector.
func (e *Emulation) Injector() *guestcall.Injector {
	return e.injector
}

// Bus returns the peripheral bus.
func (e *Emulation) Bus() *bus.Bus {
	return e.bus
}

// Models returns the peripheral models.
func (e *Emulation) Models() *periph.Set {
	return e.models
}

// Stats returns the trap statistics.
func (e *Emulation) Stats() *tracing.StatsCollector {
	return e.stats
}

// Outcomes returns the tracer that counts how traps end. It is nil unless
// a record path is set.
func (e *Emulation) Outcomes() *tracing.StepCountTracer {
	return e.outcomes
}

// Recorder returns the data recorder. It is nil unless a record path is set.
func (e *Emulation) Recorder() datarecording.DataRecorder {
	return e.recorder
}

// Done is closed when the emulation shuts down.
func (e *Emulation) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Start registers the intercepts, starts the bus loop and the monitor. It
// returns the port of the monitor, or 0 when monitoring is off.
func (e *Emulation) Start() (int, error) {
	e.lock.Lock()
	if e.started {
		e.lock.Unlock()
		panic("emulation already started")
	}
	e.started = true
	e.lock.Unlock()

	if err := e.dispatcher.RegisterAll(e.descriptors); err != nil {
		return 0, err
	}

	e.stats.Track(e.dispatcher.Bindings())

	if e.setVector {
		if err := e.setVectorBase(); err != nil {
			return 0, err
		}
	}

	if e.exec != nil {
		e.exec.Start()
		e.exec.Set("Run Name", e.id)
		e.exec.Set("Intercepts", fmt.Sprint(len(e.dispatcher.Bindings())))
	}

	e.busErr = make(chan error, 1)
	go func() {
		e.busErr <- e.bus.Run(e.ctx)
	}()

	if e.monitor == nil {
		return 0, nil
	}

	port, err := e.monitor.StartServer()
	if err != nil {
		return 0, fmt.Errorf("starting the monitor: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Monitoring emulation with http://localhost:%d\n", port)

	return port, nil
}

func (e *Emulation) setVectorBase() error {
	ic, ok := e.target.(trap.InterruptController)
	if !ok {
		e.logger.Warn("target cannot relocate the vector table",
			"base", fmt.Sprintf("%#x", e.vectorBase))
		return nil
	}

	if err := ic.SetVectorBase(e.vectorBase); err != nil {
		return fmt.Errorf("setting the vector base to %#x: %w", e.vectorBase, err)
	}

	return nil
}

// Run drives the guest until it exits, a handler shuts the emulation down,
// or ctx is done. Targets that cannot drive themselves are only waited on.
// Run terminates the emulation and returns the exit code.
func (e *Emulation) Run(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	var err error
	if r, ok := e.target.(trap.Runner); ok {
		err = r.Run(runCtx)
	} else {
		<-runCtx.Done()
		err = runCtx.Err()
	}

	switch {
	case e.ctx.Err() != nil:
		err = nil
	case err == nil:
		e.Shutdown(targetExitCode(e.target))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		e.logger.Info("emulation interrupted")
		e.Shutdown(1)
	default:
		e.logger.Error("emulation failed", "err", err)
		e.Shutdown(1)
	}

	code := e.ExitCode()
	e.Terminate()

	return code, err
}

func targetExitCode(t trap.Target) int {
	if x, ok := t.(interface{ ExitCode() int }); ok {
		return x.ExitCode()
	}

	return 0
}

// Shutdown stops serving traps and ends Run with code. Only the first call
// sets the exit code. Handlers reach it through Env.Shutdown.
func (e *Emulation) Shutdown(code int) {
	e.lock.Lock()
	first := e.exitCode < 0
	if first {
		e.exitCode = code
	}
	e.lock.Unlock()

	if !first {
		return
	}

	e.logger.Info("emulation shutting down", "code", code)

	e.dispatcher.Stop()
	e.bus.Stop()
	e.cancel()
}

// ExitCode returns the code the emulation exits with, or -1 if it has not
// been shut down.
func (e *Emulation) ExitCode() int {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.exitCode
}

// Terminate releases everything the emulation holds. It shuts the emulation
// down with code 0 if nothing else did, and can be called more than once.
func (e *Emulation) Terminate() {
	e.Shutdown(0)

	e.lock.Lock()
	if e.terminated {
		e.lock.Unlock()
		return
	}
	e.terminated = true
	code := e.exitCode
	e.lock.Unlock()

	if e.busErr != nil {
		if err := <-e.busErr; err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("peripheral bus failed", "err", err)
		}
	}

	e.models.Shutdown()
	e.closeHandlers()

	if e.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
		if err := e.monitor.StopServer(ctx); err != nil {
			e.logger.Warn("stopping the monitor", "err", err)
		}
		cancel()
	}

	if e.recorder != nil {
		e.stats.Record(e.recorder)

		if e.tracer != nil {
			e.tracer.Terminate()
		}

		e.exec.End(code)

		if err := e.recorder.Close(); err != nil {
			e.logger.Warn("closing the recorder", "err", err)
		}
	}

	if s, ok := e.target.(trap.Stopper); ok {
		if err := s.Stop(); err != nil {
			e.logger.Warn("stopping the target", "err", err)
		}
	}
}

func (e *Emulation) closeHandlers() {
	for class, h := range e.registry.Instances() {
		c, ok := h.(io.Closer)
		if !ok {
			continue
		}

		if err := c.Close(); err != nil {
			e.logger.Warn("closing handler", "class", class, "err", err)
		}
	}
}
