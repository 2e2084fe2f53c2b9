package periph

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/firmhook/bus"
)

// TimerName is the bus name of the timer model.
const TimerName = "TimerModel"

// Timer raises interrupt lines periodically. Each named timer runs on its
// own goroutine until it is stopped.
type Timer struct {
	irq    *Interrupts
	logger *slog.Logger

	lock   sync.Mutex
	active map[string]*runningTimer
	wg     sync.WaitGroup
}

type runningTimer struct {
	irq  int
	rate time.Duration
	stop chan struct{}
}

// NewTimer creates the model.
func NewTimer(irq *Interrupts, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Timer{
		irq:    irq,
		logger: logger,
		active: make(map[string]*runningTimer),
	}
}

// Name returns the bus name of the model.
func (t *Timer) Name() string {
	return TimerName
}

// Receivers declares no messages. Timers are driven by handlers.
func (t *Timer) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{}
}

// Start starts raising irq every rate. Starting a running timer does
// nothing.
func (t *Timer) Start(name string, irq int, rate time.Duration) {
	if rate <= 0 {
		panic("timer rate must be positive")
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.active[name]; ok {
		return
	}

	rt := &runningTimer{irq: irq, rate: rate, stop: make(chan struct{})}
	t.active[name] = rt

	t.logger.Debug("starting timer", "name", name, "irq", irq, "rate", rate)

	t.wg.Add(1)
	go t.run(name, rt)
}

func (t *Timer) run(name string, rt *runningTimer) {
	defer t.wg.Done()

	ticker := time.NewTicker(rt.rate)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stop:
			return
		case <-ticker.C:
			t.logger.Debug("timer fired", "name", name, "irq", rt.irq)

			if err := t.irq.SetActive(rt.irq); err != nil {
				t.logger.Error("timer interrupt failed", "name", name, "err", err)
			}
		}
	}
}

// Stop stops a timer.
func (t *Timer) Stop(name string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	rt, ok := t.active[name]
	if !ok {
		return
	}

	close(rt.stop)
	delete(t.active, name)
}

// Clear lowers the line of a timer.
func (t *Timer) Clear(irq int) {
	t.irq.ClearActive(irq)
}

// Running returns the names of the running timers.
func (t *Timer) Running() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := make([]string, 0, len(t.active))
	for n := range t.active {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Shutdown stops all the timers and waits for them.
func (t *Timer) Shutdown() {
	t.lock.Lock()
	for name, rt := range t.active {
		close(rt.stop)
		delete(t.active, name)
	}
	t.lock.Unlock()

	t.wg.Wait()
}
