package periph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/trap"
)

// InterruptsName is the bus name of the interrupt model.
const InterruptsName = "Interrupts"

// Interrupts models an external interrupt controller. It keeps the
// active and enabled state of each line and raises lines on the emulator.
type Interrupts struct {
	logger *slog.Logger

	lock       sync.Mutex
	controller trap.InterruptController
	active     map[int]bool
	enabled    map[int]bool
}

// NewInterrupts creates the model. The controller may be nil, in which
// case raising a line only records it.
func NewInterrupts(c trap.InterruptController, logger *slog.Logger) *Interrupts {
	if logger == nil {
		logger = slog.Default()
	}

	return &Interrupts{
		logger:     logger,
		controller: c,
		active:     make(map[int]bool),
		enabled:    make(map[int]bool),
	}
}

// Name returns the bus name of the model.
func (m *Interrupts) Name() string {
	return InterruptsName
}

// Receivers declares the messages the model accepts.
func (m *Interrupts) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{
		"interrupt_request": m.interruptRequest,
	}
}

// SetController sets the emulator interrupt controller.
func (m *Interrupts) SetController(c trap.InterruptController) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.controller = c
}

func (m *Interrupts) interruptRequest(msg bus.Message) error {
	num, err := msg.Payload.Int("num")
	if err != nil {
		return fmt.Errorf("unsupported interrupt request: %w", err)
	}

	return m.SetActive(int(num))
}

// SetActive raises line num.
func (m *Interrupts) SetActive(num int) error {
	m.lock.Lock()
	m.active[num] = true
	c := m.controller
	m.lock.Unlock()

	m.logger.Debug("set active", "irq", num)

	if c == nil {
		return nil
	}

	return c.TriggerInterrupt(num)
}

// ClearActive lowers line num.
func (m *Interrupts) ClearActive(num int) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.logger.Debug("clear active", "irq", num)
	delete(m.active, num)
}

// IsActive reports whether line num is raised.
func (m *Interrupts) IsActive(num int) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.active[num]
}

// Enable marks line num enabled.
func (m *Interrupts) Enable(num int) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.enabled[num] = true
}

// Disable marks line num disabled.
func (m *Interrupts) Disable(num int) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.enabled, num)
}

// IsEnabled reports whether line num is enabled.
func (m *Interrupts) IsEnabled(num int) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.enabled[num]
}

// Active returns the raised lines in order.
func (m *Interrupts) Active() []int {
	m.lock.Lock()
	defer m.lock.Unlock()

	lines := make([]int, 0, len(m.active))
	for n := range m.active {
		lines = append(lines, n)
	}

	sort.Ints(lines)

	return lines
}
