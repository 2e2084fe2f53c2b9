package periph

import (
	"log/slog"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/trap"
)

// A Set holds one instance of every model, registered on a bus.
type Set struct {
	UART       *UART
	Interrupts *Interrupts
	Timer      *Timer
	Ethernet   *Ethernet
	Canary     *Canary
	DigitalIO  *DigitalIO
}

// NewSet creates the models and registers them on b.
func NewSet(
	b *bus.Bus,
	c trap.InterruptController,
	logger *slog.Logger,
) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	irq := NewInterrupts(c, logger.With("model", InterruptsName))

	s := &Set{
		UART:       NewUART(b, logger.With("model", UARTName)),
		Interrupts: irq,
		Timer:      NewTimer(irq, logger.With("model", TimerName)),
		Ethernet:   NewEthernet(b, irq, logger.With("model", EthernetName)),
		Canary:     NewCanary(b, logger.With("model", CanaryName)),
		DigitalIO:  NewDigitalIO(b, logger.With("model", DigitalIOName)),
	}

	for _, m := range []bus.Model{
		s.UART, s.Interrupts, s.Timer, s.Ethernet, s.Canary, s.DigitalIO,
	} {
		if err := b.RegisterModel(m); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Shutdown stops the model goroutines.
func (s *Set) Shutdown() {
	s.Timer.Shutdown()
}
