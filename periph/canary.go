package periph

import (
	"log/slog"

	"github.com/sarchlab/firmhook/bus"
)

// CanaryName is the bus name of the canary model.
const CanaryName = "CanaryModel"

// Canary reports functions the firmware should never reach.
type Canary struct {
	sender bus.Sender
	logger *slog.Logger
}

// NewCanary creates the model.
func NewCanary(sender bus.Sender, logger *slog.Logger) *Canary {
	if logger == nil {
		logger = slog.Default()
	}

	return &Canary{sender: sender, logger: logger}
}

// Name returns the bus name of the model.
func (c *Canary) Name() string {
	return CanaryName
}

// Receivers declares no messages.
func (c *Canary) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{}
}

// Trip publishes that the canary at addr was reached.
func (c *Canary) Trip(addr uint64, symbol, kind, msg string) error {
	c.logger.Error("canary triggered",
		"type", kind, "symbol", symbol, "addr", addr, "msg", msg)

	return c.sender.Send(CanaryName, "canary", bus.Payload{
		"Symbol":      symbol,
		"bp_addr":     addr,
		"canary_type": kind,
		"msg":         msg,
	})
}
