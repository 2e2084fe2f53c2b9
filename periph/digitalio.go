package periph

import (
	"log/slog"
	"sync"

	"github.com/sarchlab/firmhook/bus"
)

// DigitalIOName is the bus name of the digital IO model.
const DigitalIOName = "DigitalIOModel"

// DigitalIO models GPIO channels whose values are shared with external
// devices.
type DigitalIO struct {
	sender bus.Sender
	logger *slog.Logger

	lock   sync.Mutex
	values map[string]int64
}

// NewDigitalIO creates the model.
func NewDigitalIO(sender bus.Sender, logger *slog.Logger) *DigitalIO {
	if logger == nil {
		logger = slog.Default()
	}

	return &DigitalIO{
		sender: sender,
		logger: logger,
		values: make(map[string]int64),
	}
}

// Name returns the bus name of the model.
func (d *DigitalIO) Name() string {
	return DigitalIOName
}

// Receivers declares the messages the model accepts.
func (d *DigitalIO) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{
		"external_update": d.externalUpdate,
	}
}

// Value returns the value of a channel. Unknown channels read 0.
func (d *DigitalIO) Value(channel string) int64 {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.values[channel]
}

// SetValue sets a channel and publishes the change.
func (d *DigitalIO) SetValue(channel string, v int64) error {
	d.lock.Lock()
	d.values[channel] = v
	d.lock.Unlock()

	d.logger.Debug("value written", "channel", channel, "value", v)

	return d.sender.Send(DigitalIOName, "internal_update", bus.Payload{
		"id":    channel,
		"value": v,
	})
}

func (d *DigitalIO) externalUpdate(msg bus.Message) error {
	channel, err := msg.Payload.String("id")
	if err != nil {
		return err
	}

	v, err := msg.Payload.Int("value")
	if err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.values[channel] = v

	return nil
}
