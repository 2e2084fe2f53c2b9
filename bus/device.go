package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarchlab/firmhook/sim"
)

// DefaultDevicePollInterval is the frame wait of a device loop.
const DefaultDevicePollInterval = time.Second

// A Device is the external side of the bus. It subscribes to the topics
// the emulator publishes and sends messages the models receive.
type Device struct {
	transport Transport
	logger    *slog.Logger

	lock     sync.Mutex
	handlers map[Topic]func(Message)

	done     chan struct{}
	stopOnce sync.Once
}

// NewDevice creates a device over a transport.
func NewDevice(t Transport, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}

	return &Device{
		transport: t,
		logger:    logger,
		handlers:  make(map[Topic]func(Message)),
		done:      make(chan struct{}),
	}
}

// Handle calls h for every message on topic.
func (d *Device) Handle(topic Topic, h func(Message)) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := d.handlers[topic]; ok {
		return fmt.Errorf("topic %s already has a handler", topic)
	}

	if err := d.transport.Subscribe(string(topic)); err != nil {
		return err
	}

	d.handlers[topic] = h
	d.logger.Debug("registering topic", "topic", string(topic))

	return nil
}

// Send publishes a message.
func (d *Device) Send(topic Topic, p Payload) error {
	frame, err := Encode(Message{
		ID:      sim.GetIDGenerator().Generate(),
		Topic:   topic,
		Payload: p,
	})
	if err != nil {
		return err
	}

	return d.transport.Send(frame)
}

// Run receives messages until the device is stopped or ctx is done.
func (d *Device) Run(ctx context.Context) error {
	return pollLoop(ctx, d.transport, DefaultDevicePollInterval, d.done,
		func(frame []byte) {
			msg, err := Decode(frame)
			if err != nil {
				d.logger.Error("malformed message", "err", err)
				return
			}

			d.lock.Lock()
			h, ok := d.handlers[msg.Topic]
			d.lock.Unlock()

			if !ok {
				d.logger.Debug("no handler", "topic", string(msg.Topic))
				return
			}

			h(msg)
		})
}

// Stop makes Run return.
func (d *Device) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
