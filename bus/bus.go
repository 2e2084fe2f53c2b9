// Package bus connects peripheral models inside the emulator with external
// devices. Messages are addressed by topic. A model method named m of the
// model named M receives the topic Peripheral.M.m.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/trap"
)

// DefaultPollInterval bounds how long the bus loop waits for a frame before
// checking whether it should stop.
const DefaultPollInterval = 500 * time.Millisecond

// Hook positions of the bus. The item is the Message.
var (
	HookPosMsgSent      = &sim.HookPos{Name: "Bus Msg Sent"}
	HookPosMsgDelivered = &sim.HookPos{Name: "Bus Msg Delivered"}
	HookPosMsgDropped   = &sim.HookPos{Name: "Bus Msg Dropped"}
)

// A Receiver handles the messages of one model method.
type Receiver func(msg Message) error

// A Model is a peripheral model. Each model is registered once and declares
// the methods that receive messages.
type Model interface {
	sim.Named
	Receivers() map[string]Receiver
}

// A Sender publishes model messages.
type Sender interface {
	Send(model, method string, p Payload) error
}

// Stats counts the traffic of a bus.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// A Bus is the emulator side of the peripheral message bus.
type Bus struct {
	*sim.HookableBase

	transport    Transport
	logger       *slog.Logger
	pollInterval time.Duration

	lock      sync.Mutex
	irq       trap.InterruptController
	models    map[string]Model
	receivers map[Topic]Receiver
	stats     Stats

	done     chan struct{}
	stopOnce sync.Once
}

// Builder can build buses.
type Builder struct {
	transport    Transport
	logger       *slog.Logger
	pollInterval time.Duration
	irq          trap.InterruptController
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{pollInterval: DefaultPollInterval}
}

// WithTransport sets the transport.
func (b Builder) WithTransport(t Transport) Builder {
	b.transport = t
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithPollInterval sets how long the loop waits for each frame.
func (b Builder) WithPollInterval(d time.Duration) Builder {
	b.pollInterval = d
	return b
}

// WithInterruptController sets what receives the interrupt control topics.
func (b Builder) WithInterruptController(ic trap.InterruptController) Builder {
	b.irq = ic
	return b
}

// Build creates the bus. The bus subscribes to every topic so that
// unexpected messages are reported.
func (b Builder) Build() (*Bus, error) {
	if b.transport == nil {
		panic("bus needs a transport")
	}

	if b.pollInterval <= 0 {
		panic("poll interval must be positive")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := b.transport.Subscribe(""); err != nil {
		return nil, err
	}

	return &Bus{
		HookableBase: sim.NewHookableBase(),
		transport:    b.transport,
		logger:       logger,
		pollInterval: b.pollInterval,
		irq:          b.irq,
		models:       make(map[string]Model),
		receivers:    make(map[Topic]Receiver),
		done:         make(chan struct{}),
	}, nil
}

// SetInterruptController sets what receives the interrupt control topics.
func (b *Bus) SetInterruptController(ic trap.InterruptController) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.irq = ic
}

// RegisterModel adds a model and subscribes its receive topics.
func (b *Bus) RegisterModel(m Model) error {
	sim.NameMustBeValid(m.Name())

	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.models[m.Name()]; ok {
		return fmt.Errorf("model %s is already registered", m.Name())
	}

	receivers := m.Receivers()
	methods := make([]string, 0, len(receivers))
	for method := range receivers {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	for _, method := range methods {
		topic := PeripheralTopic(m.Name(), method)
		if _, ok := b.receivers[topic]; ok {
			return fmt.Errorf("topic %s is already registered", topic)
		}
	}

	for _, method := range methods {
		topic := PeripheralTopic(m.Name(), method)
		if err := b.transport.Subscribe(string(topic)); err != nil {
			return err
		}

		b.receivers[topic] = receivers[method]
		b.logger.Info("subscribed", "topic", string(topic))
	}

	b.models[m.Name()] = m

	return nil
}

// FindModel returns a registered model.
func (b *Bus) FindModel(name string) (any, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	m, ok := b.models[name]

	return m, ok
}

// Models returns the registered models ordered by name.
func (b *Bus) Models() []Model {
	b.lock.Lock()
	defer b.lock.Unlock()

	models := make([]Model, 0, len(b.models))
	for _, m := range b.models {
		models = append(models, m)
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].Name() < models[j].Name()
	})

	return models
}

// Topics returns the registered receive topics in order.
func (b *Bus) Topics() []Topic {
	b.lock.Lock()
	defer b.lock.Unlock()

	topics := make([]Topic, 0, len(b.receivers))
	for t := range b.receivers {
		topics = append(topics, t)
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	return topics
}

// Stats returns the traffic counters.
func (b *Bus) Stats() Stats {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.stats
}

// Send publishes a message on the topic of a model method.
func (b *Bus) Send(model, method string, p Payload) error {
	return b.Publish(PeripheralTopic(model, method), p)
}

// Publish publishes a message on any topic.
func (b *Bus) Publish(topic Topic, p Payload) error {
	msg := Message{
		ID:      sim.GetIDGenerator().Generate(),
		Topic:   topic,
		Payload: p,
	}

	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	if err := b.transport.Send(frame); err != nil {
		return fmt.Errorf("sending %s: %w", topic, err)
	}

	b.lock.Lock()
	b.stats.Sent++
	b.lock.Unlock()

	b.logger.Debug("sent", "topic", string(topic), "id", msg.ID)
	b.invoke(HookPosMsgSent, msg)

	return nil
}

// Run dispatches incoming messages until the bus is stopped or ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("peripheral bus started")

	err := pollLoop(ctx, b.transport, b.pollInterval, b.done, b.dispatch)

	b.logger.Info("peripheral bus stopped")

	return err
}

// Stop makes Run return.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

func (b *Bus) dispatch(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		b.drop(Message{}, "malformed message", err)
		return
	}

	msg.ID = sim.GetIDGenerator().Generate()

	b.lock.Lock()
	b.stats.Received++
	b.lock.Unlock()

	b.logger.Debug("received", "topic", string(msg.Topic), "id", msg.ID)

	switch {
	case msg.Topic.IsPeripheral():
		b.deliver(msg)
	case msg.Topic == TopicInterruptTrigger:
		b.control(msg, func(ic trap.InterruptController) error {
			num, err := msg.Payload.Int("num")
			if err != nil {
				return err
			}

			b.logger.Info("triggering interrupt", "num", num)

			return ic.TriggerInterrupt(int(num))
		})
	case msg.Topic == TopicInterruptBase:
		b.control(msg, func(ic trap.InterruptController) error {
			base, err := msg.Payload.Uint("base")
			if err != nil {
				return err
			}

			b.logger.Info("setting vector base", "base", fmt.Sprintf("%#x", base))

			return ic.SetVectorBase(base)
		})
	default:
		b.drop(msg, "unhandled topic", nil)
	}
}

func (b *Bus) deliver(msg Message) {
	b.lock.Lock()
	r, ok := b.receivers[msg.Topic]
	b.lock.Unlock()

	if !ok {
		b.drop(msg, "unhandled peripheral message", nil)
		return
	}

	if err := r(msg); err != nil {
		b.fail(msg, err)
		return
	}

	b.delivered(msg)
}

func (b *Bus) control(msg Message, apply func(trap.InterruptController) error) {
	b.lock.Lock()
	ic := b.irq
	b.lock.Unlock()

	if ic == nil {
		b.drop(msg, "no interrupt controller", nil)
		return
	}

	if err := apply(ic); err != nil {
		b.fail(msg, err)
		return
	}

	b.delivered(msg)
}

func (b *Bus) delivered(msg Message) {
	b.lock.Lock()
	b.stats.Delivered++
	b.lock.Unlock()

	b.invoke(HookPosMsgDelivered, msg)
}

func (b *Bus) drop(msg Message, reason string, err error) {
	b.lock.Lock()
	b.stats.Dropped++
	b.lock.Unlock()

	if err != nil {
		b.logger.Error(reason, "err", err)
	} else {
		b.logger.Error(reason, "topic", string(msg.Topic))
	}

	b.invoke(HookPosMsgDropped, msg)
}

func (b *Bus) fail(msg Message, err error) {
	b.lock.Lock()
	b.stats.Failed++
	b.lock.Unlock()

	b.logger.Error("message handling failed",
		"topic", string(msg.Topic), "err", err)
}

func (b *Bus) invoke(pos *sim.HookPos, msg Message) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   msg,
	})
}

func pollLoop(
	ctx context.Context,
	t Transport,
	interval time.Duration,
	done <-chan struct{},
	handle func([]byte),
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		default:
		}

		frame, err := t.Recv(interval)

		switch {
		case err == nil:
			handle(frame)
		case errors.Is(err, ErrNoMessage):
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return fmt.Errorf("receiving: %w", err)
		}
	}
}
