// Package periph provides the peripheral models that stand in for missing
// hardware. Handlers use them from the emulator goroutine and the bus feeds
// them from its own goroutine.
package periph

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/sim"
)

// UARTName is the bus name of the UART model.
const UARTName = "UARTPublisher"

// DefaultRxCapacity is the number of bytes each UART receive buffer holds.
const DefaultRxCapacity = 4096

// UART models any number of serial ports told apart by an ID, usually the
// base address of the port.
type UART struct {
	sender   bus.Sender
	logger   *slog.Logger
	capacity int

	lock    sync.Mutex
	rx      map[uint64]sim.Buffer
	arrived chan struct{}
}

// NewUART creates a UART model that writes through sender.
func NewUART(sender bus.Sender, logger *slog.Logger) *UART {
	if logger == nil {
		logger = slog.Default()
	}

	return &UART{
		sender:   sender,
		logger:   logger,
		capacity: DefaultRxCapacity,
		rx:       make(map[uint64]sim.Buffer),
		arrived:  make(chan struct{}, 1),
	}
}

// Name returns the bus name of the model.
func (u *UART) Name() string {
	return UARTName
}

// Receivers declares the messages the UART accepts.
func (u *UART) Receivers() map[string]bus.Receiver {
	return map[string]bus.Receiver{
		"rx_data": u.rxData,
	}
}

func (u *UART) buffer(id uint64) sim.Buffer {
	u.lock.Lock()
	defer u.lock.Unlock()

	buf, ok := u.rx[id]
	if !ok {
		buf = sim.NewBuffer(
			sim.BuildNameWithIndex(UARTName, "RxBuffer", int(id)), u.capacity)
		u.rx[id] = buf
	}

	return buf
}

// Write publishes bytes the firmware sent on port id.
func (u *UART) Write(id uint64, data []byte) error {
	u.logger.Info("uart write", "id", id, "chars", string(data))

	return u.sender.Send(UARTName, "write", bus.Payload{
		"id":    id,
		"chars": string(data),
	})
}

func (u *UART) rxData(msg bus.Message) error {
	id, err := msg.Payload.Uint("id")
	if err != nil {
		return err
	}

	data, err := msg.Payload.Bytes("chars")
	if err != nil {
		return err
	}

	buf := u.buffer(id)
	for i, c := range data {
		if !buf.TryPush(c) {
			u.logger.Warn("uart receive buffer full",
				"id", id, "lost", len(data)-i)
			break
		}
	}

	select {
	case u.arrived <- struct{}{}:
	default:
	}

	return nil
}

// Available returns how many bytes port id has received and not read.
func (u *UART) Available(id uint64) int {
	return u.buffer(id).Size()
}

// Read takes up to count received bytes of port id without waiting.
func (u *UART) Read(id uint64, count int) []byte {
	return toBytes(u.buffer(id).PopWhile(count, func(any) (bool, bool) {
		return true, false
	}))
}

// ReadLine takes received bytes of port id up to and including a newline,
// at most count of them.
func (u *UART) ReadLine(id uint64, count int) []byte {
	return toBytes(u.buffer(id).PopWhile(count, func(e any) (bool, bool) {
		return true, e.(byte) == '\n'
	}))
}

func toBytes(elems []any) []byte {
	out := make([]byte, len(elems))
	for i, e := range elems {
		out[i] = e.(byte)
	}

	return out
}

// ReadBlocking waits until count bytes are available on port id and takes
// them. When ctx ends first, what is available is returned with the
// context's error.
func (u *UART) ReadBlocking(ctx context.Context, id uint64, count int) ([]byte, error) {
	buf := u.buffer(id)

	for buf.Size() < count {
		select {
		case <-ctx.Done():
			return u.Read(id, count), ctx.Err()
		case <-u.arrived:
		}
	}

	return u.Read(id, count), nil
}

// Buffers returns the receive buffers ordered by name.
func (u *UART) Buffers() []sim.Buffer {
	u.lock.Lock()
	defer u.lock.Unlock()

	bufs := make([]sim.Buffer, 0, len(u.rx))
	for _, b := range u.rx {
		bufs = append(bufs, b)
	}

	sort.Slice(bufs, func(i, j int) bool { return bufs[i].Name() < bufs[j].Name() })

	return bufs
}
