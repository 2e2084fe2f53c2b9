package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Default ZeroMQ ports, seen from the emulator.
const (
	DefaultRxPort = 5555
	DefaultTxPort = 5556
)

// EmulatorEndpoints returns the endpoints the emulator subscribes and
// publishes on.
func EmulatorEndpoints(rxPort, txPort int) (sub, pub string) {
	return fmt.Sprintf("ipc:///tmp/IoServer2Halucinator%d", rxPort),
		fmt.Sprintf("ipc:///tmp/Halucinator2IoServer%d", txPort)
}

// DeviceEndpoints returns the endpoints a device subscribes and publishes
// on. The device's receive port is the emulator's transmit port.
func DeviceEndpoints(rxPort, txPort int) (sub, pub string) {
	return fmt.Sprintf("ipc:///tmp/Halucinator2IoServer%d", rxPort),
		fmt.Sprintf("ipc:///tmp/IoServer2Halucinator%d", txPort)
}

// ZMQTransport carries frames over a ZeroMQ PUB/SUB socket pair.
type ZMQTransport struct {
	cancel context.CancelFunc
	sub    zmq4.Socket
	pub    zmq4.Socket

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// ListenZMQ binds both sockets. The emulator side listens.
func ListenZMQ(ctx context.Context, subEndpoint, pubEndpoint string) (*ZMQTransport, error) {
	return openZMQ(ctx, subEndpoint, pubEndpoint, true)
}

// DialZMQ connects both sockets. Devices dial.
func DialZMQ(ctx context.Context, subEndpoint, pubEndpoint string) (*ZMQTransport, error) {
	return openZMQ(ctx, subEndpoint, pubEndpoint, false)
}

func openZMQ(
	ctx context.Context,
	subEndpoint, pubEndpoint string,
	listen bool,
) (*ZMQTransport, error) {
	ctx, cancel := context.WithCancel(ctx)

	t := &ZMQTransport{
		cancel: cancel,
		sub:    zmq4.NewSub(ctx),
		pub:    zmq4.NewPub(ctx),
		frames: make(chan []byte, DefaultMemQueueSize),
		done:   make(chan struct{}),
	}

	connect := func(s zmq4.Socket, ep string) error {
		if listen {
			return s.Listen(ep)
		}

		return s.Dial(ep)
	}

	if err := connect(t.sub, subEndpoint); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("subscriber on %s: %w", subEndpoint, err)
	}

	if err := connect(t.pub, pubEndpoint); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("publisher on %s: %w", pubEndpoint, err)
	}

	go t.receive()

	return t, nil
}

func (t *ZMQTransport) receive() {
	defer close(t.frames)

	for {
		msg, err := t.sub.Recv()
		if err != nil {
			return
		}

		for _, f := range msg.Frames {
			select {
			case t.frames <- f:
			case <-t.done:
				return
			}
		}
	}
}

// Subscribe starts receiving topics that begin with prefix.
func (t *ZMQTransport) Subscribe(prefix string) error {
	return t.sub.SetOption(zmq4.OptionSubscribe, prefix)
}

// Send publishes a frame.
func (t *ZMQTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	return t.pub.Send(zmq4.NewMsg(frame))
}

// Recv waits for the next frame.
func (t *ZMQTransport) Recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-t.frames:
		if !ok {
			return nil, ErrClosed
		}

		return f, nil
	case <-t.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

// Close closes both sockets.
func (t *ZMQTransport) Close() error {
	var err error

	t.once.Do(func() {
		close(t.done)
		t.cancel()

		errSub := t.sub.Close()
		errPub := t.pub.Close()

		if errSub != nil {
			err = errSub
		} else {
			err = errPub
		}
	})

	return err
}
