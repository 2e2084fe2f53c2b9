package bus

import (
	"errors"
	"time"
)

// ErrNoMessage is returned by Recv when nothing arrived before the timeout.
var ErrNoMessage = errors.New("no message")

// ErrClosed is returned by a closed transport.
var ErrClosed = errors.New("transport closed")

// A Transport moves encoded frames between the emulator and the devices.
// Frames are delivered in the order they were sent. A transport only
// delivers frames whose topic starts with a subscribed prefix.
type Transport interface {
	Subscribe(prefix string) error
	Send(frame []byte) error

	// Recv waits up to timeout for the next frame.
	Recv(timeout time.Duration) ([]byte, error)

	Close() error
}
