package bus

import (
	"strings"
	"sync"
	"time"
)

// DefaultMemQueueSize is the number of frames a MemTransport queues before
// it drops new ones.
const DefaultMemQueueSize = 1024

// MemTransport is one end of an in-process transport pair.
type MemTransport struct {
	lock     sync.Mutex
	prefixes []string
	peer     *MemTransport
	inbox    chan []byte
	done     chan struct{}
	closed   bool
	dropped  int
}

// NewMemPair creates two connected transports. Frames sent on one are
// received on the other.
func NewMemPair() (*MemTransport, *MemTransport) {
	a := newMemTransport()
	b := newMemTransport()
	a.peer = b
	b.peer = a

	return a, b
}

func newMemTransport() *MemTransport {
	return &MemTransport{
		inbox: make(chan []byte, DefaultMemQueueSize),
		done:  make(chan struct{}),
	}
}

// Subscribe starts delivering frames that begin with prefix. The empty
// prefix matches everything.
func (t *MemTransport) Subscribe(prefix string) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return ErrClosed
	}

	t.prefixes = append(t.prefixes, prefix)

	return nil
}

func (t *MemTransport) accepts(frame []byte) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, p := range t.prefixes {
		if strings.HasPrefix(string(frame), p) {
			return true
		}
	}

	return false
}

// Send queues a frame on the peer. Frames the peer is not subscribed to
// are discarded, as are frames beyond a full queue.
func (t *MemTransport) Send(frame []byte) error {
	t.lock.Lock()
	closed := t.closed
	t.lock.Unlock()

	if closed {
		return ErrClosed
	}

	if !t.peer.accepts(frame) {
		return nil
	}

	f := append([]byte(nil), frame...)

	select {
	case t.peer.inbox <- f:
	default:
		t.peer.lock.Lock()
		t.peer.dropped++
		t.peer.lock.Unlock()
	}

	return nil
}

// Recv waits for the next frame.
func (t *MemTransport) Recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-t.inbox:
		return f, nil
	case <-t.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

// Dropped returns how many frames overflowed the queue.
func (t *MemTransport) Dropped() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.dropped
}

// Close closes this end.
func (t *MemTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.closed {
		t.closed = true
		close(t.done)
	}

	return nil
}
