package gdbrsp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/trap"
)

// DefaultInterruptCommand is the monitor command that injects an interrupt
// into an ARMv7-M guest of the avatar QEMU build.
const DefaultInterruptCommand = "avatar-armv7m-inject-irq %d"

// DefaultMaxTransfer bounds the bytes moved by one memory packet when no
// other size is set.
const DefaultMaxTransfer = 1024

// Builder can build GDB RSP targets.
type Builder struct {
	arch             *arch.Arch
	logger           *slog.Logger
	interruptCommand string
	maxRead          int
	maxWrite         int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		interruptCommand: DefaultInterruptCommand,
		maxRead:          DefaultMaxTransfer,
		maxWrite:         DefaultMaxTransfer,
	}
}

// WithArch sets the architecture of the guest.
func (b Builder) WithArch(a *arch.Arch) Builder {
	b.arch = a
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithInterruptCommand sets the monitor command used to inject interrupts.
// The command is formatted with the interrupt number.
func (b Builder) WithInterruptCommand(cmd string) Builder {
	b.interruptCommand = cmd
	return b
}

// WithMaxTransfer sets how many bytes one memory read or write packet may
// move. Sizes that are not positive keep the default. Stubs with small
// packet buffers need lower values.
func (b Builder) WithMaxTransfer(read, write int) Builder {
	if read > 0 {
		b.maxRead = read
	}

	if write > 0 {
		b.maxWrite = write
	}

	return b
}

// Dial connects to a gdbstub listening on a TCP address.
func (b Builder) Dial(ctx context.Context, addr string) (*Target, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	t, err := b.Build(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return t, nil
}

// Build negotiates the session over an open stream.
func (b Builder) Build(rw io.ReadWriteCloser) (*Target, error) {
	if b.arch == nil {
		panic("gdbrsp: architecture is not set")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Target{
		conn:             NewConn(rw),
		closer:           rw,
		arch:             b.arch,
		logger:           logger.With("target", "gdbrsp"),
		interruptCommand: b.interruptCommand,
		maxRead:          b.maxRead,
		maxWrite:         b.maxWrite,
		bps:              make(map[trap.BreakpointID]*breakpoint),
		nextID:           1,
	}

	if err := t.handshake(); err != nil {
		return nil, fmt.Errorf("gdbrsp: handshake: %w", err)
	}

	return t, nil
}

func (t *Target) handshake() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	features, err := t.roundTrip("qSupported:swbreak+;hwbreak+")
	if err != nil {
		return err
	}

	if strings.Contains(features, "QStartNoAckMode+") {
		reply, err := t.roundTrip("QStartNoAckMode")
		if err != nil {
			return err
		}

		if reply == "OK" {
			t.conn.DisableAcks()
		}
	}

	reason, err := t.roundTrip("?")
	if err != nil {
		return err
	}

	t.logger.Debug("attached", "features", features, "halt_reason", reason)

	return nil
}
