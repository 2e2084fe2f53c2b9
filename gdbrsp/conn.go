// Package gdbrsp drives an emulator through the GDB Remote Serial Protocol,
// as served by the gdbstub of QEMU.
package gdbrsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Interrupt is the byte that asks a running target to halt.
const Interrupt = "\x03"

// ErrChecksum is returned for a packet whose checksum does not match.
var ErrChecksum = errors.New("gdbrsp: checksum mismatch")

// A Conn reads and writes RSP packets.
type Conn struct {
	w io.Writer
	r *bufio.Reader

	wlock sync.Mutex
	noAck bool
}

// NewConn wraps a byte stream.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, r: bufio.NewReader(rw)}
}

// DisableAcks stops acknowledging packets, after QStartNoAckMode.
func (c *Conn) DisableAcks() {
	c.noAck = true
}

// WritePacket frames and sends a payload.
func (c *Conn) WritePacket(payload string) error {
	return c.writeRaw("$" + payload + "#" + Checksum(payload))
}

// WriteInterrupt sends the out-of-band interrupt byte.
func (c *Conn) WriteInterrupt() error {
	return c.writeRaw(Interrupt)
}

func (c *Conn) writeRaw(s string) error {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	_, err := io.WriteString(c.w, s)

	return err
}

// ReadPacket returns the next payload. Acknowledgements before the packet
// are skipped. An interrupt byte is returned as Interrupt.
func (c *Conn) ReadPacket() (string, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", err
		}

		switch b {
		case '$':
		case Interrupt[0]:
			return Interrupt, nil
		default:
			continue
		}

		raw, err := c.r.ReadString('#')
		if err != nil {
			return "", err
		}

		raw = raw[:len(raw)-1]

		var sum [2]byte
		if _, err := io.ReadFull(c.r, sum[:]); err != nil {
			return "", err
		}

		if string(sum[:]) != Checksum(raw) {
			if err := c.ack("-"); err != nil {
				return "", err
			}

			return "", ErrChecksum
		}

		if err := c.ack("+"); err != nil {
			return "", err
		}

		return Decode(raw)
	}
}

func (c *Conn) ack(s string) error {
	if c.noAck {
		return nil
	}

	return c.writeRaw(s)
}

// Checksum is the modulo 256 sum of the payload, in two hex digits.
func Checksum(payload string) string {
	var sum uint8
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}

	return fmt.Sprintf("%02x", sum)
}

// Decode undoes the escaping and the run-length encoding of a payload.
func Decode(raw string) (string, error) {
	if !strings.ContainsAny(raw, "}*") {
		return raw, nil
	}

	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '}':
			i++
			if i >= len(raw) {
				return "", fmt.Errorf("gdbrsp: dangling escape in %q", raw)
			}

			sb.WriteByte(raw[i] ^ 0x20)
		case '*':
			i++
			if i >= len(raw) || sb.Len() == 0 {
				return "", fmt.Errorf("gdbrsp: bad run length in %q", raw)
			}

			last := sb.String()[sb.Len()-1]
			for n := int(raw[i]) - 29; n > 0; n-- {
				sb.WriteByte(last)
			}
		default:
			sb.WriteByte(raw[i])
		}
	}

	return sb.String(), nil
}

// ReplyError is an Enn reply.
type ReplyError struct {
	Request string
	Code    int
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("gdbrsp: %q failed with error %02x", e.Request, e.Code)
}

func replyError(request, reply string) error {
	if len(reply) != 3 || reply[0] != 'E' {
		return nil
	}

	code, err := strconv.ParseUint(reply[1:], 16, 8)
	if err != nil {
		return nil
	}

	return &ReplyError{Request: request, Code: int(code)}
}
