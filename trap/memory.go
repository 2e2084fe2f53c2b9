package trap

import (
	"bytes"
	"fmt"
)

// ReadBytes reads n raw bytes from the guest.
func ReadBytes(t Target, addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	values, err := t.ReadMemory(addr, 1, n)
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = byte(v)
	}

	return data, nil
}

// WriteBytes writes raw bytes to the guest.
func WriteBytes(t Target, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	values := make([]uint64, len(data))
	for i, b := range data {
		values[i] = uint64(b)
	}

	return t.WriteMemory(addr, 1, values)
}

// ReadWord reads one value of the given width from the guest.
func ReadWord(t Target, addr uint64, width int) (uint64, error) {
	values, err := t.ReadMemory(addr, width, 1)
	if err != nil {
		return 0, err
	}

	if len(values) != 1 {
		return 0, fmt.Errorf("read %d values at %#x, want 1", len(values), addr)
	}

	return values[0], nil
}

// WriteWord writes one value of the given width to the guest.
func WriteWord(t Target, addr uint64, width int, value uint64) error {
	return t.WriteMemory(addr, width, []uint64{value})
}

// ReadCString reads a NUL-terminated string of at most max bytes.
func ReadCString(t Target, addr uint64, max int) (string, error) {
	data, err := ReadBytes(t, addr, max)
	if err != nil {
		return "", err
	}

	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}

	return string(data), nil
}
