package bus

import (
	"fmt"
	"sort"
	"strconv"
)

// A Payload is the body of a message.
type Payload map[string]any

// Has reports whether key is set.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the keys in order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (p Payload) get(key string) (any, error) {
	v, ok := p[key]
	if !ok {
		return nil, &MissingFieldError{Field: key}
	}

	return v, nil
}

// Int returns an integer field.
func (p Payload) Int(key string) (int64, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 0, 64)
	}

	return 0, fieldTypeError(key, "an integer", v)
}

// Uint returns an unsigned integer field. Addresses use it.
func (p Payload) Uint(key string) (uint64, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case uint64:
		return n, nil
	case float64:
		if n >= 0 {
			return uint64(n), nil
		}
	case string:
		return strconv.ParseUint(n, 0, 64)
	}

	return 0, fieldTypeError(key, "an unsigned integer", v)
}

// Float returns a numeric field as a float.
func (p Payload) Float(key string) (float64, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	}

	return 0, fieldTypeError(key, "a number", v)
}

// String returns a text field. Numbers are formatted.
func (p Payload) String(key string) (string, error) {
	v, err := p.get(key)
	if err != nil {
		return "", err
	}

	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(s), nil
	}

	return "", fieldTypeError(key, "a string", v)
}

// Bytes returns a binary field. Binary data travels as a YAML binary
// string, but lists of byte values are accepted too.
func (p Payload) Bytes(key string) ([]byte, error) {
	v, err := p.get(key)
	if err != nil {
		return nil, err
	}

	switch b := v.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case []any:
		out := make([]byte, len(b))
		for i, e := range b {
			n, ok := e.(int)
			if !ok || n < 0 || n > 0xFF {
				return nil, fieldTypeError(key, "a byte list", v)
			}

			out[i] = byte(n)
		}

		return out, nil
	}

	return nil, fieldTypeError(key, "bytes", v)
}

// Bool returns a boolean field.
func (p Payload) Bool(key string) (bool, error) {
	v, err := p.get(key)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, fieldTypeError(key, "a boolean", v)
	}

	return b, nil
}

// MissingFieldError reports a payload without a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("payload has no field %q", e.Field)
}

func fieldTypeError(key, want string, v any) error {
	return fmt.Errorf("payload field %q is %T, not %s", key, v, want)
}
