package intercept

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Args holds the key-value arguments of a handler class or of a single
// registration, as written in the configuration.
type Args map[string]any

// Has reports whether the key is set.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Keys returns the keys in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// String returns a string argument, or def if the key is not set.
func (a Args) String(key, def string) (string, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}

	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}

	return "", fmt.Errorf("argument %s: want string, got %T", key, v)
}

// Uint returns an unsigned integer argument, or def if the key is not set.
// Strings are parsed with base prefixes, so "0x20001000" is accepted.
func (a Args) Uint(key string, def uint64) (uint64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
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
	case uint32:
		return uint64(n), nil
	case float64:
		if n >= 0 && n == math.Trunc(n) {
			return uint64(n), nil
		}
	case string:
		u, err := strconv.ParseUint(n, 0, 64)
		if err == nil {
			return u, nil
		}
	}

	return 0, fmt.Errorf("argument %s: want unsigned integer, got %v", key, v)
}

// Int returns a signed integer argument, or def if the key is not set.
func (a Args) Int(key string, def int64) (int64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case string:
		i, err := strconv.ParseInt(n, 0, 64)
		if err == nil {
			return i, nil
		}
	}

	return 0, fmt.Errorf("argument %s: want integer, got %v", key, v)
}

// Float returns a floating point argument, or def if the key is not set.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}

	return 0, fmt.Errorf("argument %s: want number, got %v", key, v)
}

// Bool returns a boolean argument, or def if the key is not set.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		p, err := strconv.ParseBool(b)
		if err == nil {
			return p, nil
		}
	}

	return false, fmt.Errorf("argument %s: want bool, got %v", key, v)
}

// Sub returns a nested mapping argument, or nil if the key is not set.
// Non-string keys are formatted, so addresses may be used as keys.
func (a Args) Sub(key string) (Args, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}

	switch m := v.(type) {
	case map[string]any:
		return Args(m), nil
	case Args:
		return m, nil
	case map[any]any:
		sub := make(Args, len(m))
		for k, e := range m {
			sub[fmt.Sprint(k)] = e
		}

		return sub, nil
	}

	return nil, fmt.Errorf("argument %s: want mapping, got %T", key, v)
}
