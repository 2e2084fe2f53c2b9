package intercept

import (
	"fmt"

	"github.com/sarchlab/firmhook/trap"
)

type hexAddr uint64

func (a hexAddr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// ConfigError reports a handler class that cannot be used as configured: an
// unknown class, bad construction arguments, or registration arguments the
// entry point rejects. Configuration errors abort start-up.
type ConfigError struct {
	Source string
	Class  string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	s := "invalid handler configuration"
	if e.Source != "" {
		s += " in " + e.Source
	}

	s += ": class " + e.Class + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}

	return s
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// HandlerNotFoundError reports an intercept whose function name matches no
// entry point of its class. The intercept is skipped.
type HandlerNotFoundError struct {
	Source   string
	Class    string
	Function string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("class %s has no entry point for %q (%s)",
		e.Class, e.Function, e.Source)
}

// UnresolvedAddressError reports an intercept whose location could not be
// resolved to an address. The intercept is skipped.
type UnresolvedAddressError struct {
	Descriptor Descriptor
}

func (e *UnresolvedAddressError) Error() string {
	return fmt.Sprintf("intercept %s (%s) has no resolved address",
		e.Descriptor, e.Descriptor.Source)
}

// HandlerError reports a failure inside a handler while serving a trap.
type HandlerError struct {
	ID       trap.BreakpointID
	Addr     uint64
	Class    string
	Function string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s.%s failed at %#x (bp %d): %v",
		e.Class, e.Function, e.Addr, e.ID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
