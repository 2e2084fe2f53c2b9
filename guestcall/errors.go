package guestcall

import "fmt"

// UnresolvedSymbolError reports a call target symbol with no address.
type UnresolvedSymbolError struct {
	Symbol string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("call target %q has no address", e.Symbol)
}

// UnsupportedCallShapeError reports a call the calling convention or the
// stub synthesis cannot express.
type UnsupportedCallShapeError struct {
	Target string
	NArgs  int
	Reason string
	Err    error
}

func (e *UnsupportedCallShapeError) Error() string {
	s := fmt.Sprintf("cannot call %s with %d arguments: %s",
		e.Target, e.NArgs, e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}

	return s
}

func (e *UnsupportedCallShapeError) Unwrap() error {
	return e.Err
}
