package intercept

import (
	"fmt"

	"github.com/sarchlab/firmhook/trap"
)

// A Descriptor is one configured intercept: a guest location plus the
// handler class and entry point that serve it. Descriptors are immutable
// once built and are consumed by Dispatcher.Register.
type Descriptor struct {
	Addr     uint64
	Resolved bool

	// Symbol is the symbol the address was resolved from, if any.
	Symbol string

	Class    string
	Function string

	ClassArgs        Args
	RegistrationArgs Args

	RunOnce bool
	Watch   trap.WatchKind

	// Source names the configuration file the descriptor came from.
	Source string
}

func (d Descriptor) String() string {
	where := "<unresolved>"
	if d.Resolved {
		where = fmt.Sprintf("%#x", d.Addr)
	}

	if d.Symbol != "" {
		where = d.Symbol + "@" + where
	}

	return fmt.Sprintf("%s.%s at %s", d.Class, d.Function, where)
}
