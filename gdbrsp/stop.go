package gdbrsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/firmhook/trap"
)

// Signals reported in stop replies.
const (
	SigInt  = 2
	SigTrap = 5
)

// A Stop is a parsed stop reply.
type Stop struct {
	Signal int

	// Exited is set when the guest is gone. Code is its exit status, or the
	// terminating signal when Killed is set.
	Exited bool
	Killed bool
	Code   int

	// Watch is the kind of the watchpoint that fired, if any, and WatchAddr
	// the address accessed.
	Watch     trap.WatchKind
	WatchAddr uint64
}

// ParseStop parses an S, T, W or X reply.
func ParseStop(reply string) (Stop, error) {
	if len(reply) < 3 {
		return Stop{}, fmt.Errorf("gdbrsp: bad stop reply %q", reply)
	}

	n, err := strconv.ParseUint(reply[1:3], 16, 8)
	if err != nil {
		return Stop{}, fmt.Errorf("gdbrsp: bad stop reply %q", reply)
	}

	switch reply[0] {
	case 'W':
		return Stop{Exited: true, Code: int(n)}, nil
	case 'X':
		return Stop{Exited: true, Killed: true, Code: int(n)}, nil
	case 'S':
		return Stop{Signal: int(n)}, nil
	case 'T':
	default:
		return Stop{}, fmt.Errorf("gdbrsp: bad stop reply %q", reply)
	}

	s := Stop{Signal: int(n)}
	for _, field := range strings.Split(reply[3:], ";") {
		k, v, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}

		var kind trap.WatchKind
		switch k {
		case "watch":
			kind = trap.WatchWrite
		case "rwatch":
			kind = trap.WatchRead
		case "awatch":
			kind = trap.WatchReadWrite
		default:
			continue
		}

		addr, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return Stop{}, fmt.Errorf("gdbrsp: bad watch address in %q", reply)
		}

		s.Watch = kind
		s.WatchAddr = addr
	}

	return s, nil
}
