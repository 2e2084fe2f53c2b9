package sim

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator generates task and message IDs.
type IDGenerator interface {
	Generate() string
}

var ids struct {
	sync.Mutex
	gen IDGenerator
}

// UseSequentialIDGenerator makes the process number IDs 1, 2, 3 and so on.
// Tests use it to get reproducible IDs. It panics once an ID generator is in
// use.
func UseSequentialIDGenerator() {
	useIDGenerator(&sequentialIDGenerator{})
}

// UseGlobalIDGenerator makes the process generate globally unique IDs that
// are safe to share with the processes on the other side of the peripheral
// bus. It is the default.
func UseGlobalIDGenerator() {
	useIDGenerator(globalIDGenerator{})
}

func useIDGenerator(g IDGenerator) {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen != nil {
		panic("cannot change the ID generator after it is used")
	}

	ids.gen = g
}

// GetIDGenerator returns the ID generator of the process.
func GetIDGenerator() IDGenerator {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen == nil {
		ids.gen = globalIDGenerator{}
	}

	return ids.gen
}

type sequentialIDGenerator struct {
	last atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

type globalIDGenerator struct{}

func (globalIDGenerator) Generate() string {
	return xid.New().String()
}
