package guestcall

import (
	"log/slog"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/trap"
)

// Builder can build injectors.
type Builder struct {
	target  trap.Target
	arch    *arch.Arch
	heap    *scratch.Heap
	binder  Binder
	symbols intercept.SymbolTable
	logger  *slog.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTarget sets the emulator the calls run in.
func (b Builder) WithTarget(t trap.Target) Builder {
	b.target = t
	return b
}

// WithArch sets the guest architecture.
func (b Builder) WithArch(a *arch.Arch) Builder {
	b.arch = a
	return b
}

// WithHeap sets the scratch heap that holds stubs and buffers.
func (b Builder) WithHeap(h *scratch.Heap) Builder {
	b.heap = h
	return b
}

// WithBinder sets what binds continuation breakpoints, normally the
// intercept dispatcher.
func (b Builder) WithBinder(binder Binder) Builder {
	b.binder = binder
	return b
}

// WithSymbols sets the table used to resolve call targets given by symbol.
func (b Builder) WithSymbols(s intercept.SymbolTable) Builder {
	b.symbols = s
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.target == nil {
		panic("injector needs a target")
	}

	if b.arch == nil {
		panic("injector needs an architecture")
	}

	if b.heap == nil {
		panic("injector needs a scratch heap")
	}

	if b.binder == nil {
		panic("injector needs a binder")
	}
}

// Build creates the injector.
func (b Builder) Build() *Injector {
	b.parametersMustBeValid()

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Injector{
		HookableBase: sim.NewHookableBase(),
		target:       b.target,
		arch:         b.arch,
		heap:         b.heap,
		binder:       b.binder,
		symbols:      b.symbols,
		logger:       logger,
		stubs:        make(map[CallStubKey]*stub),
	}
}
