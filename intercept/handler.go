package intercept

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/scratch"
	"github.com/sarchlab/firmhook/trap"
)

// EntryPoint names one entry point of a handler.
type EntryPoint string

// A Method serves a trap.
type Method func(t *Trap) (Result, error)

// A Registration is what an entry point sees when an intercept is bound to
// it.
type Registration struct {
	Addr     uint64
	Function string
	Args     Args
}

// AnyFunction is an alias that makes an entry point answer to every
// function name that no other entry point of the handler claims.
const AnyFunction = "*"

// A HandlerEntry is a statically declared entry point of a handler. Aliases are
// the symbol names the entry point answers to in the configuration. The
// entry's own name is always accepted.
type HandlerEntry struct {
	Name    EntryPoint
	Aliases []string

	// Register binds the entry point to one location and returns the method
	// that serves it. Entries that keep per-location state create it here.
	Register func(r Registration) (Method, error)
}

// MethodEntry declares an entry point whose method does not depend on the
// registration.
func MethodEntry(name EntryPoint, m Method, aliases ...string) HandlerEntry {
	return HandlerEntry{
		Name:    name,
		Aliases: aliases,
		Register: func(Registration) (Method, error) {
			return m, nil
		},
	}
}

func (e HandlerEntry) answersTo(function string) bool {
	if string(e.Name) == function {
		return true
	}

	for _, a := range e.Aliases {
		if a == function {
			return true
		}
	}

	return false
}

// A Handler serves one or more entry points.
type Handler interface {
	Entries() []HandlerEntry
}

// A Class is a handler class. Each class is instantiated at most once.
type Class struct {
	Name string

	// Params lists the construction arguments the class accepts.
	Params []string

	New func(env *Env, args Args) (Handler, error)
}

// Result tells the dispatcher how to leave a trap.
type Result struct {
	// Intercept makes the dispatcher return from the intercepted function
	// to its caller instead of executing it.
	Intercept bool

	HasValue bool
	Value    uint64
}

// Return intercepts the function and returns v to its caller.
func Return(v uint64) Result {
	return Result{Intercept: true, HasValue: true, Value: v}
}

// ReturnVoid intercepts the function without touching the return register.
func ReturnVoid() Result {
	return Result{Intercept: true}
}

// PassThrough lets the guest continue at the current program counter.
func PassThrough() Result {
	return Result{}
}

// A Continuation names the handler entry point that runs when an injected
// call returns. The zero Continuation means the call returns straight to
// the caller.
type Continuation struct {
	Handler Handler
	Entry   EntryPoint
}

// IsZero reports whether the continuation is empty.
func (c Continuation) IsZero() bool {
	return c.Handler == nil
}

// A CallTarget is a guest function given by address or by symbol.
type CallTarget struct {
	Addr   uint64
	Symbol string
}

// CallAddr names a guest function by address.
func CallAddr(addr uint64) CallTarget {
	return CallTarget{Addr: addr}
}

// CallSymbol names a guest function by symbol.
func CallSymbol(symbol string) CallTarget {
	return CallTarget{Symbol: symbol}
}

func (c CallTarget) String() string {
	if c.Symbol != "" {
		return c.Symbol
	}

	return fmt.Sprintf("%#x", c.Addr)
}

// A Caller runs guest functions on behalf of handlers.
type Caller interface {
	// Invoke makes the guest call target with args. The call happens after
	// the current trap returns, and cont runs when the call returns.
	Invoke(target CallTarget, args []uint64, cont Continuation) (Result, error)

	// WriteBuffer copies data into a fresh scratch block.
	WriteBuffer(data []byte) (*scratch.Block, error)

	// Free releases a scratch block.
	Free(b *scratch.Block) error
}

// A SymbolTable maps guest symbols to addresses.
type SymbolTable interface {
	Lookup(name string) (uint64, bool)
	NameOf(addr uint64) (string, bool)
}

// A ModelFinder finds peripheral model instances by name.
type ModelFinder interface {
	FindModel(name string) (any, bool)
}

// Env is what handlers can reach.
type Env struct {
	Target  trap.Target
	Arch    *arch.Arch
	Logger  *slog.Logger
	Calls   Caller
	Symbols SymbolTable
	Models  ModelFinder

	// Shutdown stops the emulation and exits with code.
	Shutdown func(code int)

	// Context ends when the emulation shuts down. Handlers that wait for
	// peripheral input wait on it.
	Context context.Context
}

// Ctx returns the emulation context.
func (e *Env) Ctx() context.Context {
	if e.Context == nil {
		return context.Background()
	}

	return e.Context
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}

	return e.Logger
}
