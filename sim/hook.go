package sim

import (
	"slices"
	"sync"
)

// HookPos names a point where hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx describes one hook invocation. What Item and Detail hold depends on
// the position.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is a domain that hooks can be attached to.
type Hookable interface {
	// AcceptHook attaches a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks attached.
	NumHooks() int

	// Hooks returns the hooks attached, in order.
	Hooks() []Hook
}

// Hook is invoked by a hookable domain.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements Hookable. Hooks may be attached while other
// goroutines invoke them, as the monitor does on a running emulation.
type HookableBase struct {
	lock  sync.RWMutex
	hooks []Hook
}

// NewHookableBase creates a HookableBase with no hooks.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// AcceptHook attaches a hook after the existing ones.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.hooks = append(h.hooks, hook)
}

// NumHooks returns the number of hooks attached.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hooks)
}

// Hooks returns a copy of the hooks attached.
func (h *HookableBase) Hooks() []Hook {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return slices.Clone(h.hooks)
}

// InvokeHook calls the hooks in the order they were attached. A hook may
// attach further hooks; they are called from the next invocation on.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
