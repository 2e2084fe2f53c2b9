package sim

import (
	"fmt"
	"sync"
)

// HookPosBufPush marks when an element is pushed into the buffer.
var HookPosBufPush = &HookPos{Name: "Buffer Push"}

// HookPosBufPop marks when an element is popped from the buffer.
var HookPosBufPop = &HookPos{Name: "Buffer Pop"}

// A Buffer is a bounded FIFO queue. Peripheral models fill buffers from the
// bus goroutine while handlers drain them on the emulator goroutine, so all
// methods are safe for concurrent use.
type Buffer interface {
	Named
	Hookable

	CanPush() bool
	Push(e any)
	TryPush(e any) bool
	Pop() any
	Peek() any
	Capacity() int
	Size() int

	// PopWhile pops up to max elements. keep inspects the head element
	// first: ok false leaves it in the buffer and ends the run, stop true
	// pops it and ends the run.
	PopWhile(max int, keep func(e any) (ok, stop bool)) []any

	// Clear drops all the elements.
	Clear()
}

// NewBuffer creates a buffer that holds at most capacity elements.
func NewBuffer(name string, capacity int) Buffer {
	NameMustBeValid(name)

	if capacity <= 0 {
		panic(fmt.Sprintf("buffer %s: capacity must be positive", name))
	}

	return &ringBuffer{
		name: name,
		ring: make([]any, capacity),
	}
}

type ringBuffer struct {
	HookableBase

	name string

	lock  sync.Mutex
	ring  []any
	head  int
	count int
}

func (b *ringBuffer) Name() string {
	return b.name
}

func (b *ringBuffer) CanPush() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.count < len(b.ring)
}

func (b *ringBuffer) Push(e any) {
	if !b.TryPush(e) {
		panic(fmt.Sprintf("buffer %s overflow", b.name))
	}
}

// TryPush reports whether the element fit.
func (b *ringBuffer) TryPush(e any) bool {
	b.lock.Lock()
	if b.count == len(b.ring) {
		b.lock.Unlock()
		return false
	}

	b.ring[(b.head+b.count)%len(b.ring)] = e
	b.count++
	b.lock.Unlock()

	b.notify(HookPosBufPush, e)

	return true
}

func (b *ringBuffer) Pop() any {
	b.lock.Lock()
	if b.count == 0 {
		b.lock.Unlock()
		return nil
	}

	e := b.take()
	b.lock.Unlock()

	b.notify(HookPosBufPop, e)

	return e
}

func (b *ringBuffer) PopWhile(max int, keep func(e any) (ok, stop bool)) []any {
	var out []any

	b.lock.Lock()
	for len(out) < max && b.count > 0 {
		ok, stop := keep(b.ring[b.head])
		if !ok {
			break
		}

		out = append(out, b.take())
		if stop {
			break
		}
	}
	b.lock.Unlock()

	for _, e := range out {
		b.notify(HookPosBufPop, e)
	}

	return out
}

// take removes the head element. The lock must be held.
func (b *ringBuffer) take() any {
	e := b.ring[b.head]
	b.ring[b.head] = nil
	b.head = (b.head + 1) % len(b.ring)
	b.count--

	return e
}

func (b *ringBuffer) notify(pos *HookPos, e any) {
	if b.NumHooks() > 0 {
		b.InvokeHook(HookCtx{Domain: b, Pos: pos, Item: e})
	}
}

func (b *ringBuffer) Peek() any {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.count == 0 {
		return nil
	}

	return b.ring[b.head]
}

func (b *ringBuffer) Capacity() int {
	return len(b.ring)
}

func (b *ringBuffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.count
}

func (b *ringBuffer) Clear() {
	b.lock.Lock()
	defer b.lock.Unlock()

	clear(b.ring)
	b.head = 0
	b.count = 0
}
