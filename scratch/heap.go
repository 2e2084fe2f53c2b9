// Package scratch manages the scratch memory region reserved in the guest
// address space for injected call stubs and transient data buffers.
package scratch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/firmhook/sim"
)

// HookPosAllocate marks a successful allocation. The item is the block.
var HookPosAllocate = &sim.HookPos{Name: "Scratch Allocate"}

// HookPosFree marks a release. The item is the block released.
var HookPosFree = &sim.HookPos{Name: "Scratch Free"}

// A Block is a contiguous range of the scratch region.
type Block struct {
	Base  uint64 `json:"base"`
	Size  uint64 `json:"size"`
	InUse bool   `json:"in_use"`
}

// End returns the first address after the block.
func (b Block) End() uint64 {
	return b.Base + b.Size
}

// OutOfScratchMemoryError is returned when no free block can hold a request.
type OutOfScratchMemoryError struct {
	Requested uint64
	Largest   uint64
}

func (e *OutOfScratchMemoryError) Error() string {
	return fmt.Sprintf("out of scratch memory: requested %d bytes, "+
		"largest free block is %d bytes", e.Requested, e.Largest)
}

// Heap is a first-fit allocator over the scratch region. Free blocks are
// kept sorted by address and always coalesced, so free and allocated blocks
// partition the region without overlap.
//
// The emulator goroutine allocates and frees. The monitor reads the blocks
// from its own goroutine.
type Heap struct {
	*sim.HookableBase

	base, size uint64
	align      uint64

	lock sync.Mutex
	free []*Block
	used map[uint64]*Block
}

// NewHeap creates a heap over [base, base+size). Allocation sizes are
// rounded up to align, which is the pointer size of the guest.
func NewHeap(base, size uint64, align int) *Heap {
	if align <= 0 || align&(align-1) != 0 {
		panic("scratch alignment must be a power of two")
	}

	if size == 0 {
		panic("scratch region must not be empty")
	}

	return &Heap{
		HookableBase: sim.NewHookableBase(),
		base:         base,
		size:         size,
		align:        uint64(align),
		free:         []*Block{{Base: base, Size: size}},
		used:         make(map[uint64]*Block),
	}
}

// Base returns the first address of the region.
func (h *Heap) Base() uint64 {
	return h.base
}

// Size returns the size of the region.
func (h *Heap) Size() uint64 {
	return h.size
}

func (h *Heap) roundUp(size uint64) uint64 {
	if size == 0 {
		return h.align
	}

	return (size + h.align - 1) &^ (h.align - 1)
}

// Allocate reserves a block of at least size bytes. The block is taken from
// the lowest-addressed free block that fits, which is split in two when it
// is larger than the request.
func (h *Heap) Allocate(size uint64) (*Block, error) {
	if size > h.size {
		h.lock.Lock()
		defer h.lock.Unlock()

		return nil, &OutOfScratchMemoryError{
			Requested: size,
			Largest:   h.largestFree(),
		}
	}

	size = h.roundUp(size)

	h.lock.Lock()

	for i, f := range h.free {
		if f.Size < size {
			continue
		}

		b := &Block{Base: f.Base, Size: size, InUse: true}

		if f.Size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			f.Base += size
			f.Size -= size
		}

		h.used[b.Base] = b
		h.lock.Unlock()

		h.invoke(HookPosAllocate, b)

		return b, nil
	}

	defer h.lock.Unlock()

	return nil, &OutOfScratchMemoryError{
		Requested: size,
		Largest:   h.largestFree(),
	}
}

func (h *Heap) largestFree() uint64 {
	var largest uint64
	for _, f := range h.free {
		if f.Size > largest {
			largest = f.Size
		}
	}

	return largest
}

// Free releases a block and merges it with the free blocks right before and
// right after it.
func (h *Heap) Free(b *Block) error {
	if b == nil {
		return fmt.Errorf("free of nil scratch block")
	}

	h.lock.Lock()

	owned, ok := h.used[b.Base]
	if !ok || owned != b {
		h.lock.Unlock()

		return fmt.Errorf("free of scratch block %#x that is not allocated",
			b.Base)
	}

	delete(h.used, b.Base)
	b.InUse = false

	released := &Block{Base: b.Base, Size: b.Size}

	i := sort.Search(len(h.free), func(i int) bool {
		return h.free[i].Base > released.Base
	})

	mergeNext := i < len(h.free) && h.free[i].Base == released.End()
	mergePrev := i > 0 && h.free[i-1].End() == released.Base

	switch {
	case mergePrev && mergeNext:
		h.free[i-1].Size += released.Size + h.free[i].Size
		h.free = append(h.free[:i], h.free[i+1:]...)
	case mergePrev:
		h.free[i-1].Size += released.Size
	case mergeNext:
		h.free[i].Base = released.Base
		h.free[i].Size += released.Size
	default:
		h.free = append(h.free, nil)
		copy(h.free[i+1:], h.free[i:])
		h.free[i] = released
	}

	h.lock.Unlock()

	h.invoke(HookPosFree, b)

	return nil
}

func (h *Heap) invoke(pos *sim.HookPos, b *Block) {
	if h.NumHooks() == 0 {
		return
	}

	h.InvokeHook(sim.HookCtx{
		Domain: h,
		Pos:    pos,
		Item:   *b,
	})
}

// FreeBlocks returns a copy of the free blocks, ordered by address.
func (h *Heap) FreeBlocks() []Block {
	h.lock.Lock()
	defer h.lock.Unlock()

	blocks := make([]Block, len(h.free))
	for i, f := range h.free {
		blocks[i] = *f
	}

	return blocks
}

// AllocatedBlocks returns a copy of the allocated blocks, ordered by
// address.
func (h *Heap) AllocatedBlocks() []Block {
	h.lock.Lock()
	defer h.lock.Unlock()

	blocks := make([]Block, 0, len(h.used))
	for _, b := range h.used {
		blocks = append(blocks, *b)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Base < blocks[j].Base
	})

	return blocks
}

// Usage returns the number of allocated bytes and the size of the region.
func (h *Heap) Usage() (used, total uint64) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for _, b := range h.used {
		used += b.Size
	}

	return used, h.size
}
