package alloc

import "fmt"

// BlockAllocator is a free-list range allocator over [0, Capacity()).
//   - freeBlocks is unordered; removal is swap-with-last
//   - usedBlocks is indexed by handle; freed slots hold InvalidBlock until reused
//   - freeSlots is a LIFO stack of reusable handles
//
// The zero value is uninitialized; call Initialize before use.
type BlockAllocator struct {
	capacity         int
	freeElementCount int

	freeBlocks []Block
	usedBlocks []Block
	freeSlots  []int

	// created marks the Ready state; Dispose clears it.
	created bool

	// droppedElements counts elements lost to SplitAllocation remainders since the
	// last Initialize. They belong to neither the free list nor a live block.
	droppedElements int

	stats Stats
}

// New returns an allocator initialized with capacity free elements.
func New(capacity int) *BlockAllocator {
	ba := &BlockAllocator{}
	ba.Initialize(capacity)
	return ba
}

// Initialize resets the allocator to a single free block [0, maxElementCount).
// It may be called repeatedly; existing backing storage is reused.
func (ba *BlockAllocator) Initialize(maxElementCount int) {
	if maxElementCount < 0 {
		panic(fmt.Errorf("alloc: negative capacity %d", maxElementCount))
	}

	ba.capacity = maxElementCount
	ba.freeElementCount = maxElementCount
	ba.droppedElements = 0

	if ba.created {
		ba.freeBlocks = ba.freeBlocks[:0]
		ba.usedBlocks = ba.usedBlocks[:0]
		ba.freeSlots = ba.freeSlots[:0]
	} else {
		ba.freeBlocks = make([]Block, 0, 16)
		ba.usedBlocks = make([]Block, 0, 16)
		ba.freeSlots = make([]int, 0, 16)
		ba.created = true
	}

	if maxElementCount > 0 {
		ba.freeBlocks = append(ba.freeBlocks, Block{Offset: 0, Count: maxElementCount})
	}
}

// Dispose releases all backing storage. Safe to call more than once and on a
// never-initialized allocator.
func (ba *BlockAllocator) Dispose() {
	ba.capacity = 0
	ba.freeElementCount = 0
	ba.droppedElements = 0
	ba.freeBlocks = nil
	ba.usedBlocks = nil
	ba.freeSlots = nil
	ba.created = false
}

// Ready reports whether the allocator has been initialized and not disposed.
func (ba *BlockAllocator) Ready() bool { return ba.created }

// Capacity returns the number of elements in the index space.
func (ba *BlockAllocator) Capacity() int { return ba.capacity }

// FreeElements returns the total element count across all free blocks.
func (ba *BlockAllocator) FreeElements() int { return ba.freeElementCount }

// FreeBlockCount returns the number of free blocks.
func (ba *BlockAllocator) FreeBlockCount() int { return len(ba.freeBlocks) }

// DroppedElements returns the elements lost to SplitAllocation remainders.
func (ba *BlockAllocator) DroppedElements() int { return ba.droppedElements }

// FreeBlocks returns a copy of the free list in its internal order.
func (ba *BlockAllocator) FreeBlocks() []Block {
	out := make([]Block, len(ba.freeBlocks))
	copy(out, ba.freeBlocks)
	return out
}

// UsedBlock returns the block held by handle, if the handle is live.
func (ba *BlockAllocator) UsedBlock(handle int) (Block, bool) {
	if handle < 0 || handle >= len(ba.usedBlocks) {
		return InvalidBlock, false
	}
	b := ba.usedBlocks[handle]
	return b, b.Valid()
}

// LiveAllocations returns the number of live handles.
func (ba *BlockAllocator) LiveAllocations() int {
	return len(ba.usedBlocks) - len(ba.freeSlots)
}

// LargestFreeBlock returns the largest free block, or InvalidBlock if none.
func (ba *BlockAllocator) LargestFreeBlock() Block {
	best := InvalidBlock
	for _, b := range ba.freeBlocks {
		if b.Count > best.Count {
			best = b
		}
	}
	return best
}

// Allocate grants count contiguous elements using best-fit: among all free blocks
// that can hold count, the one with the smallest count wins (first one on ties).
// The allocation takes the low end of the chosen block.
//
// Returns InvalidAllocation when count is not positive, exceeds the free element
// count, or no single free block is large enough.
func (ba *BlockAllocator) Allocate(count int) Allocation {
	ba.mustBeReady("Allocate")
	ba.stats.AllocCalls++

	if count <= 0 || count > ba.freeElementCount || len(ba.freeBlocks) == 0 {
		ba.stats.AllocFailures++
		debugf("alloc: request failed", "count", count, "free", ba.freeElementCount)
		return InvalidAllocation
	}

	selected := -1
	selectedCount := 0
	for i, b := range ba.freeBlocks {
		if count <= b.Count && (selected == -1 || b.Count < selectedCount) {
			selected = i
			selectedCount = b.Count
		}
	}
	if selected == -1 {
		ba.stats.AllocFailures++
		debugf("alloc: fragmented, no block fits",
			"count", count, "free", ba.freeElementCount, "blocks", len(ba.freeBlocks))
		return InvalidAllocation
	}

	chosen := ba.freeBlocks[selected]
	granted := Block{Offset: chosen.Offset, Count: count}
	rest := Block{Offset: chosen.Offset + count, Count: chosen.Count - count}

	if rest.Count > 0 {
		ba.freeBlocks[selected] = rest
		ba.stats.Splits++
	} else {
		ba.removeFreeBlock(selected)
	}

	handle := ba.takeHandle(granted)
	ba.freeElementCount -= count
	ba.stats.ElementsAllocated += int64(count)

	return Allocation{Handle: handle, Block: granted}
}

// FreeAllocation returns a's block to the free list and coalesces it with any
// adjacent free blocks. a must be valid and live; anything else panics.
func (ba *BlockAllocator) FreeAllocation(a Allocation) {
	ba.mustBeReady("FreeAllocation")
	if !a.Valid() {
		panic(fmt.Errorf("%w: cannot free invalid allocation", ErrInvalidAllocation))
	}
	ba.mustBeLive(a)
	ba.stats.FreeCalls++

	ba.freeSlots = append(ba.freeSlots, a.Handle)
	ba.usedBlocks[a.Handle] = InvalidBlock

	ba.insertFreeBlock(a.Block)
	ba.freeElementCount += a.Block.Count
	ba.stats.ElementsFreed += int64(a.Block.Count)
}

// Grow expands the index space. The target is 1.5x the current capacity, raised
// to newDesiredCapacity if that is larger and capped at maxAllowedNewCapacity.
// The new range [old, new) is appended to the free list and merged with a free
// block ending at the old capacity.
//
// Returns the new capacity, or 0 when newDesiredCapacity does not exceed the
// current capacity or the cap leaves no room to grow.
func (ba *BlockAllocator) Grow(newDesiredCapacity, maxAllowedNewCapacity int) int {
	ba.mustBeReady("Grow")

	if newDesiredCapacity <= ba.capacity {
		return 0
	}

	target := ba.geometricGrowthCapacity(newDesiredCapacity, maxAllowedNewCapacity)
	oldCapacity := ba.capacity
	added := target - oldCapacity
	if added <= 0 {
		return 0
	}

	ba.stats.GrowCalls++
	ba.stats.GrowElements += int64(added)
	debugf("alloc: grow", "old", oldCapacity, "new", target, "desired", newDesiredCapacity)

	ba.freeElementCount += added
	ba.capacity = target
	ba.insertFreeBlock(Block{Offset: oldCapacity, Count: added})

	return target
}

// geometricGrowthCapacity picks the grown capacity: 1.5x, at least desired, at most
// maxAllowed. Ordered so that no intermediate value overflows.
func (ba *BlockAllocator) geometricGrowthCapacity(desired, maxAllowed int) int {
	old := ba.capacity

	if old > maxAllowed-old/2 {
		return maxAllowed
	}

	geometric := old + old/2
	if geometric < desired {
		return min(desired, maxAllowed)
	}
	return geometric
}

// GrowAndAllocate grows the index space by at least the shortfall for count and
// then allocates. The shortfall is measured against the free block that ends at
// the current capacity, since that is the block the grown range merges into; with
// no such block the full count is required.
//
// Returns InvalidAllocation with newCapacity 0 when the required capacity would
// exceed maxAllowedNewCapacity. Callers that receive newCapacity > oldCapacity
// must resize its buffer before using the returned offsets.
func (ba *BlockAllocator) GrowAndAllocate(count, maxAllowedNewCapacity int) (a Allocation, oldCapacity, newCapacity int) {
	ba.mustBeReady("GrowAndAllocate")
	oldCapacity = ba.capacity

	if count <= 0 {
		return InvalidAllocation, oldCapacity, 0
	}

	required := count
	if tail, ok := ba.tailFreeBlock(); ok {
		required = max(count-tail.Count, 0)
	}

	if maxAllowedNewCapacity < ba.capacity || maxAllowedNewCapacity-ba.capacity < required {
		ba.stats.AllocFailures++
		debugf("alloc: grow-and-allocate exceeds limit",
			"count", count, "required", required, "capacity", ba.capacity, "max", maxAllowedNewCapacity)
		return InvalidAllocation, oldCapacity, 0
	}

	if required > 0 {
		newCapacity = ba.Grow(ba.capacity+required, maxAllowedNewCapacity)
		if newCapacity == 0 {
			return InvalidAllocation, oldCapacity, 0
		}
	}

	a = ba.Allocate(count)
	if !a.Valid() {
		panic(fmt.Errorf("%w: allocation of %d failed after growing %d -> %d",
			ErrInconsistent, count, oldCapacity, ba.capacity))
	}
	return a, oldCapacity, newCapacity
}

// SplitAllocation partitions a into n contiguous sub-allocations of a.Block.Count/n
// elements each. The first keeps a's handle; the others take handles like Allocate.
// The free element count does not change.
//
// When a.Block.Count is not a multiple of n the trailing remainder is not covered by
// any block afterwards; it is counted in DroppedElements.
func (ba *BlockAllocator) SplitAllocation(a Allocation, n int) []Allocation {
	ba.mustBeReady("SplitAllocation")
	if !a.Valid() {
		panic(fmt.Errorf("%w: cannot split invalid allocation", ErrInvalidAllocation))
	}
	ba.mustBeLive(a)
	if n <= 0 || n > a.Block.Count {
		panic(fmt.Errorf("%w: %d parts of %d elements", ErrBadSplit, n, a.Block.Count))
	}

	size := a.Block.Count / n
	if dropped := a.Block.Count - size*n; dropped > 0 {
		ba.droppedElements += dropped
		ba.stats.SplitDroppedElements += int64(dropped)
		debugf("alloc: split remainder dropped", "handle", a.Handle, "dropped", dropped)
	}

	out := make([]Allocation, n)
	first := Block{Offset: a.Block.Offset, Count: size}
	ba.usedBlocks[a.Handle] = first
	out[0] = Allocation{Handle: a.Handle, Block: first}

	for i := 1; i < n; i++ {
		b := Block{Offset: a.Block.Offset + i*size, Count: size}
		out[i] = Allocation{Handle: ba.takeHandle(b), Block: b}
	}
	ba.stats.SplitAllocations++
	return out
}

// takeHandle stores b in the used table, reusing the most recently freed handle.
func (ba *BlockAllocator) takeHandle(b Block) int {
	if n := len(ba.freeSlots); n > 0 {
		handle := ba.freeSlots[n-1]
		ba.freeSlots = ba.freeSlots[:n-1]
		ba.usedBlocks[handle] = b
		return handle
	}
	ba.usedBlocks = append(ba.usedBlocks, b)
	return len(ba.usedBlocks) - 1
}

// tailFreeBlock returns the free block ending at the current capacity.
func (ba *BlockAllocator) tailFreeBlock() (Block, bool) {
	for _, b := range ba.freeBlocks {
		if b.End() == ba.capacity {
			return b, true
		}
	}
	return InvalidBlock, false
}

func (ba *BlockAllocator) mustBeReady(op string) {
	if !ba.created {
		panic(fmt.Errorf("%w: %s", ErrNotInitialized, op))
	}
}

func (ba *BlockAllocator) mustBeLive(a Allocation) {
	if a.Handle < 0 || a.Handle >= len(ba.usedBlocks) || ba.usedBlocks[a.Handle] != a.Block {
		panic(fmt.Errorf("%w: handle %d block [%d,%d)",
			ErrStaleAllocation, a.Handle, a.Block.Offset, a.Block.End()))
	}
}
