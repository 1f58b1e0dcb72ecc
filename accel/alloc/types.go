package alloc

import "math"

// MaxCapacity is the default upper bound for growth: the largest element count a
// 32-bit signed buffer index can address.
const MaxCapacity = math.MaxInt32

// Block is the element range [Offset, Offset+Count). Count == 0 is the invalid block.
type Block struct {
	Offset int
	Count  int
}

// InvalidBlock is the empty block stored in freed used-table slots.
var InvalidBlock = Block{}

// End returns the exclusive end offset.
func (b Block) End() int { return b.Offset + b.Count }

// Valid reports whether b is non-empty.
func (b Block) Valid() bool { return b.Count != 0 }

// Allocation is a live block with a stable handle.
type Allocation struct {
	Handle int
	Block  Block
}

// InvalidAllocation is returned when an allocation cannot be satisfied.
var InvalidAllocation = Allocation{Handle: -1}

// Valid reports whether a refers to a granted block.
func (a Allocation) Valid() bool { return a.Handle != -1 }

// Allocator defines the block allocation contract.
//
// Implementations:
//   - BlockAllocator: best-fit free-list allocator with coalescing
type Allocator interface {
	// Allocate grants count contiguous elements, or InvalidAllocation.
	Allocate(count int) Allocation

	// FreeAllocation returns a's block to the free list.
	FreeAllocation(a Allocation)

	// Grow expands capacity toward newDesiredCapacity, bounded by maxAllowedNewCapacity.
	// Returns the new capacity, or 0 when nothing was added.
	Grow(newDesiredCapacity, maxAllowedNewCapacity int) int

	// GrowAndAllocate grows as needed and allocates count elements.
	GrowAndAllocate(count, maxAllowedNewCapacity int) (a Allocation, oldCapacity, newCapacity int)

	// SplitAllocation partitions a into n equal sub-allocations.
	SplitAllocation(a Allocation, n int) []Allocation

	// Capacity returns the size of the index space.
	Capacity() int

	// FreeElements returns the number of unallocated elements.
	FreeElements() int
}

var _ Allocator = (*BlockAllocator)(nil)
