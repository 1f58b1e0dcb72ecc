package alloc

import (
	"fmt"
	"slices"
)

// Validate checks the allocator invariants and returns an error wrapping ErrCorrupt
// describing the first violation found:
//   - free blocks are non-empty, inside [0, capacity), pairwise disjoint and non-adjacent
//   - the free counts sum to FreeElements()
//   - free and live blocks never overlap, and together with DroppedElements cover
//     the whole capacity
//   - every handle on the free-slot stack is unique and points at an empty slot
//
// Validate is O(n log n) and meant for tests and diagnostics.
func (ba *BlockAllocator) Validate() error {
	if !ba.created {
		return nil
	}

	sum := 0
	for _, b := range ba.freeBlocks {
		if b.Count <= 0 {
			return fmt.Errorf("%w: empty free block at %d", ErrCorrupt, b.Offset)
		}
		if b.Offset < 0 || b.End() > ba.capacity {
			return fmt.Errorf("%w: free block [%d,%d) outside capacity %d",
				ErrCorrupt, b.Offset, b.End(), ba.capacity)
		}
		sum += b.Count
	}
	if sum != ba.freeElementCount {
		return fmt.Errorf("%w: free blocks sum to %d, free count is %d",
			ErrCorrupt, sum, ba.freeElementCount)
	}

	free := slices.Clone(ba.freeBlocks)
	slices.SortFunc(free, func(a, b Block) int { return a.Offset - b.Offset })
	for i := 1; i < len(free); i++ {
		if free[i].Offset <= free[i-1].End() {
			return fmt.Errorf("%w: free blocks [%d,%d) and [%d,%d) overlap or touch",
				ErrCorrupt, free[i-1].Offset, free[i-1].End(), free[i].Offset, free[i].End())
		}
	}

	type span struct {
		Block
		handle int // -1 for free blocks
	}
	all := make([]span, 0, len(free)+len(ba.usedBlocks))
	for _, b := range free {
		all = append(all, span{Block: b, handle: -1})
	}
	covered := sum
	for h, b := range ba.usedBlocks {
		if !b.Valid() {
			continue
		}
		if b.Offset < 0 || b.End() > ba.capacity {
			return fmt.Errorf("%w: handle %d block [%d,%d) outside capacity %d",
				ErrCorrupt, h, b.Offset, b.End(), ba.capacity)
		}
		all = append(all, span{Block: b, handle: h})
		covered += b.Count
	}
	slices.SortFunc(all, func(a, b span) int { return a.Offset - b.Offset })
	for i := 1; i < len(all); i++ {
		if all[i].Offset < all[i-1].End() {
			return fmt.Errorf("%w: blocks (handle %d) [%d,%d) and (handle %d) [%d,%d) overlap",
				ErrCorrupt, all[i-1].handle, all[i-1].Offset, all[i-1].End(),
				all[i].handle, all[i].Offset, all[i].End())
		}
	}
	if covered+ba.droppedElements != ba.capacity {
		return fmt.Errorf("%w: %d free + live elements and %d dropped do not cover capacity %d",
			ErrCorrupt, covered, ba.droppedElements, ba.capacity)
	}

	seen := make(map[int]bool, len(ba.freeSlots))
	for _, h := range ba.freeSlots {
		if h < 0 || h >= len(ba.usedBlocks) {
			return fmt.Errorf("%w: free slot %d out of range", ErrCorrupt, h)
		}
		if seen[h] {
			return fmt.Errorf("%w: free slot %d listed twice", ErrCorrupt, h)
		}
		if ba.usedBlocks[h].Valid() {
			return fmt.Errorf("%w: free slot %d still holds a block", ErrCorrupt, h)
		}
		seen[h] = true
	}
	return nil
}
