package alloc

import (
	"fmt"
	"io"
)

// Stats holds cumulative allocator counters. Initialize does not reset them.
type Stats struct {
	AllocCalls           int   // Allocate calls, including those made by GrowAndAllocate
	AllocFailures        int   // Allocate/GrowAndAllocate calls that returned InvalidAllocation
	FreeCalls            int   // FreeAllocation calls
	GrowCalls            int   // Grow calls that added elements
	GrowElements         int64 // Total elements added by Grow
	ElementsAllocated    int64 // Total elements handed out
	ElementsFreed        int64 // Total elements returned
	Splits               int   // Free blocks split by Allocate
	MergesForward        int   // Freed block merged into a following neighbor
	MergesBackward       int   // Freed block merged into a preceding neighbor
	SplitAllocations     int   // SplitAllocation calls
	SplitDroppedElements int64 // Elements lost to split remainders
}

// Stats returns a snapshot of the allocator counters.
func (ba *BlockAllocator) Stats() Stats {
	return ba.stats
}

// Fragmentation returns 1 - largest/free, the share of free space unusable by a
// single request of maximal size. 0 when nothing is free.
func (ba *BlockAllocator) Fragmentation() float64 {
	if ba.freeElementCount == 0 {
		return 0
	}
	largest := ba.LargestFreeBlock().Count
	return 1 - float64(largest)/float64(ba.freeElementCount)
}

// WriteStats prints a human-readable summary of the allocator state and counters.
func (ba *BlockAllocator) WriteStats(w io.Writer) {
	s := ba.stats
	fmt.Fprintf(w, "=== BLOCK ALLOCATOR ===\n")
	fmt.Fprintf(w, "Capacity:           %d elements\n", ba.capacity)
	fmt.Fprintf(w, "Free:               %d elements in %d blocks (largest %d)\n",
		ba.freeElementCount, len(ba.freeBlocks), ba.LargestFreeBlock().Count)
	fmt.Fprintf(w, "Live allocations:   %d\n", ba.LiveAllocations())
	fmt.Fprintf(w, "Fragmentation:      %.1f%%\n", 100*ba.Fragmentation())
	fmt.Fprintf(w, "Alloc calls:        %d (failed: %d)\n", s.AllocCalls, s.AllocFailures)
	fmt.Fprintf(w, "Free calls:         %d\n", s.FreeCalls)
	fmt.Fprintf(w, "Grow calls:         %d (%d elements added)\n", s.GrowCalls, s.GrowElements)
	fmt.Fprintf(w, "Block splits:       %d\n", s.Splits)
	fmt.Fprintf(w, "Merges fwd/back:    %d/%d\n", s.MergesForward, s.MergesBackward)
	if s.SplitAllocations > 0 {
		fmt.Fprintf(w, "Split allocations:  %d (%d elements dropped)\n",
			s.SplitAllocations, s.SplitDroppedElements)
	}
}
