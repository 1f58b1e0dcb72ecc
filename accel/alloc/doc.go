// Package alloc provides block allocation over a linear element index space,
// used to sub-allocate regions of GPU buffers for acceleration structures.
//
// # Overview
//
// BlockAllocator hands out contiguous element ranges ("blocks") from a free list.
// Offsets are element indices into a buffer owned by the caller; the allocator
// never touches buffer memory itself.
//
//   - Allocate(count): best-fit over all free blocks (smallest block that fits)
//   - FreeAllocation(a): return a block and coalesce it with adjacent free blocks
//   - Grow(desired, max): geometric 1.5x growth of the index space
//   - GrowAndAllocate(count, max): grow just enough, then allocate
//   - SplitAllocation(a, n): partition a live allocation into n equal parts
//
// # Usage Example
//
//	var ba alloc.BlockAllocator
//	ba.Initialize(1000)
//	defer ba.Dispose()
//
//	a := ba.Allocate(300)
//	if !a.Valid() {
//	    var oldCap, newCap int
//	    a, oldCap, newCap = ba.GrowAndAllocate(300, math.MaxInt32/4)
//	    if !a.Valid() {
//	        return errOutOfMemory
//	    }
//	    if newCap > oldCap {
//	        // reallocate the backing buffer to newCap elements and copy the
//	        // first oldCap elements before using a.Block.Offset
//	    }
//	}
//
// # Handles
//
// Allocation.Handle indexes a dense table of used blocks. Freed handles are pushed
// on a stack and reused LIFO by the next Allocate or SplitAllocation. Handle -1 is
// the invalid allocation returned on failure.
//
// # Faults
//
// Capacity exhaustion is not an error: Allocate and GrowAndAllocate return an
// invalid Allocation. Contract violations (freeing an invalid or stale allocation,
// using an allocator before Initialize, an allocation failing right after a grow
// that should have satisfied it) panic with one of the sentinel errors in this
// package.
//
// # Debug Logging
//
// Setting RTKIT_LOG_ALLOC to a non-empty value emits debug records for grows,
// failed allocations and merges through internal/logger.
//
// # Thread Safety
//
// BlockAllocator instances are not thread-safe. Callers must synchronize access
// externally.
package alloc
