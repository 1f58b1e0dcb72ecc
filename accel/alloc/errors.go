package alloc

import "errors"

var (
	// ErrNotInitialized indicates use of an allocator before Initialize or after Dispose.
	ErrNotInitialized = errors.New("alloc: allocator not initialized")

	// ErrInvalidAllocation indicates an attempt to free or split the invalid allocation.
	ErrInvalidAllocation = errors.New("alloc: invalid allocation")

	// ErrStaleAllocation indicates the allocation no longer matches the used-block table
	// (double free, or freeing an allocation that was split).
	ErrStaleAllocation = errors.New("alloc: stale allocation")

	// ErrBadSplit indicates a split count that is non-positive or exceeds the block size.
	ErrBadSplit = errors.New("alloc: bad split count")

	// ErrInconsistent indicates internal state that contradicts the allocator's own accounting.
	ErrInconsistent = errors.New("alloc: inconsistent state")

	// ErrCorrupt is returned by Validate when an invariant does not hold.
	ErrCorrupt = errors.New("alloc: invariant violated")
)
