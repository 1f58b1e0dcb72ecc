package alloc

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// assertInvariants fails the test if any allocator invariant is broken.
func assertInvariants(t testing.TB, ba *BlockAllocator) {
	t.Helper()
	require.NoError(t, ba.Validate())
}

// liveElements sums the counts of all live used blocks.
func liveElements(ba *BlockAllocator) int {
	n := 0
	for _, b := range ba.usedBlocks {
		n += b.Count
	}
	return n
}

// sortedFree returns the free list ordered by offset.
func sortedFree(ba *BlockAllocator) []Block {
	free := ba.FreeBlocks()
	slices.SortFunc(free, func(a, b Block) int { return a.Offset - b.Offset })
	return free
}

// newWithHoles initializes an allocator whose free list holds blocks of the given
// sizes, in that iteration order, each separated by a one-element live block.
// Returns the allocator and the offset of each hole keyed by position.
func newWithHoles(t testing.TB, sizes ...int) (*BlockAllocator, []int) {
	t.Helper()

	total := 0
	for _, s := range sizes {
		total += s + 1
	}
	ba := New(total)

	holes := make([]Allocation, len(sizes))
	offsets := make([]int, len(sizes))
	for i, s := range sizes {
		holes[i] = ba.Allocate(s)
		require.True(t, holes[i].Valid())
		offsets[i] = holes[i].Block.Offset
		require.True(t, ba.Allocate(1).Valid())
	}
	require.Equal(t, 0, ba.FreeElements())

	for _, h := range holes {
		ba.FreeAllocation(h)
	}
	require.Equal(t, len(sizes), ba.FreeBlockCount())
	assertInvariants(t, ba)
	return ba, offsets
}
