package alloc

// removeFreeBlock deletes freeBlocks[i] by moving the last block into its slot.
func (ba *BlockAllocator) removeFreeBlock(i int) {
	last := len(ba.freeBlocks) - 1
	ba.freeBlocks[i] = ba.freeBlocks[last]
	ba.freeBlocks = ba.freeBlocks[:last]
}

// insertFreeBlock appends b and coalesces it until no adjacent free block remains.
func (ba *BlockAllocator) insertFreeBlock(b Block) {
	candidate := len(ba.freeBlocks)
	ba.freeBlocks = append(ba.freeBlocks, b)

	for candidate != -1 {
		candidate = ba.mergeFrontBack(candidate)
	}
}

// mergeFrontBack absorbs freeBlocks[id] into the first free block that touches it
// on either side, then swap-removes id. Returns the index the absorbing block now
// lives at, so the caller can retry from there, or -1 when nothing touches id.
//
// The swap-remove moves the last block into slot id. If the absorbing block was
// that last block, its new index is id.
func (ba *BlockAllocator) mergeFrontBack(id int) int {
	target := ba.freeBlocks[id]

	for i := range ba.freeBlocks {
		if i == id {
			continue
		}

		neighbor := ba.freeBlocks[i]
		switch {
		case target.Offset == neighbor.End():
			// target follows neighbor
			neighbor.Count += target.Count
			ba.stats.MergesBackward++
		case neighbor.Offset == target.End():
			// neighbor follows target
			neighbor.Offset = target.Offset
			neighbor.Count += target.Count
			ba.stats.MergesForward++
		default:
			continue
		}

		ba.freeBlocks[i] = neighbor
		ba.removeFreeBlock(id)
		debugf("alloc: merged free blocks", "offset", neighbor.Offset, "count", neighbor.Count)

		if i == len(ba.freeBlocks) {
			return id
		}
		return i
	}

	return -1
}
