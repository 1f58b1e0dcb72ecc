package compute

import (
	"fmt"
	"math"

	"github.com/joshuapare/rtkit/accel/alloc"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/internal/buf"
	"github.com/joshuapare/rtkit/internal/logger"
)

// nodeArena is a node buffer plus the allocator that partitions it. Allocator
// elements are nodes; the buffer holds capacity*nodeSize bytes.
type nodeArena struct {
	name      string
	nodeSize  int
	allocator *alloc.BlockAllocator
	buffer    gpubuf.Buffer
	factory   gpubuf.Factory

	// broken is set when the allocator grew past the buffer. reset recovers.
	broken error
}

func newNodeArena(name string, nodeCount, nodeSize int, factory gpubuf.Factory) (*nodeArena, error) {
	b, err := factory(nodeCount, nodeSize)
	if err != nil {
		return nil, fmt.Errorf("compute: create %s buffer: %w", name, err)
	}
	return &nodeArena{
		name:      name,
		nodeSize:  nodeSize,
		allocator: alloc.New(nodeCount),
		buffer:    b,
		factory:   factory,
	}, nil
}

// maxNodes bounds growth so the buffer stays below 2 GiB.
func (n *nodeArena) maxNodes() int { return math.MaxInt32 / n.nodeSize }

// allocate returns count contiguous nodes, growing the buffer if needed. An invalid
// allocation with a nil error means the size limit was reached.
func (n *nodeArena) allocate(count int) (alloc.Allocation, error) {
	if n.broken != nil {
		return alloc.InvalidAllocation, n.broken
	}
	a := n.allocator.Allocate(count)
	if a.Valid() {
		return a, nil
	}

	a, oldCap, newCap := n.allocator.GrowAndAllocate(count, n.maxNodes())
	if !a.Valid() || newCap <= oldCap {
		return a, nil
	}

	grown, err := n.factory(newCap, n.nodeSize)
	if err != nil {
		n.allocator.FreeAllocation(a)
		n.broken = fmt.Errorf("compute: grow %s buffer: %w", n.name, err)
		return alloc.InvalidAllocation, n.broken
	}
	sizeDwords := oldCap * n.nodeSize / buf.DwordSize
	if _, err := gpubuf.CopyBuffer(n.buffer, 0, grown, 0, sizeDwords); err != nil {
		grown.Close()
		n.allocator.FreeAllocation(a)
		n.broken = fmt.Errorf("compute: copy %s buffer: %w", n.name, err)
		return alloc.InvalidAllocation, n.broken
	}
	logger.Debug("compute: grew node buffer", "buffer", n.name, "old_nodes", oldCap, "new_nodes", newCap)

	n.buffer.Close()
	n.buffer = grown
	return a, nil
}

func (n *nodeArena) free(a *alloc.Allocation) {
	if a.Valid() {
		n.allocator.FreeAllocation(*a)
	}
	*a = alloc.InvalidAllocation
}

// reset drops every allocation but keeps the current buffer, sizing the allocator
// to it.
func (n *nodeArena) reset() {
	n.allocator.Initialize(n.buffer.Count())
	n.broken = nil
}

func (n *nodeArena) close() error {
	n.allocator.Dispose()
	return n.buffer.Close()
}
