// Package positions pools vertex positions for bottom-level acceleration
// structures. Every mesh's positions are packed as xyz float triples into one
// shared DWORD buffer; a BlockAllocator hands out the ranges.
//
// When the allocator runs out of room the pool grows it, creates a larger buffer,
// copies the old contents across and releases the old buffer. Offsets of existing
// allocations stay valid across growth.
package positions

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/joshuapare/rtkit/accel/alloc"
	"github.com/joshuapare/rtkit/accel/dirty"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/rterr"
	"github.com/joshuapare/rtkit/internal/buf"
	"github.com/joshuapare/rtkit/internal/logger"
)

// MaxPoolDwords bounds the positions buffer so its size in bytes stays below 2 GiB.
const MaxPoolDwords = math.MaxInt32 / 4

// Options configures a Pool.
type Options struct {
	// InitialVertexCount sizes the initial buffer (InitialVertexCount*3 DWORDs).
	InitialVertexCount int

	// Factory creates the positions buffers. Nil means gpubuf.NewHost.
	Factory gpubuf.Factory
}

// DefaultOptions is used when New is given nil.
var DefaultOptions = Options{
	InitialVertexCount: 1000,
}

var (
	// ErrInvalidChunk indicates a chunk with no vertex buffer, no vertices or a stride
	// below 3 DWORDs.
	ErrInvalidChunk = errors.New("positions: invalid vertex chunk")

	// ErrClosed indicates use of a pool after Close.
	ErrClosed = errors.New("positions: pool closed")
)

// VertexChunk describes the positions to copy out of a mesh vertex buffer.
// Offsets and strides are in DWORDs.
type VertexChunk struct {
	Vertices    gpubuf.Buffer
	StartOffset int // DWORD offset of the position attribute in vertex 0
	VertexCount int
	Stride      int // DWORDs between consecutive vertices
	BaseVertex  int // first vertex to copy
}

// Pool is a growable buffer of packed vertex positions.
//
// NOT thread-safe.
type Pool struct {
	opts      Options
	buffer    gpubuf.Buffer
	allocator *alloc.BlockAllocator
	dirty     *dirty.Tracker
	closed    bool

	// broken is set when growth updated the allocator but no matching buffer
	// could be created. Only Clear recovers.
	broken error
}

// New creates a pool with a buffer of opts.InitialVertexCount*3 DWORDs.
func New(opts *Options) (*Pool, error) {
	if opts == nil {
		opts = &DefaultOptions
	}
	o := *opts
	if o.InitialVertexCount < 0 {
		return nil, fmt.Errorf("positions: negative initial vertex count %d", o.InitialVertexCount)
	}
	if o.Factory == nil {
		o.Factory = gpubuf.NewHost
	}

	p := &Pool{opts: o, allocator: &alloc.BlockAllocator{}}
	if err := p.reset(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) reset() error {
	initial := p.opts.InitialVertexCount * 3
	b, err := p.opts.Factory(initial, buf.DwordSize)
	if err != nil {
		return fmt.Errorf("positions: create buffer: %w", err)
	}
	if p.buffer != nil {
		p.buffer.Close()
	}
	p.buffer = b
	p.allocator.Initialize(initial)
	p.broken = nil
	if p.dirty == nil {
		p.dirty = dirty.NewTracker(b)
	} else {
		p.dirty.Rebind(b)
		p.dirty.Reset()
	}
	return nil
}

// Add copies chunk's positions into the pool and returns the allocation holding
// them: VertexCount*3 DWORDs of packed xyz.
func (p *Pool) Add(chunk VertexChunk) (alloc.Allocation, error) {
	if p.closed {
		return alloc.InvalidAllocation, ErrClosed
	}
	if p.broken != nil {
		return alloc.InvalidAllocation, p.broken
	}
	if chunk.VertexCount <= 0 || chunk.Stride < 3 || chunk.StartOffset < 0 || chunk.BaseVertex < 0 {
		return alloc.InvalidAllocation, fmt.Errorf("%w: %d vertices, stride %d",
			ErrInvalidChunk, chunk.VertexCount, chunk.Stride)
	}
	if chunk.Vertices == nil {
		return alloc.InvalidAllocation, fmt.Errorf("%w: no vertex buffer", ErrInvalidChunk)
	}
	src := chunk.Vertices.Bytes()
	if src == nil {
		return alloc.InvalidAllocation, fmt.Errorf("positions: source: %w", gpubuf.ErrClosed)
	}
	if err := checkSource(chunk, len(src)/buf.DwordSize); err != nil {
		return alloc.InvalidAllocation, err
	}

	count, ok := buf.MulOverflowSafe(chunk.VertexCount, 3)
	if !ok || count > MaxPoolDwords {
		return alloc.InvalidAllocation, rterr.Newf(rterr.OutOfGraphicsBufferMemory,
			"can't allocate a buffer bigger than 2GB (%d vertices)", chunk.VertexCount)
	}

	a := p.allocator.Allocate(count)
	if !a.Valid() {
		var oldCap, newCap int
		a, oldCap, newCap = p.allocator.GrowAndAllocate(count, MaxPoolDwords)
		if !a.Valid() {
			return alloc.InvalidAllocation, rterr.Newf(rterr.OutOfGraphicsBufferMemory,
				"can't allocate a buffer bigger than 2GB (%d positions needed)", count)
		}
		if newCap > oldCap {
			if err := p.growBuffer(oldCap, newCap); err != nil {
				p.allocator.FreeAllocation(a)
				return alloc.InvalidAllocation, err
			}
		}
	}

	dst := p.buffer.Bytes()
	for i := range chunk.VertexCount {
		s := chunk.StartOffset + (chunk.BaseVertex+i)*chunk.Stride
		d := a.Block.Offset + i*3
		buf.PutU32(dst, d, buf.U32(src, s))
		buf.PutU32(dst, d+1, buf.U32(src, s+1))
		buf.PutU32(dst, d+2, buf.U32(src, s+2))
	}
	p.dirty.AddDwords(a.Block.Offset, count)
	return a, nil
}

// checkSource verifies every position read by chunk lies inside a buffer of n DWORDs.
func checkSource(chunk VertexChunk, n int) error {
	last, ok := buf.AddOverflowSafe(chunk.BaseVertex, chunk.VertexCount-1)
	if ok {
		last, ok = buf.MulOverflowSafe(last, chunk.Stride)
	}
	if ok {
		last, ok = buf.AddOverflowSafe(last, chunk.StartOffset+3)
	}
	if !ok || last > n {
		return fmt.Errorf("%w: chunk reads past the %d DWORD source buffer", gpubuf.ErrOutOfRange, n)
	}
	return nil
}

func (p *Pool) growBuffer(oldCap, newCap int) error {
	grown, err := p.opts.Factory(newCap, buf.DwordSize)
	if err != nil {
		p.broken = fmt.Errorf("positions: grow buffer %d -> %d DWORDs: %w", oldCap, newCap, err)
		return p.broken
	}
	if _, err := gpubuf.CopyBuffer(p.buffer, 0, grown, 0, oldCap); err != nil {
		grown.Close()
		p.broken = fmt.Errorf("positions: copy on grow: %w", err)
		return p.broken
	}
	logger.Debug("positions: grew buffer", "old_dwords", oldCap, "new_dwords", newCap)

	p.buffer.Close()
	p.buffer = grown
	p.dirty.Rebind(grown)
	return nil
}

// Remove frees *a and sets it to alloc.InvalidAllocation.
func (p *Pool) Remove(a *alloc.Allocation) {
	p.allocator.FreeAllocation(*a)
	*a = alloc.InvalidAllocation
}

// Positions returns the packed xyz floats held by a.
func (p *Pool) Positions(a alloc.Allocation) ([]float32, error) {
	if p.closed {
		return nil, ErrClosed
	}
	return gpubuf.Float32s(p.buffer, a.Block.Offset, a.Block.Count)
}

// Clear drops every allocation and recreates the buffer at its initial size.
//
// When the new buffer cannot be created the pool keeps its current buffer, still
// emptied, and the error is returned.
func (p *Pool) Clear() error {
	if p.closed {
		return ErrClosed
	}
	if err := p.reset(); err != nil {
		p.allocator.Initialize(p.buffer.Count())
		p.broken = nil
		p.dirty.Reset()
		return err
	}
	return nil
}

// Flush syncs the positions written since the last flush.
func (p *Pool) Flush(ctx context.Context) error {
	if p.closed {
		return ErrClosed
	}
	return p.dirty.Flush(ctx)
}

// Close releases the buffer and the allocator. Safe to call more than once.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.allocator.Dispose()
	return p.buffer.Close()
}

// Buffer returns the current positions buffer. It changes when the pool grows.
func (p *Pool) Buffer() gpubuf.Buffer { return p.buffer }

// Allocator returns the pool's allocator for inspection.
func (p *Pool) Allocator() *alloc.BlockAllocator { return p.allocator }

// Capacity returns the pool capacity in DWORDs.
func (p *Pool) Capacity() int { return p.allocator.Capacity() }
