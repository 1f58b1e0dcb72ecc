package compute

import (
	"fmt"
	"math"

	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/types"
	"github.com/joshuapare/rtkit/internal/buf"
)

const (
	// scratchDwordsPerPrimitive approximates build scratch: keys, indices and
	// sort ping-pong buffers per triangle or instance.
	scratchDwordsPerPrimitive = 12
	minScratchDwords          = 4

	internalNodeDwords = InternalNodeSize / buf.DwordSize
	leafNodeDwords     = LeafNodeSize / buf.DwordSize
)

// TopLevelInstance is what a trace kernel needs to find an instance's BLAS.
// Offsets are in nodes for BvhOffset/LeavesOffset and DWORDs for VertexOffset.
type TopLevelInstance struct {
	Handle                int
	BvhOffset             uint32
	LeavesOffset          uint32
	VertexOffset          uint32
	Transform             types.Transform
	Mask                  uint32
	UserInstanceID        uint32
	TriangleCulling       bool
	InvertTriangleCulling bool
	Bounds                [6]float32 // BLAS min xyz, max xyz in object space
}

// ScratchSizeBytes returns the scratch space Build needs: the largest of the
// unbuilt BLAS builds and the top-level build, at least 4 DWORDs.
func (as *AccelStruct) ScratchSizeBytes() uint64 {
	dwords := uint64(minScratchDwords)
	for _, blas := range as.blases {
		if blas.built {
			continue
		}
		dwords = max(dwords, uint64(blas.triangles)*scratchDwordsPerPrimitive)
	}
	dwords = max(dwords, uint64(len(as.instances))*scratchDwordsPerPrimitive)
	return dwords * buf.DwordSize
}

// Build builds every BLAS not built yet and the top level. It is a no-op while the
// top level is current.
func (as *AccelStruct) Build(scratch gpubuf.Buffer) error {
	if as.closed {
		return types.ErrClosed
	}
	if err := types.CheckScratch(scratch, as.ScratchSizeBytes()); err != nil {
		return err
	}
	if as.topLevel != nil {
		return nil
	}

	for _, blas := range as.blases {
		if blas.built {
			continue
		}
		if err := as.buildBottomLevel(blas); err != nil {
			return err
		}
	}
	as.buildTopLevel()
	return nil
}

// buildBottomLevel writes the BLAS root bounds into its first internal node and
// the primitive ID into each leaf.
func (as *AccelStruct) buildBottomLevel(blas *meshBlas) error {
	pos, err := as.positions.Positions(blas.vertices)
	if err != nil {
		return fmt.Errorf("compute: read positions: %w", err)
	}

	lo := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for i := 0; i+2 < len(pos); i += 3 {
		for k := range 3 {
			lo[k] = min(lo[k], pos[i+k])
			hi[k] = max(hi[k], pos[i+k])
		}
	}
	blas.bounds = [6]float32{lo[0], lo[1], lo[2], hi[0], hi[1], hi[2]}

	root := blas.bvh.Block.Offset * internalNodeDwords
	if err := gpubuf.PutFloat32s(as.nodes.buffer, root, blas.bounds[:]); err != nil {
		return fmt.Errorf("compute: write BLAS root: %w", err)
	}

	leaves := as.leaves.buffer.Bytes()
	for i := range blas.triangles {
		buf.PutU32(leaves, (blas.leaves.Block.Offset+i)*leafNodeDwords+3, uint32(i))
	}
	blas.built = true
	return nil
}

func (as *AccelStruct) buildTopLevel() {
	top := make([]TopLevelInstance, 0, len(as.instances))
	for _, h := range as.handlesSorted() {
		inst := as.instances[h]
		top = append(top, TopLevelInstance{
			Handle:                h,
			BvhOffset:             uint32(inst.blas.bvh.Block.Offset),
			LeavesOffset:          uint32(inst.blas.leaves.Block.Offset),
			VertexOffset:          uint32(inst.blas.vertices.Block.Offset),
			Transform:             inst.transform,
			Mask:                  inst.mask,
			UserInstanceID:        inst.id,
			TriangleCulling:       inst.culling,
			InvertTriangleCulling: inst.invertCulling,
			Bounds:                inst.blas.bounds,
		})
	}
	as.topLevel = top
}

// TopLevelInstances returns the instances of the last Build ordered by handle.
// ok is false when an instance changed since then.
func (as *AccelStruct) TopLevelInstances() (instances []TopLevelInstance, ok bool) {
	if as.topLevel == nil {
		return nil, false
	}
	return as.topLevel, true
}

// BufferUsage describes one of the structure's buffers.
type BufferUsage struct {
	Name          string
	Capacity      int // allocator elements
	Free          int
	Bytes         int
	Fragmentation float64
}

// Usage reports the internal-node, leaf and positions buffers, in that order.
func (as *AccelStruct) Usage() []BufferUsage {
	pa := as.positions.Allocator()
	return []BufferUsage{
		arenaUsage(as.nodes),
		arenaUsage(as.leaves),
		{
			Name:          "positions",
			Capacity:      pa.Capacity(),
			Free:          pa.FreeElements(),
			Bytes:         len(as.positions.Buffer().Bytes()),
			Fragmentation: pa.Fragmentation(),
		},
	}
}

func arenaUsage(n *nodeArena) BufferUsage {
	return BufferUsage{
		Name:          n.name,
		Capacity:      n.allocator.Capacity(),
		Free:          n.allocator.FreeElements(),
		Bytes:         len(n.buffer.Bytes()),
		Fragmentation: n.allocator.Fragmentation(),
	}
}

// NodeBuffer returns the internal-node buffer. It changes when the buffer grows.
func (as *AccelStruct) NodeBuffer() gpubuf.Buffer { return as.nodes.buffer }

// LeafBuffer returns the leaf-node buffer.
func (as *AccelStruct) LeafBuffer() gpubuf.Buffer { return as.leaves.buffer }

// PositionsBuffer returns the packed vertex positions buffer.
func (as *AccelStruct) PositionsBuffer() gpubuf.Buffer { return as.positions.Buffer() }
