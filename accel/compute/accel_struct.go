package compute

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/joshuapare/rtkit/accel/alloc"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/positions"
	"github.com/joshuapare/rtkit/accel/rterr"
	"github.com/joshuapare/rtkit/accel/types"
)

const (
	// InternalNodeSize is the size in bytes of one BVH internal node.
	InternalNodeSize = 64
	// LeafNodeSize is the size in bytes of one BVH leaf node.
	LeafNodeSize = 16

	// DefaultBlasBufferInitialBytes sizes the initial internal-node buffer.
	DefaultBlasBufferInitialBytes = 64 * 1024 * 1024
)

// Sizer returns the internal node count needed to build a BLAS over triangles.
type Sizer func(triangles int, flags types.BuildFlags) int

// BinarySizer bounds a binary BVH over n primitives: 2n-1 nodes.
func BinarySizer(triangles int, _ types.BuildFlags) int {
	return max(2*triangles-1, 1)
}

// Options configures an AccelStruct.
type Options struct {
	// BlasBufferInitialBytes sizes the initial node buffers. The leaf buffer gets
	// the same node count as the internal-node buffer.
	BlasBufferInitialBytes int

	// InitialVertexCount sizes the positions pool.
	InitialVertexCount int

	// Factory creates every buffer. Nil means gpubuf.NewHost.
	Factory gpubuf.Factory

	// Sizer computes internal node counts. Nil means BinarySizer.
	Sizer Sizer

	// HandleKey obfuscates instance handles. Zero picks a random key.
	HandleKey uint32
}

// DefaultOptions is used when New is given nil.
var DefaultOptions = Options{
	BlasBufferInitialBytes: DefaultBlasBufferInitialBytes,
	InitialVertexCount:     positions.DefaultOptions.InitialVertexCount,
}

type meshKey struct {
	mesh    int
	subMesh int
}

// meshBlas is a bottom-level structure shared by every instance of one sub-mesh.
type meshBlas struct {
	key       meshKey
	bvh       alloc.Allocation
	leaves    alloc.Allocation
	vertices  alloc.Allocation
	triangles int
	built     bool
	bounds    [6]float32
	refs      int
}

type instance struct {
	blas          *meshBlas
	transform     types.Transform
	mask          uint32
	id            uint32
	culling       bool
	invertCulling bool
}

// AccelStruct is the compute-backend acceleration structure.
type AccelStruct struct {
	flags   types.BuildFlags
	opts    Options
	counter *types.ReferenceCounter

	nodes     *nodeArena
	leaves    *nodeArena
	positions *positions.Pool

	blases    map[meshKey]*meshBlas
	instances map[int]*instance
	handles   handleQueue

	topLevel []TopLevelInstance // nil until Build
	closed   bool
}

var _ types.AccelStruct = (*AccelStruct)(nil)

// New creates an acceleration structure and registers it with counter, which
// may be nil.
func New(options types.AccelStructOptions, counter *types.ReferenceCounter, opts *Options) (*AccelStruct, error) {
	if opts == nil {
		opts = &DefaultOptions
	}
	o := *opts
	if o.BlasBufferInitialBytes < 0 {
		return nil, fmt.Errorf("compute: negative initial BLAS buffer size %d", o.BlasBufferInitialBytes)
	}
	if o.Factory == nil {
		o.Factory = gpubuf.NewHost
	}
	if o.Sizer == nil {
		o.Sizer = BinarySizer
	}
	if counter == nil {
		counter = &types.ReferenceCounter{}
	}

	nodeCount := o.BlasBufferInitialBytes / InternalNodeSize
	nodes, err := newNodeArena("internal node", nodeCount, InternalNodeSize, o.Factory)
	if err != nil {
		return nil, err
	}
	leaves, err := newNodeArena("leaf node", nodeCount, LeafNodeSize, o.Factory)
	if err != nil {
		nodes.close()
		return nil, err
	}
	pool, err := positions.New(&positions.Options{InitialVertexCount: o.InitialVertexCount, Factory: o.Factory})
	if err != nil {
		nodes.close()
		leaves.close()
		return nil, err
	}

	as := &AccelStruct{
		flags:     options.BuildFlags,
		opts:      o,
		counter:   counter,
		nodes:     nodes,
		leaves:    leaves,
		positions: pool,
		blases:    make(map[meshKey]*meshBlas),
		instances: make(map[int]*instance),
		handles:   newHandleQueue(o.HandleKey),
	}
	counter.Inc()
	return as, nil
}

// AddInstance adds an instance of desc.Mesh's sub-mesh desc.SubMesh. The sub-mesh
// BLAS is allocated on first use and shared afterwards.
func (as *AccelStruct) AddInstance(desc types.MeshInstanceDesc) (int, error) {
	if as.closed {
		return 0, types.ErrClosed
	}
	blas, err := as.getOrAllocateMeshBlas(desc.Mesh, desc.SubMesh)
	if err != nil {
		return 0, err
	}
	blas.refs++
	as.invalidateTopLevel()

	handle := as.handles.next(len(as.instances))
	id := desc.InstanceID
	if id == types.InstanceIDFromHandle {
		id = uint32(handle)
	}
	as.instances[handle] = &instance{
		blas:          blas,
		transform:     desc.Transform,
		mask:          desc.Mask,
		id:            id,
		culling:       desc.EnableTriangleCulling,
		invertCulling: desc.FrontTriangleCounterClockwise,
	}
	return handle, nil
}

// RemoveInstance removes an instance and frees its BLAS if nothing else uses it.
func (as *AccelStruct) RemoveInstance(handle int) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	as.handles.release(handle)
	delete(as.instances, handle)

	inst.blas.refs--
	if inst.blas.refs == 0 {
		as.deleteMeshBlas(inst.blas)
	}
	as.invalidateTopLevel()
	return nil
}

// ClearInstances removes every instance and BLAS. Node buffers keep their current
// size; the positions pool returns to its initial size. An error from recreating
// the positions buffer is returned after everything has been released.
func (as *AccelStruct) ClearInstances() error {
	if as.closed {
		return types.ErrClosed
	}
	as.handles.clear()
	clear(as.instances)
	clear(as.blases)
	as.nodes.reset()
	as.leaves.reset()
	as.invalidateTopLevel()
	return as.positions.Clear()
}

func (as *AccelStruct) UpdateInstanceTransform(handle int, t types.Transform) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.transform = t
	as.invalidateTopLevel()
	return nil
}

func (as *AccelStruct) UpdateInstanceID(handle int, id uint32) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.id = id
	as.invalidateTopLevel()
	return nil
}

func (as *AccelStruct) UpdateInstanceMask(handle int, mask uint32) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.mask = mask
	as.invalidateTopLevel()
	return nil
}

// InstanceCount returns the number of live instances.
func (as *AccelStruct) InstanceCount() int { return len(as.instances) }

// BlasCount returns the number of distinct sub-meshes with a BLAS.
func (as *AccelStruct) BlasCount() int { return len(as.blases) }

// Close releases every buffer and unregisters from the context counter. Safe to
// call more than once.
func (as *AccelStruct) Close() error {
	if as.closed {
		return nil
	}
	as.closed = true
	as.counter.Dec()
	as.topLevel = nil
	clear(as.instances)
	clear(as.blases)
	return errors.Join(as.positions.Close(), as.nodes.close(), as.leaves.close())
}

func (as *AccelStruct) lookup(handle int) (*instance, error) {
	if as.closed {
		return nil, types.ErrClosed
	}
	inst, ok := as.instances[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownInstance, handle)
	}
	return inst, nil
}

func (as *AccelStruct) invalidateTopLevel() {
	as.topLevel = nil
}

func (as *AccelStruct) getOrAllocateMeshBlas(mesh *types.Mesh, subMesh int) (*meshBlas, error) {
	sub, err := mesh.SubMesh(subMesh)
	if err != nil {
		return nil, err
	}
	key := meshKey{mesh: mesh.ID, subMesh: subMesh}
	if blas, ok := as.blases[key]; ok {
		return blas, nil
	}

	blas, err := as.allocateBlas(mesh, sub)
	if err != nil {
		return nil, err
	}
	blas.key = key
	as.blases[key] = blas
	return blas, nil
}

func (as *AccelStruct) allocateBlas(mesh *types.Mesh, sub types.SubMesh) (*meshBlas, error) {
	blas := &meshBlas{
		bvh:       alloc.InvalidAllocation,
		leaves:    alloc.InvalidAllocation,
		triangles: sub.TriangleCount(),
	}

	var err error
	blas.vertices, err = as.positions.Add(positions.VertexChunk{
		Vertices:    mesh.Vertices,
		StartOffset: mesh.PositionOffset,
		VertexCount: sub.VertexCount,
		Stride:      mesh.VertexStride,
		BaseVertex:  sub.BaseVertex + sub.FirstVertex,
	})
	if err != nil {
		return nil, err
	}

	nodeCount := as.opts.Sizer(blas.triangles, as.flags)
	if blas.bvh, err = as.nodes.allocate(nodeCount); err == nil && blas.bvh.Valid() {
		blas.leaves, err = as.leaves.allocate(blas.triangles)
	}
	if err == nil && (!blas.bvh.Valid() || !blas.leaves.Valid()) {
		err = rterr.Newf(rterr.OutOfGraphicsBufferMemory,
			"can't allocate a buffer bigger than 2GB (%d internal nodes, %d leaves)", nodeCount, blas.triangles)
	}
	if err != nil {
		as.nodes.free(&blas.bvh)
		as.leaves.free(&blas.leaves)
		as.positions.Remove(&blas.vertices)
		return nil, err
	}
	return blas, nil
}

func (as *AccelStruct) deleteMeshBlas(blas *meshBlas) {
	as.nodes.free(&blas.bvh)
	as.leaves.free(&blas.leaves)
	as.positions.Remove(&blas.vertices)
	delete(as.blases, blas.key)
}

// handlesSorted returns live handles in ascending order.
func (as *AccelStruct) handlesSorted() []int {
	return slices.Sorted(maps.Keys(as.instances))
}
