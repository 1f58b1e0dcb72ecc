package compute

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/rterr"
	"github.com/joshuapare/rtkit/accel/types"
)

const testKey = 0x5A5A

// newMesh returns a mesh with one sub-mesh of verts vertices and tris triangles.
// Vertex v sits at (v, 2v, -v) with tightly packed xyz positions.
func newMesh(t *testing.T, id, verts, tris int) *types.Mesh {
	t.Helper()
	vb, err := gpubuf.NewHost(verts*3, 4)
	require.NoError(t, err)
	pos := make([]float32, 0, verts*3)
	for v := range verts {
		pos = append(pos, float32(v), float32(2*v), float32(-v))
	}
	require.NoError(t, gpubuf.PutFloat32s(vb, 0, pos))

	return &types.Mesh{
		ID:           id,
		Vertices:     vb,
		VertexStride: 3,
		SubMeshes:    []types.SubMesh{{IndexCount: tris * 3, VertexCount: verts}},
	}
}

func newAccel(t *testing.T, counter *types.ReferenceCounter) *AccelStruct {
	t.Helper()
	as, err := New(types.AccelStructOptions{}, counter, &Options{
		BlasBufferInitialBytes: 8 * InternalNodeSize,
		InitialVertexCount:     8,
		HandleKey:              testKey,
	})
	require.NoError(t, err)
	t.Cleanup(func() { as.Close() })
	return as
}

func validate(t *testing.T, as *AccelStruct) {
	t.Helper()
	require.NoError(t, as.nodes.allocator.Validate())
	require.NoError(t, as.leaves.allocator.Validate())
	require.NoError(t, as.positions.Allocator().Validate())
}

func TestNew_RegistersWithCounter(t *testing.T) {
	var c types.ReferenceCounter
	as := newAccel(t, &c)
	assert.Equal(t, uint64(1), c.Value())

	assert.Equal(t, 8, as.NodeBuffer().Count())
	assert.Equal(t, InternalNodeSize, as.NodeBuffer().Stride())
	assert.Equal(t, 8, as.LeafBuffer().Count())
	assert.Equal(t, LeafNodeSize, as.LeafBuffer().Stride())
	assert.Equal(t, 24, gpubuf.SizeDwords(as.PositionsBuffer()))

	require.NoError(t, as.Close())
	require.NoError(t, as.Close())
	assert.Equal(t, uint64(0), c.Value())
}

func TestBinarySizer(t *testing.T) {
	assert.Equal(t, 1, BinarySizer(0, 0))
	assert.Equal(t, 1, BinarySizer(1, 0))
	assert.Equal(t, 7, BinarySizer(4, types.PreferFastBuild))
}

func TestAddInstance_SharesBlas(t *testing.T) {
	as := newAccel(t, nil)
	quad := newMesh(t, 1, 4, 2)

	h1, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)
	h2, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, as.InstanceCount())
	assert.Equal(t, 1, as.BlasCount())
	assert.Equal(t, 8-3, as.nodes.allocator.FreeElements())
	assert.Equal(t, 8-2, as.leaves.allocator.FreeElements())
	assert.Equal(t, 24-12, as.positions.Allocator().FreeElements())

	// Same geometry under another sub-mesh index is a different BLAS.
	quad.SubMeshes = append(quad.SubMeshes, quad.SubMeshes[0])
	_, err = as.AddInstance(types.NewMeshInstanceDesc(quad, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, as.BlasCount())
	validate(t, as)
}

func TestRemoveInstance_FreesBlasOnLastReference(t *testing.T) {
	as := newAccel(t, nil)
	quad := newMesh(t, 1, 4, 2)

	h1, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)
	h2, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)

	require.NoError(t, as.RemoveInstance(h1))
	assert.Equal(t, 1, as.BlasCount())

	require.NoError(t, as.RemoveInstance(h2))
	assert.Equal(t, 0, as.BlasCount())
	assert.Equal(t, 8, as.nodes.allocator.FreeElements())
	assert.Equal(t, 8, as.leaves.allocator.FreeElements())
	assert.Equal(t, 24, as.positions.Allocator().FreeElements())

	assert.ErrorIs(t, as.RemoveInstance(h2), types.ErrUnknownInstance)
	validate(t, as)
}

func TestHandles_ObfuscatedFIFO(t *testing.T) {
	as := newAccel(t, nil)
	quad := newMesh(t, 1, 4, 2)

	var hs []int
	for range 3 {
		h, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
		require.NoError(t, err)
		hs = append(hs, h)
	}
	assert.Equal(t, []int{0 ^ testKey, 1 ^ testKey, 2 ^ testKey}, hs)

	require.NoError(t, as.RemoveInstance(hs[1]))
	require.NoError(t, as.RemoveInstance(hs[0]))

	h, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)
	assert.Equal(t, hs[1], h, "oldest released handle first")
	h, err = as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)
	assert.Equal(t, hs[0], h)
	h, err = as.AddInstance(types.NewMeshInstanceDesc(quad, 0))
	require.NoError(t, err)
	assert.Equal(t, 3^testKey, h)
}

func TestAddInstance_InstanceID(t *testing.T) {
	as := newAccel(t, nil)
	quad := newMesh(t, 1, 4, 2)

	d := types.NewMeshInstanceDesc(quad, 0)
	h1, err := as.AddInstance(d)
	require.NoError(t, err)

	d.InstanceID = 77
	d.Mask = 0x3
	h2, err := as.AddInstance(d)
	require.NoError(t, err)

	require.NoError(t, as.Build(scratchFor(t, as)))
	top, ok := as.TopLevelInstances()
	require.True(t, ok)
	require.Len(t, top, 2)

	byHandle := map[int]TopLevelInstance{top[0].Handle: top[0], top[1].Handle: top[1]}
	assert.Equal(t, uint32(h1), byHandle[h1].UserInstanceID)
	assert.Equal(t, uint32(77), byHandle[h2].UserInstanceID)
	assert.Equal(t, uint32(0x3), byHandle[h2].Mask)
	assert.True(t, byHandle[h1].TriangleCulling)
}

func TestAddInstance_InvalidMesh(t *testing.T) {
	as := newAccel(t, nil)
	quad := newMesh(t, 1, 4, 2)

	_, err := as.AddInstance(types.NewMeshInstanceDesc(quad, 3))
	assert.ErrorIs(t, err, types.ErrInvalidMesh)
	_, err = as.AddInstance(types.MeshInstanceDesc{})
	assert.ErrorIs(t, err, types.ErrInvalidMesh)

	noVertices := &types.Mesh{ID: 2, VertexStride: 3, SubMeshes: []types.SubMesh{{IndexCount: 3, VertexCount: 3}}}
	_, err = as.AddInstance(types.NewMeshInstanceDesc(noVertices, 0))
	assert.ErrorIs(t, err, types.ErrInvalidMesh)

	assert.Equal(t, 0, as.InstanceCount())
	assert.Equal(t, 0, as.BlasCount())
	validate(t, as)
}

func TestAddInstance_OutOfMemoryReleasesPartialBlas(t *testing.T) {
	as, err := New(types.AccelStructOptions{}, nil, &Options{
		BlasBufferInitialBytes: 8 * InternalNodeSize,
		InitialVertexCount:     8,
		Sizer:                  func(int, types.BuildFlags) int { return math.MaxInt32/InternalNodeSize + 1 },
	})
	require.NoError(t, err)
	defer as.Close()

	_, err = as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 1, 4, 2), 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, rterr.ErrOutOfGraphicsBufferMemory))
	assert.Equal(t, 24, as.positions.Allocator().FreeElements(), "positions returned")
	assert.Equal(t, 0, as.BlasCount())
	validate(t, as)
}

func TestUpdateInstance(t *testing.T) {
	as := newAccel(t, nil)
	h, err := as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 1, 4, 2), 0))
	require.NoError(t, err)
	require.NoError(t, as.Build(scratchFor(t, as)))

	moved := types.Identity
	moved[0][3] = 5
	require.NoError(t, as.UpdateInstanceTransform(h, moved))
	_, ok := as.TopLevelInstances()
	assert.False(t, ok, "update invalidates the top level")

	require.NoError(t, as.UpdateInstanceID(h, 9))
	require.NoError(t, as.UpdateInstanceMask(h, 0x10))
	require.NoError(t, as.Build(scratchFor(t, as)))

	top, ok := as.TopLevelInstances()
	require.True(t, ok)
	assert.Equal(t, moved, top[0].Transform)
	assert.Equal(t, uint32(9), top[0].UserInstanceID)
	assert.Equal(t, uint32(0x10), top[0].Mask)

	bogus := h + 1
	assert.ErrorIs(t, as.UpdateInstanceTransform(bogus, moved), types.ErrUnknownInstance)
	assert.ErrorIs(t, as.UpdateInstanceID(bogus, 1), types.ErrUnknownInstance)
	assert.ErrorIs(t, as.UpdateInstanceMask(bogus, 1), types.ErrUnknownInstance)
}

func TestClearInstances_KeepsNodeCapacity(t *testing.T) {
	as := newAccel(t, nil)
	for id := range 4 {
		_, err := as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, id, 6, 4), 0))
		require.NoError(t, err)
	}
	nodeCap := as.nodes.allocator.Capacity()
	require.Greater(t, nodeCap, 8)

	require.NoError(t, as.ClearInstances())
	assert.Equal(t, 0, as.InstanceCount())
	assert.Equal(t, 0, as.BlasCount())
	assert.Equal(t, nodeCap, as.nodes.allocator.Capacity())
	assert.Equal(t, nodeCap, as.nodes.allocator.FreeElements())
	assert.Equal(t, 24, as.positions.Capacity(), "positions pool returns to its initial size")

	h, err := as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 9, 4, 2), 0))
	require.NoError(t, err)
	assert.Equal(t, 0^testKey, h, "handles restart after clear")
	validate(t, as)
}

func TestClearInstances_PositionsFactoryFailure(t *testing.T) {
	calls := 0
	factory := func(count, stride int) (gpubuf.Buffer, error) {
		calls++
		if calls == 4 {
			return nil, errors.New("device lost")
		}
		return gpubuf.NewHost(count, stride)
	}
	as, err := New(types.AccelStructOptions{}, nil, &Options{
		BlasBufferInitialBytes: 8 * InternalNodeSize,
		InitialVertexCount:     8,
		Factory:                factory,
	})
	require.NoError(t, err)
	defer as.Close()

	_, err = as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 1, 4, 2), 0))
	require.NoError(t, err)
	require.Equal(t, 3, calls, "no growth while adding")

	require.ErrorContains(t, as.ClearInstances(), "device lost")
	assert.Equal(t, 0, as.InstanceCount())
	assert.Equal(t, 0, as.BlasCount())
	assert.Equal(t, as.nodes.allocator.Capacity(), as.nodes.allocator.FreeElements())
	assert.Equal(t, as.leaves.allocator.Capacity(), as.leaves.allocator.FreeElements())
	assert.Equal(t, as.positions.Capacity(), as.positions.Allocator().FreeElements())
	validate(t, as)

	_, err = as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 2, 4, 2), 0))
	require.NoError(t, err)
	validate(t, as)
}

func TestClosed(t *testing.T) {
	as := newAccel(t, nil)
	require.NoError(t, as.Close())

	_, err := as.AddInstance(types.NewMeshInstanceDesc(newMesh(t, 1, 4, 2), 0))
	assert.ErrorIs(t, err, types.ErrClosed)
	assert.ErrorIs(t, as.RemoveInstance(0), types.ErrClosed)
	assert.ErrorIs(t, as.ClearInstances(), types.ErrClosed)
	assert.ErrorIs(t, as.Build(nil), types.ErrClosed)
}
