package types

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/joshuapare/rtkit/accel/gpubuf"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownInstance indicates a handle that does not name a live instance.
	ErrUnknownInstance = errors.New("accel: unknown instance handle")

	// ErrInvalidMesh indicates a mesh or sub-mesh that cannot be built.
	ErrInvalidMesh = errors.New("accel: invalid mesh")

	// ErrScratchTooSmall indicates a build scratch buffer below ScratchSizeBytes.
	ErrScratchTooSmall = errors.New("accel: scratch buffer too small")

	// ErrScratchStride indicates a build scratch buffer whose stride is not 4.
	ErrScratchStride = errors.New("accel: scratch buffer stride must be 4")

	// ErrClosed indicates use of an acceleration structure after Close.
	ErrClosed = errors.New("accel: acceleration structure closed")
)

// -----------------------------------------------------------------------------
// Build options
// -----------------------------------------------------------------------------

// BuildFlags are hints for acceleration-structure builds.
type BuildFlags uint32

const (
	BuildNone       BuildFlags = 0
	PreferFastTrace BuildFlags = 1 << 0
	PreferFastBuild BuildFlags = 1 << 1
	MinimizeMemory  BuildFlags = 1 << 2
)

func (f BuildFlags) String() string {
	if f == BuildNone {
		return "None"
	}
	var parts []string
	for _, flag := range []struct {
		bit  BuildFlags
		name string
	}{
		{PreferFastTrace, "PreferFastTrace"},
		{PreferFastBuild, "PreferFastBuild"},
		{MinimizeMemory, "MinimizeMemory"},
	} {
		if f&flag.bit != 0 {
			parts = append(parts, flag.name)
		}
	}
	if rest := f &^ (PreferFastTrace | PreferFastBuild | MinimizeMemory); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// FastBuildOnly reports whether the flags ask for fast builds without fast traces.
func (f BuildFlags) FastBuildOnly() bool {
	return f&PreferFastBuild != 0 && f&PreferFastTrace == 0
}

// AccelStructOptions configures an acceleration structure.
type AccelStructOptions struct {
	BuildFlags       BuildFlags
	EnableCompaction bool
}

// -----------------------------------------------------------------------------
// Meshes and instances
// -----------------------------------------------------------------------------

// SubMesh is an index range of a mesh. Counts are elements, not bytes.
type SubMesh struct {
	IndexStart  int
	IndexCount  int
	BaseVertex  int
	FirstVertex int
	VertexCount int
}

// TriangleCount returns IndexCount/3.
func (s SubMesh) TriangleCount() int { return s.IndexCount / 3 }

// Mesh is geometry that instances reference. Meshes sharing an ID share their
// bottom-level structures, so ID must identify the geometry.
type Mesh struct {
	ID int

	// Vertices holds the vertex stream containing positions.
	Vertices gpubuf.Buffer
	// VertexStride is the DWORD distance between vertices.
	VertexStride int
	// PositionOffset is the DWORD offset of the xyz position inside a vertex.
	PositionOffset int

	SubMeshes []SubMesh
}

// SubMesh returns sub-mesh i or ErrInvalidMesh.
func (m *Mesh) SubMesh(i int) (SubMesh, error) {
	if m == nil || i < 0 || i >= len(m.SubMeshes) {
		return SubMesh{}, fmt.Errorf("%w: no sub-mesh %d", ErrInvalidMesh, i)
	}
	if m.Vertices == nil {
		return SubMesh{}, fmt.Errorf("%w: mesh %d has no vertex buffer", ErrInvalidMesh, m.ID)
	}
	s := m.SubMeshes[i]
	if s.VertexCount <= 0 || s.IndexCount < 3 {
		return SubMesh{}, fmt.Errorf("%w: sub-mesh %d has %d vertices and %d indices",
			ErrInvalidMesh, i, s.VertexCount, s.IndexCount)
	}
	return s, nil
}

// Transform is a row-major 3x4 local-to-world matrix.
type Transform [3][4]float32

// Identity is the identity transform.
var Identity = Transform{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// InstanceIDFromHandle makes an instance report its handle as its ID.
const InstanceIDFromHandle uint32 = math.MaxUint32

// MeshInstanceDesc describes one placement of a sub-mesh.
type MeshInstanceDesc struct {
	Mesh    *Mesh
	SubMesh int

	Transform Transform
	Mask      uint32
	// InstanceID is reported by traces; InstanceIDFromHandle uses the handle.
	InstanceID uint32

	EnableTriangleCulling         bool
	FrontTriangleCounterClockwise bool
}

// NewMeshInstanceDesc returns a visible, identity-transformed instance of sub-mesh
// sub whose ID is its handle.
func NewMeshInstanceDesc(mesh *Mesh, sub int) MeshInstanceDesc {
	return MeshInstanceDesc{
		Mesh:                  mesh,
		SubMesh:               sub,
		Transform:             Identity,
		Mask:                  0xFF,
		InstanceID:            InstanceIDFromHandle,
		EnableTriangleCulling: true,
	}
}

// -----------------------------------------------------------------------------
// Acceleration structures
// -----------------------------------------------------------------------------

// AccelStruct is a two-level acceleration structure over mesh instances.
//
// Implementations:
//   - compute.AccelStruct: block-allocated BLAS buffers built by compute kernels
//   - hardware.AccelStruct: driver-managed memory
type AccelStruct interface {
	// AddInstance adds an instance and returns its handle.
	AddInstance(desc MeshInstanceDesc) (int, error)

	// RemoveInstance removes the instance named by handle.
	RemoveInstance(handle int) error

	// ClearInstances removes every instance.
	ClearInstances() error

	UpdateInstanceTransform(handle int, t Transform) error
	UpdateInstanceID(handle int, id uint32) error
	UpdateInstanceMask(handle int, mask uint32) error

	// InstanceCount returns the number of live instances.
	InstanceCount() int

	// ScratchSizeBytes returns the scratch space Build needs.
	ScratchSizeBytes() uint64

	// Build brings the structure up to date using scratch as temporary memory.
	Build(scratch gpubuf.Buffer) error

	// Close releases all resources and unregisters from the owning context.
	Close() error
}

// ReferenceCounter counts live acceleration structures for a Context.
type ReferenceCounter struct {
	value uint64
}

// Inc records a new structure.
func (c *ReferenceCounter) Inc() { c.value++ }

// Dec records a released structure.
func (c *ReferenceCounter) Dec() {
	if c.value == 0 {
		panic("accel: reference counter underflow")
	}
	c.value--
}

// Value returns the number of live structures.
func (c *ReferenceCounter) Value() uint64 { return c.value }

// CheckScratch validates a scratch buffer against a required size.
func CheckScratch(scratch gpubuf.Buffer, required uint64) error {
	if required == 0 {
		return nil
	}
	if scratch == nil || uint64(scratch.Count())*uint64(scratch.Stride()) < required {
		have := uint64(0)
		if scratch != nil {
			have = uint64(scratch.Count()) * uint64(scratch.Stride())
		}
		return fmt.Errorf("%w: need %d bytes, have %d", ErrScratchTooSmall, required, have)
	}
	if scratch.Stride() != 4 {
		return fmt.Errorf("%w: got %d", ErrScratchStride, scratch.Stride())
	}
	return nil
}
