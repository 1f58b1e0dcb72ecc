// Package accel is the entry point for building ray-tracing acceleration
// structures. A Context selects a backend once, creates acceleration structures
// for it, and reports structures that outlive it.
//
//	ctx, err := accel.NewContext(accel.Compute, nil)
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
//
//	as, err := ctx.CreateAccelerationStructure(accel.AccelStructOptions{})
//	if err != nil {
//	    return err
//	}
//	defer as.Close()
//
//	h, err := as.AddInstance(accel.NewMeshInstanceDesc(mesh, 0))
package accel

import (
	"fmt"

	"github.com/joshuapare/rtkit/accel/compute"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/hardware"
	"github.com/joshuapare/rtkit/accel/rterr"
	"github.com/joshuapare/rtkit/accel/types"
	"github.com/joshuapare/rtkit/internal/logger"
)

// Re-exported from accel/types for callers that only import accel.
type (
	AccelStruct        = types.AccelStruct
	AccelStructOptions = types.AccelStructOptions
	BuildFlags         = types.BuildFlags
	Mesh               = types.Mesh
	SubMesh            = types.SubMesh
	MeshInstanceDesc   = types.MeshInstanceDesc
	Transform          = types.Transform
)

// NewMeshInstanceDesc is types.NewMeshInstanceDesc.
func NewMeshInstanceDesc(mesh *Mesh, sub int) MeshInstanceDesc {
	return types.NewMeshInstanceDesc(mesh, sub)
}

// ScratchBufferStride is the element size of build scratch buffers.
const ScratchBufferStride = 4

// Backend selects how acceleration structures are built and traced.
type Backend int

const (
	Hardware Backend = iota
	Compute
)

func (b Backend) String() string {
	switch b {
	case Hardware:
		return "Hardware"
	case Compute:
		return "Compute"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Capabilities describes what the device supports.
type Capabilities struct {
	RayTracing     bool
	ComputeShaders bool
}

// DefaultCapabilities describes a device with compute shaders and no ray-tracing
// hardware.
var DefaultCapabilities = Capabilities{ComputeShaders: true}

// IsBackendSupported reports whether caps can run backend.
func IsBackendSupported(backend Backend, caps Capabilities) bool {
	switch backend {
	case Hardware:
		return caps.RayTracing
	case Compute:
		return caps.ComputeShaders
	default:
		return false
	}
}

// Options configures a Context.
type Options struct {
	// Capabilities of the device. Nil means DefaultCapabilities.
	Capabilities *Capabilities

	// Compute configures compute-backend structures. Nil means compute.DefaultOptions.
	Compute *compute.Options

	// ScratchFactory creates scratch buffers. Nil means gpubuf.NewHost.
	ScratchFactory gpubuf.Factory
}

// Context owns the acceleration structures of one backend.
//
// NOT thread-safe.
type Context struct {
	backend Backend
	opts    Options
	counter types.ReferenceCounter
	closed  bool
}

// NewContext creates a context for backend. Unsupported backends fail with an
// rterr.Error carrying rterr.UnsupportedBackend.
func NewContext(backend Backend, opts *Options) (*Context, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	caps := DefaultCapabilities
	if o.Capabilities != nil {
		caps = *o.Capabilities
	}
	if !IsBackendSupported(backend, caps) {
		return nil, rterr.Newf(rterr.UnsupportedBackend, "unsupported backend: %s", backend)
	}
	if o.ScratchFactory == nil {
		o.ScratchFactory = gpubuf.NewHost
	}
	return &Context{backend: backend, opts: o}, nil
}

// Backend returns the backend chosen at creation.
func (c *Context) Backend() Backend { return c.backend }

// CreateAccelerationStructure creates a structure for the context's backend. The
// caller must Close it before closing the context.
func (c *Context) CreateAccelerationStructure(options AccelStructOptions) (AccelStruct, error) {
	if c.closed {
		return nil, fmt.Errorf("accel: context closed")
	}
	switch c.backend {
	case Hardware:
		return hardware.New(options, &c.counter), nil
	default:
		as, err := compute.New(options, &c.counter, c.opts.Compute)
		if err != nil {
			return nil, err
		}
		return as, nil
	}
}

// LiveAccelStructs returns the number of structures not closed yet.
func (c *Context) LiveAccelStructs() uint64 { return c.counter.Value() }

// CreateScratchBuffer returns a scratch buffer large enough to build as, or nil
// when as needs none.
func (c *Context) CreateScratchBuffer(as AccelStruct) (gpubuf.Buffer, error) {
	size := as.ScratchSizeBytes()
	if size == 0 {
		return nil, nil
	}
	return c.opts.ScratchFactory(int(size/ScratchBufferStride), ScratchBufferStride)
}

// ResizeScratchBuffer replaces *scratch with a larger buffer when it is too small
// to build as. The old buffer is closed.
func (c *Context) ResizeScratchBuffer(as AccelStruct, scratch *gpubuf.Buffer) error {
	size := as.ScratchSizeBytes()
	if size == 0 {
		return nil
	}
	if *scratch != nil && uint64((*scratch).Count())*uint64((*scratch).Stride()) >= size {
		return nil
	}
	grown, err := c.opts.ScratchFactory(int(size/ScratchBufferStride), ScratchBufferStride)
	if err != nil {
		return err
	}
	if *scratch != nil {
		(*scratch).Close()
	}
	*scratch = grown
	return nil
}

// Close tears the context down. Structures still open are reported at error level
// and returned as an rterr.ResourceLeak error. Safe to call more than once.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if n := c.counter.Value(); n != 0 {
		logger.Error("accel: memory leak, close every acceleration structure before its context",
			"backend", c.backend, "live", n)
		return rterr.Newf(rterr.ResourceLeak, "%d acceleration structures still open", n)
	}
	return nil
}
