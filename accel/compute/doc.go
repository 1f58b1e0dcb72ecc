// Package compute implements the acceleration structure used when ray tracing runs
// on compute kernels instead of dedicated hardware.
//
// All bottom-level structures (BLAS) live in three shared buffers:
//
//   - internal nodes: InternalNodeSize bytes each
//   - leaf nodes: LeafNodeSize bytes each, one per triangle
//   - vertex positions: a positions.Pool of packed xyz DWORDs
//
// Each buffer is carved up by an alloc.BlockAllocator. When an allocator runs out
// it is grown, a larger buffer is created, the old contents are copied across with
// gpubuf.CopyBuffer and the old buffer is released. Offsets handed out earlier stay
// valid.
//
// Instances of the same (mesh ID, sub-mesh) pair share one BLAS. The BLAS is
// reference counted and its allocations are freed when the last instance referring
// to it is removed.
//
// # Handles
//
// Instance handles are XOR-obfuscated slot numbers. Released slots are reused in
// FIFO order.
//
// # Top level
//
// Any instance change drops the cached top level. Build rebuilds it, together with
// any BLAS not built yet, and TopLevelInstances exposes the per-instance offsets a
// trace kernel needs.
//
// NOT thread-safe.
package compute
