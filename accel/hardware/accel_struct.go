// Package hardware implements the acceleration structure used with dedicated
// ray-tracing hardware. The driver owns the memory, so this side only keeps the
// instance bookkeeping that the build call is fed from.
package hardware

import (
	"fmt"

	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/types"
)

type instance struct {
	desc  types.MeshInstanceDesc
	dirty bool
}

// AccelStruct is the hardware-backend acceleration structure.
type AccelStruct struct {
	options   types.AccelStructOptions
	counter   *types.ReferenceCounter
	instances map[int]*instance
	next      int
	builds    int
	closed    bool
}

var _ types.AccelStruct = (*AccelStruct)(nil)

// New creates an acceleration structure and registers it with counter, which
// may be nil.
func New(options types.AccelStructOptions, counter *types.ReferenceCounter) *AccelStruct {
	if counter == nil {
		counter = &types.ReferenceCounter{}
	}
	counter.Inc()
	return &AccelStruct{
		options:   options,
		counter:   counter,
		instances: make(map[int]*instance),
	}
}

// AddInstance records an instance. Handles increase monotonically.
func (as *AccelStruct) AddInstance(desc types.MeshInstanceDesc) (int, error) {
	if as.closed {
		return 0, types.ErrClosed
	}
	if _, err := desc.Mesh.SubMesh(desc.SubMesh); err != nil {
		return 0, err
	}
	handle := as.next
	as.next++
	if desc.InstanceID == types.InstanceIDFromHandle {
		desc.InstanceID = uint32(handle)
	}
	as.instances[handle] = &instance{desc: desc, dirty: true}
	return handle, nil
}

func (as *AccelStruct) RemoveInstance(handle int) error {
	if _, err := as.lookup(handle); err != nil {
		return err
	}
	delete(as.instances, handle)
	return nil
}

func (as *AccelStruct) ClearInstances() error {
	if as.closed {
		return types.ErrClosed
	}
	clear(as.instances)
	return nil
}

func (as *AccelStruct) UpdateInstanceTransform(handle int, t types.Transform) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.desc.Transform = t
	inst.dirty = true
	return nil
}

func (as *AccelStruct) UpdateInstanceID(handle int, id uint32) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.desc.InstanceID = id
	inst.dirty = true
	return nil
}

func (as *AccelStruct) UpdateInstanceMask(handle int, mask uint32) error {
	inst, err := as.lookup(handle)
	if err != nil {
		return err
	}
	inst.desc.Mask = mask
	inst.dirty = true
	return nil
}

// Options returns the options the structure was created with.
func (as *AccelStruct) Options() types.AccelStructOptions { return as.options }

// InstanceCount returns the number of live instances.
func (as *AccelStruct) InstanceCount() int { return len(as.instances) }

// Instance returns the description of a live instance.
func (as *AccelStruct) Instance(handle int) (types.MeshInstanceDesc, error) {
	inst, err := as.lookup(handle)
	if err != nil {
		return types.MeshInstanceDesc{}, err
	}
	return inst.desc, nil
}

// ScratchSizeBytes is 0: the driver allocates its own build memory.
func (as *AccelStruct) ScratchSizeBytes() uint64 { return 0 }

// Build hands instances changed since the last build to the driver.
func (as *AccelStruct) Build(scratch gpubuf.Buffer) error {
	if as.closed {
		return types.ErrClosed
	}
	if err := types.CheckScratch(scratch, as.ScratchSizeBytes()); err != nil {
		return err
	}
	for _, inst := range as.instances {
		if inst.dirty {
			inst.dirty = false
			as.builds++
		}
	}
	return nil
}

// Builds returns how many instance updates Build has submitted.
func (as *AccelStruct) Builds() int { return as.builds }

// Close unregisters from the context counter. Safe to call more than once.
func (as *AccelStruct) Close() error {
	if as.closed {
		return nil
	}
	as.closed = true
	as.counter.Dec()
	clear(as.instances)
	return nil
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
