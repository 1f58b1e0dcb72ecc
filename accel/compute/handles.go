package compute

import "math/rand/v2"

// handleQueue issues instance handles. Raw handles are slot numbers; callers see
// them XORed with a per-structure key. Freed slots are reused oldest first.
type handleQueue struct {
	key  uint32
	free []uint32 // FIFO of raw slots
}

func newHandleQueue(key uint32) handleQueue {
	if key == 0 {
		key = rand.Uint32()
	}
	return handleQueue{key: key}
}

// next returns a handle for a new instance given the number of live instances.
// With no freed slot, slots 0..live-1 are all taken, so live is the next one.
func (q *handleQueue) next(live int) int {
	if len(q.free) > 0 {
		raw := q.free[0]
		q.free = q.free[1:]
		return int(raw ^ q.key)
	}
	return int(uint32(live) ^ q.key)
}

func (q *handleQueue) release(handle int) {
	q.free = append(q.free, uint32(handle)^q.key)
}

func (q *handleQueue) clear() {
	q.free = q.free[:0]
}
