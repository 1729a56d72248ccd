package handle

import (
	"sync"
	"sync/atomic"

	"github.com/minio/slaballoc/internal/allocerr"
)

// slotState is one dense registry entry. Once created it lives for the
// life of the Registry — ids are reused (via freeIDs) but the slotState
// node backing an id never moves, so Resolve never needs a lock.
type slotState[T any] struct {
	ptr        atomic.Pointer[T]
	generation atomic.Uint32
}

// Registry maps dense slab ids to (current pointer, current generation).
// It grows but never shrinks (§4.7). The mutex is only ever held across
// id allocation/retirement bookkeeping — never across a payload access or
// an OS call, per §5.
type Registry[T any] struct {
	mu      sync.Mutex
	slots   atomic.Pointer[[]*slotState[T]]
	freeIDs []uint32
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	r := &Registry[T]{}
	empty := make([]*slotState[T], 0, 64)
	r.slots.Store(&empty)
	return r
}

// Alloc assigns ptr a slab id (reusing a retired one if available) and
// bumps its generation. The returned generation is what Encode should be
// given when building handles for objects in this slab.
func (r *Registry[T]) Alloc(ptr *T) (slabID, generation uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.freeIDs); n > 0 {
		slabID = r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		cur := *r.slots.Load()
		s := cur[slabID]
		generation = s.generation.Add(1)
		s.ptr.Store(ptr)
		return slabID, generation
	}

	cur := *r.slots.Load()
	slabID = uint32(len(cur))
	s := &slotState[T]{}
	grown := append(cur, s)
	r.slots.Store(&grown)
	generation = s.generation.Add(1)
	s.ptr.Store(ptr)
	return slabID, generation
}

// BumpGeneration advances slabID's generation in place, without touching
// the free-id stack or the stored pointer. This is the cache-recycle
// path (§4.5): the same *T is being handed back out under the same id,
// so any handle to its previous occupant must fail resolution, but the
// id itself is not up for reuse by someone else the way Retire's is.
func (r *Registry[T]) BumpGeneration(slabID uint32) (generation uint32, ok bool) {
	s, ok := r.slotFor(slabID)
	if !ok {
		return 0, false
	}
	return s.generation.Add(1), true
}

// Retire invalidates slabID: the pointer is cleared and the generation is
// bumped again so any outstanding handle referencing the previous
// occupant fails Resolve. The id becomes available for reuse by Alloc.
func (r *Registry[T]) Retire(slabID uint32) {
	s, ok := r.slotFor(slabID)
	if !ok {
		return
	}
	s.ptr.Store(nil)
	s.generation.Add(1)

	r.mu.Lock()
	r.freeIDs = append(r.freeIDs, slabID)
	r.mu.Unlock()
}

// Resolve validates h against the current registry state and, on success,
// returns the live pointer and the slot index encoded in h. It never
// takes the registry lock — growth uses copy-on-append so a concurrent
// reader always sees a self-consistent (possibly stale but never
// corrupt) slice header.
func (r *Registry[T]) Resolve(h Handle) (ptr *T, slot uint32, err error) {
	slabID := h.SlabID()
	s, ok := r.slotFor(slabID)
	if !ok {
		return nil, 0, &allocerr.Error{Code: allocerr.UnknownSlab, SlabID: slabID}
	}
	gen := s.generation.Load()
	if gen != h.Generation() {
		return nil, 0, &allocerr.Error{
			Code:        allocerr.StaleHandle,
			SlabID:      slabID,
			ExpectedGen: gen,
			FoundGen:    h.Generation(),
		}
	}
	p := s.ptr.Load()
	if p == nil {
		// Generation matched but the slot was concurrently retired; treat
		// the same as a stale handle rather than returning a nil pointer.
		return nil, 0, &allocerr.Error{
			Code:        allocerr.StaleHandle,
			SlabID:      slabID,
			ExpectedGen: gen,
			FoundGen:    h.Generation(),
		}
	}
	return p, h.Slot(), nil
}

// GenerationOf returns the slab id's current generation, for tests and
// stats; it reports ok=false for an id the registry has never seen.
func (r *Registry[T]) GenerationOf(slabID uint32) (generation uint32, ok bool) {
	s, ok := r.slotFor(slabID)
	if !ok {
		return 0, false
	}
	return s.generation.Load(), true
}

func (r *Registry[T]) slotFor(slabID uint32) (*slotState[T], bool) {
	cur := *r.slots.Load()
	if slabID >= uint32(len(cur)) {
		return nil, false
	}
	return cur[slabID], true
}
