// Package slab implements the slab (C2), its lock-free bitmap allocator
// (C4), and its per-class cache (C3), per spec §3, §4.2, §4.3, §4.5.
//
// A Slab here is an ordinary garbage-collected Go value that *owns* one
// page-sized, page-aligned byte slice obtained from a pagesource.Source.
// The reference implementation this spec was distilled from embeds the
// slab header inside the page itself and resolves a slot's owning slab by
// masking a raw pointer (`address & ~(PAGE_SIZE-1)`). Go gives allocator
// clients no raw pointers to begin with — every external reference is a
// handle.Handle resolved through a registry — so that trick has no work
// to do here; the header lives in the Slab struct instead, and the whole
// page is available as payload. The bitmap-CAS algorithm, the free-count
// state machine, and every invariant in §3/§4 are unchanged.
package slab

import (
	"math/bits"
	"sync/atomic"
)

const magicValue = 0x5AB51AB5

// ListID names which list a slab is currently linked into.
type ListID int32

const (
	ListNone ListID = iota
	ListPartial
	ListFull
	ListCache
)

func (l ListID) String() string {
	switch l {
	case ListNone:
		return "none"
	case ListPartial:
		return "partial"
	case ListFull:
		return "full"
	case ListCache:
		return "cache"
	default:
		return "invalid"
	}
}

// Slab is a single page's worth of fixed-size objects, plus its header
// and bitmap. Every exported operation is safe for concurrent use except
// Next, which is only valid for callers holding the owning size class's
// lock (per §5 — list mutation is the slow path's critical section).
type Slab struct {
	magic    uint32
	objSize  uint32
	objCount uint32
	slabID   uint32

	epoch uint32
	era   uint64

	freeCount atomic.Int32
	listID    atomic.Int32

	// Next links this slab into whichever list ListID names. It is only
	// read or written by a goroutine holding the owning size class's
	// lock; it carries no atomic protection of its own.
	Next *Slab

	bitmap []atomic.Uint32
	page   []byte
}

// New initializes a fresh slab over page, owned by (epoch, era), with
// slabID as already assigned by the registry. All slots start free.
func New(slabID uint32, objSize uint32, epoch uint32, era uint64, page []byte) *Slab {
	if objSize == 0 || int(objSize) > len(page) {
		panic("slab: objSize must be positive and fit within one page")
	}
	objCount := uint32(len(page)) / objSize
	s := &Slab{
		magic:    magicValue,
		objSize:  objSize,
		objCount: objCount,
		slabID:   slabID,
		epoch:    epoch,
		era:      era,
		bitmap:   make([]atomic.Uint32, wordCount(objCount)),
		page:     page,
	}
	s.freeCount.Store(int32(objCount))
	s.listID.Store(int32(ListNone))
	s.initBitmapAllFree()
	return s
}

func wordCount(objCount uint32) int {
	return int((objCount + 31) / 32)
}

func (s *Slab) initBitmapAllFree() {
	full := s.objCount / 32
	for i := uint32(0); i < full; i++ {
		s.bitmap[i].Store(^uint32(0))
	}
	if rem := s.objCount % 32; rem > 0 {
		s.bitmap[full].Store(uint32(1)<<rem - 1)
	}
}

// Reset makes a fully-free slab in cache pristine for reuse under a new
// (epoch, era), per §4.2/§4.5: payload content is left untouched, only
// header fields are reinitialized. The caller is responsible for bumping
// the slab's registry generation (see handle.Registry.BumpGeneration) so stale
// handles to the previous occupant fail resolution.
func (s *Slab) Reset(epoch uint32, era uint64) {
	s.checkMagic()
	s.epoch = epoch
	s.era = era
	s.freeCount.Store(int32(s.objCount))
	s.listID.Store(int32(ListNone))
	s.Next = nil
	s.initBitmapAllFree()
}

func (s *Slab) checkMagic() {
	if s.magic != magicValue {
		panic("slab: magic tag mismatch — corrupted slab header")
	}
}

// Accessors. ObjSize/ObjCount/SlabID/Page never change after New; Epoch
// and Era change only via Reset (cache recycle), which the size-class
// engine calls on a slab it has just popped from the cache and not yet
// published to any other goroutine, so unsynchronized reads from a
// goroutine that holds (or recently held) current_partial/list ownership
// are safe.
func (s *Slab) ObjSize() uint32  { return s.objSize }
func (s *Slab) ObjCount() uint32 { return s.objCount }
func (s *Slab) SlabID() uint32   { return s.slabID }

// SetSlabID assigns the registry-issued id to a freshly constructed slab.
// New is called before the registry has minted an id (the registry needs
// a live pointer to register), so the engine calls this exactly once,
// immediately after registry.Alloc, before the slab is published to any
// other goroutine.
func (s *Slab) SetSlabID(id uint32) { s.slabID = id }
func (s *Slab) Epoch() uint32    { return s.epoch }
func (s *Slab) Era() uint64      { return s.era }
func (s *Slab) Page() []byte     { return s.page }

func (s *Slab) ListID() ListID     { return ListID(s.listID.Load()) }
func (s *Slab) SetListID(id ListID) { s.listID.Store(int32(id)) }

// FreeCount returns the current free-slot count.
func (s *Slab) FreeCount() int32 { return s.freeCount.Load() }

// Object returns the byte range backing slot within this slab's page.
// This is the Go-idiomatic stand-in for the raw pointer alloc_obj
// returns in the source material (§6): callers get a slice, never a
// pointer with provenance, and the slice is only meaningful for as long
// as the handle that produced it remains valid.
func (s *Slab) Object(slot uint32) []byte {
	off := uint64(slot) * uint64(s.objSize)
	return s.page[off : off+uint64(s.objSize)]
}

// DecrementFreeCount is called by the size-class engine after a
// successful ClaimSlot, per §4.3 ("The free_count is decremented
// atomically by the caller... not by C4 itself").
func (s *Slab) DecrementFreeCount() int32 { return s.freeCount.Add(-1) }

// BitmapAllZero reports whether every word is fully allocated. Used by
// zombie repair (§4.4) to tell a truly-full slab from a publication race.
func (s *Slab) BitmapAllZero() bool {
	for i := range s.bitmap {
		if s.bitmap[i].Load() != 0 {
			return false
		}
	}
	return true
}

// popcountFree returns the number of set (free) bits across the bitmap;
// used only by tests verifying the quiescence invariant
// popcount(free bits) == free_count.
func (s *Slab) popcountFree() int {
	n := 0
	for i := range s.bitmap {
		n += bits.OnesCount32(s.bitmap[i].Load())
	}
	return n
}

// PopcountFree exposes popcountFree for invariant-checking tests outside
// this package.
func (s *Slab) PopcountFree() int { return s.popcountFree() }
