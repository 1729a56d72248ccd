// Package sizeclass implements the size-class allocation engine (C5):
// the current-partial fast path, the slow path that refills it from the
// partial list, the slab cache, or the page source, zombie-partial
// detection/repair, and the free path's list-migration state machine,
// per §4.4. It is the component that drives C3 (slab.Cache) and C4
// (slab.Slab's bitmap) and that the top-level allocator (C9) dispatches
// into by size.
package sizeclass

import (
	"sync/atomic"
	"time"

	"github.com/minio/slaballoc/internal/allocerr"
	"github.com/minio/slaballoc/internal/allocstats"
	"github.com/minio/slaballoc/internal/epoch"
	"github.com/minio/slaballoc/internal/handle"
	"github.com/minio/slaballoc/internal/pagesource"
	"github.com/minio/slaballoc/internal/slab"
)

// ScanMode is the adaptive bitmap scan controller's current mode (§4.3).
type ScanMode int32

const (
	ScanSequential ScanMode = iota
	ScanRandomized
)

func (m ScanMode) String() string {
	if m == ScanRandomized {
		return "RANDOMIZED"
	}
	return "SEQUENTIAL"
}

// Config holds the per-class tunables the top-level allocator assembles
// from its own configuration (§6 "Environment/configuration consumed by
// the core").
type Config struct {
	PageSize       int
	CacheCapacity  int
	EagerRecycle   bool
	ScanWindowSize uint64
	UpperBand      float64
	LowerBand      float64
}

// DefaultConfig returns reasonable scan-controller bands: switch to
// randomized scanning once more than 20% of claim attempts are retries,
// switch back once retries fall under 5%, sampled every 256 claims.
func DefaultConfig(pageSize, cacheCapacity int) Config {
	return Config{
		PageSize:       pageSize,
		CacheCapacity:  cacheCapacity,
		ScanWindowSize: 256,
		UpperBand:      0.20,
		LowerBand:      0.05,
	}
}

// epochState is C5's per-(class, epoch-slot) bucket: the one-slot
// current-partial cache, and the partial/full lists, per §3 "Epoch state
// (per class, per epoch slot)".
type epochState struct {
	currentPartial atomic.Pointer[slab.Slab]

	partialHead  *slab.Slab
	partialCount atomic.Int64

	fullHead  *slab.Slab
	fullCount atomic.Int64

	allocCount atomic.Uint64
}

// Engine is one size class's allocation engine: fast path, slow path,
// zombie repair, free-path list migration, and epoch drain, all for a
// single fixed object size.
type Engine struct {
	classIdx int
	objSize  uint32
	objCount uint32
	wordsPer int

	cfg Config

	epochMgr *epoch.Manager
	registry *handle.Registry[slab.Slab]
	pages    *pagesource.Source
	cache    *slab.Cache
	stats    *allocstats.Class

	lock *allocstats.ProbedMutex

	epochs []epochState

	scanMode       atomic.Int32
	scanCounter    atomic.Uint64
	windowAttempts atomic.Uint64
	windowRetries  atomic.Uint64
	scanChecks     atomic.Uint64
	scanSwitches   atomic.Uint64
}

// NewEngine builds the engine for one size class. registry is shared
// across every class in the allocator (handles must resolve to the
// correct slab regardless of which class originally served them — see
// DESIGN.md); epochMgr and pages are likewise shared.
func NewEngine(classIdx int, objSize uint32, ringWidth uint32, cfg Config,
	epochMgr *epoch.Manager, registry *handle.Registry[slab.Slab],
	pages *pagesource.Source, stats *allocstats.Class) *Engine {

	objCount := uint32(cfg.PageSize) / objSize
	e := &Engine{
		classIdx: classIdx,
		objSize:  objSize,
		objCount: objCount,
		wordsPer: int((objCount + 31) / 32),
		cfg:      cfg,
		epochMgr: epochMgr,
		registry: registry,
		pages:    pages,
		cache:    slab.NewCache(cfg.CacheCapacity),
		stats:    stats,
		epochs:   make([]epochState, ringWidth),
	}
	e.lock = allocstats.NewProbedMutex(stats)
	return e
}

// ObjSize returns the fixed object size this engine serves.
func (e *Engine) ObjSize() uint32 { return e.objSize }

// ObjCount returns the number of objects that fit in one slab.
func (e *Engine) ObjCount() uint32 { return e.objCount }

// AllocObj allocates one object in epochID, per §4.4's fast/slow path
// algorithm. The returned handle is only valid while epochID's owning
// slab has not been recycled (generation bump invalidates it).
func (e *Engine) AllocObj(epochID uint32) (handle.Handle, error) {
	if e.epochMgr.State(epochID) == epoch.StateClosing {
		e.stats.SlowEpochClosed()
		return 0, allocerr.ErrEpochClosed
	}
	es := &e.epochs[epochID]

	for {
		cp := es.currentPartial.Load()
		if cp == nil {
			if err := e.slowPathInstall(epochID, es, false); err != nil {
				return 0, err
			}
			continue
		}

		start := e.scanStartWord()
		res := cp.ClaimSlot(start)
		e.stats.CASAlloc(res.Attempts, res.Retries)
		e.recordScanWindow(res.Attempts, res.Retries)

		if !res.OK {
			if cp.FreeCount() > 0 {
				// Zombie partial (§4.4): free_count says slots remain but
				// the bitmap scan found none. Only current_partial ever
				// receives concurrent lock-free claims, so repair never
				// needs to search the partial/full lists — this keeps
				// repair O(1).
				e.repairCurrentPartial(es, cp, "full_bitmap")
				continue
			}
			if err := e.slowPathInstall(epochID, es, true); err != nil {
				return 0, err
			}
			continue
		}

		generation, ok := e.registry.GenerationOf(cp.SlabID())
		if !ok {
			e.stats.UnknownSlab()
			return 0, &allocerr.Error{Code: allocerr.UnknownSlab, SlabID: cp.SlabID()}
		}
		h := handle.Encode(cp.SlabID(), generation, res.Slot)
		newFree := cp.DecrementFreeCount()
		e.stats.AllocOK()
		es.allocCount.Add(1)
		if newFree == 0 {
			e.transitionToFull(es, cp)
		}
		return h, nil
	}
}

// slowPathInstall runs one iteration of the slow path (§4.4 step 3):
// promote a slab from the partial list, or refill from the cache, or
// from the page source, and publish it as current_partial.
//
// wasFull distinguishes the two entry reasons the fast path already
// knows about (current_partial was nil vs. full). The §8 accounting
// invariant (slow_path_hits == sum of the four reason counters) treats
// all four reasons as mutually exclusive, so cache_miss is reserved for
// the one sub-case where neither the partial list nor the cache could
// supply a slab and the page source had to be consulted — see
// DESIGN.md for the reasoning.
func (e *Engine) slowPathInstall(epochID uint32, es *epochState, wasFull bool) error {
	if e.epochMgr.State(epochID) == epoch.StateClosing {
		e.stats.SlowEpochClosed()
		return allocerr.ErrEpochClosed
	}

	e.lock.Lock()
	if e.epochMgr.State(epochID) == epoch.StateClosing {
		e.lock.Unlock()
		e.stats.SlowEpochClosed()
		return allocerr.ErrEpochClosed
	}
	candidate := es.partialHead
	if candidate != nil {
		es.partialHead = candidate.Next
		candidate.Next = nil
		es.partialCount.Add(-1)
	}
	e.lock.Unlock()

	if candidate != nil {
		e.countSlowReason(wasFull)
		e.publishOrRequeue(es, candidate)
		return nil
	}

	if s, ok := e.cache.Pop(); ok {
		e.stats.CachePop()
		e.countSlowReason(wasFull)
		era := e.epochMgr.Era(epochID)
		s.Reset(epochID, era)
		e.registry.BumpGeneration(s.SlabID())
		e.publishOrRequeue(es, s)
		return nil
	}

	e.stats.SlowCacheMiss()
	page, err := e.pages.Acquire()
	if err != nil {
		return allocerr.ErrOutOfMemory
	}
	era := e.epochMgr.Era(epochID)
	s := slab.New(0, e.objSize, epochID, era, page)
	slabID, _ := e.registry.Alloc(s)
	s.SetSlabID(slabID)
	e.publishOrRequeue(es, s)
	return nil
}

func (e *Engine) countSlowReason(wasFull bool) {
	if wasFull {
		e.stats.SlowCurrentPartialFull()
	} else {
		e.stats.SlowCurrentPartialNull()
	}
}

// publishOrRequeue tries to install s as current_partial; if another
// slow-pather already won the race, s goes back on the partial list
// instead of being dropped.
func (e *Engine) publishOrRequeue(es *epochState, s *slab.Slab) {
	if es.currentPartial.CompareAndSwap(nil, s) {
		e.stats.CurrentPartialCAS(false)
		s.SetListID(slab.ListNone)
		return
	}
	e.stats.CurrentPartialCAS(true)
	e.lock.Lock()
	s.SetListID(slab.ListPartial)
	s.Next = es.partialHead
	es.partialHead = s
	es.partialCount.Add(1)
	e.lock.Unlock()
}

// transitionToFull publishes the full-list move that must be visible
// atomically with free_count reaching zero (§4.4 step 2).
func (e *Engine) transitionToFull(es *epochState, cp *slab.Slab) {
	e.lock.Lock()
	if es.currentPartial.CompareAndSwap(cp, nil) {
		cp.SetListID(slab.ListFull)
		cp.Next = es.fullHead
		es.fullHead = cp
		es.fullCount.Add(1)
		e.stats.ListMovePartialToFull()
	}
	e.lock.Unlock()
}

// repairCurrentPartial detaches a zombie current-partial slab and files
// it onto the full list, recording the reason (§4.4 step 4).
func (e *Engine) repairCurrentPartial(es *epochState, cp *slab.Slab, reason string) {
	e.lock.Lock()
	if es.currentPartial.CompareAndSwap(cp, nil) {
		cp.SetListID(slab.ListFull)
		cp.Next = es.fullHead
		es.fullHead = cp
		es.fullCount.Add(1)
		e.stats.Repair(reason)
	}
	e.lock.Unlock()
}

// CompleteFree finishes the free path for a slot the caller already
// resolved through the registry against s: reject a slot index outside
// the slab's object count with BadSlot, release the bitmap bit, fix up
// list membership, and decide whether the slab is eligible for
// recycling, per §4.4's free_obj steps 2-4.
func (e *Engine) CompleteFree(s *slab.Slab, slot uint32) error {
	if slot >= s.ObjCount() {
		e.stats.BadSlot()
		return &allocerr.Error{Code: allocerr.BadSlot, SlabID: s.SlabID(), Slot: slot}
	}

	rel := s.ReleaseSlot(slot)
	e.stats.CASFree(rel.Attempts, rel.Retries)
	if !rel.OK {
		e.stats.DoubleFree()
		return &allocerr.Error{Code: allocerr.DoubleFree, SlabID: s.SlabID(), Slot: slot}
	}

	owningEpoch := s.Epoch()
	es := &e.epochs[owningEpoch]

	var toRecycle *slab.Slab

	e.lock.Lock()
	if rel.PrevFreeCount == 0 {
		e.unlinkFromFull(es, s)
		s.SetListID(slab.ListPartial)
		s.Next = es.partialHead
		es.partialHead = s
		es.partialCount.Add(1)
		e.stats.ListMoveFullToPartial()
	}

	if s.FreeCount() == int32(s.ObjCount()) {
		closing := e.epochMgr.State(owningEpoch) == epoch.StateClosing
		if closing || e.cfg.EagerRecycle {
			switch {
			case es.currentPartial.CompareAndSwap(s, nil):
				s.SetListID(slab.ListNone)
				toRecycle = s
			case e.unlinkFromPartial(es, s):
				s.SetListID(slab.ListNone)
				toRecycle = s
			default:
				// Raced with a concurrent slow-path install or repair that
				// already moved it elsewhere; the next free or an
				// epoch_close sweep will catch it.
			}
		}
	}
	e.lock.Unlock()

	if toRecycle != nil {
		e.recycleToCache(toRecycle)
	}
	return nil
}

// recycleToCache hands an empty slab to the cache (or, on overflow, back
// to the page source), per §4.5. It must run outside the class lock:
// advise and the page-source release are OS calls.
//
// The generation is bumped here, at recycle time, rather than deferred
// until the slab is next popped: §4.5 only requires pops to bump it, but
// bumping immediately also invalidates any handle still held against the
// slab's just-retired occupancy the moment it leaves the partial list —
// which is what lets a caller force a handle stale by closing and
// draining its epoch without needing the slab to be reused first. A pop
// still bumps again, which is harmless (generation only needs to be
// monotonic, not tight).
func (e *Engine) recycleToCache(s *slab.Slab) {
	e.registry.BumpGeneration(s.SlabID())
	if e.cache.TryPush(s) {
		e.stats.CachePush()
		ok := e.pages.AdviseUnused(s.Page())
		e.stats.Madvise(ok, uint64(len(s.Page())))
		return
	}
	e.stats.CacheOverflow()
	e.cache.MarkOverflow()
	e.registry.Retire(s.SlabID())
	_ = e.pages.Release(s.Page())
}

// DrainEpoch walks epochID's partial list and recycles every slab that
// is fully free, per §4.6 close()'s per-class sweep. When epochID is
// CLOSING, a fully free current-partial slab is detached and recycled
// too. It returns the number scanned and the number recycled.
func (e *Engine) DrainEpoch(epochID uint32) (scanned, recycled uint64) {
	started := time.Now()
	es := &e.epochs[epochID]

	var toRecycle []*slab.Slab

	e.lock.Lock()
	if e.epochMgr.State(epochID) == epoch.StateClosing {
		if cp := es.currentPartial.Load(); cp != nil && cp.FreeCount() == int32(cp.ObjCount()) &&
			es.currentPartial.CompareAndSwap(cp, nil) {
			scanned++
			cp.SetListID(slab.ListNone)
			toRecycle = append(toRecycle, cp)
		}
	}
	cur := es.partialHead
	var keep *slab.Slab
	var keptCount int64
	for cur != nil {
		next := cur.Next
		scanned++
		if cur.FreeCount() == int32(cur.ObjCount()) {
			cur.SetListID(slab.ListNone)
			cur.Next = nil
			toRecycle = append(toRecycle, cur)
		} else {
			cur.Next = keep
			keep = cur
			keptCount++
		}
		cur = next
	}
	es.partialHead = keep
	es.partialCount.Store(keptCount)
	e.lock.Unlock()

	for _, s := range toRecycle {
		e.recycleToCache(s)
		recycled++
	}

	e.stats.EpochClose(scanned, recycled, uint64(time.Since(started).Nanoseconds()))
	return scanned, recycled
}

// unlink removes target from the singly-linked list headed at head,
// returning the new head. Both full- and partial-list unlinks run while the
// list is bounded by a single class's live slab count and are already
// performed under the class lock, so O(n) traversal is the accepted
// cost here (unlike current-partial repair, which must stay O(1) on the
// hot path).
func unlink(head *slab.Slab, target *slab.Slab) (newHead *slab.Slab, removed bool) {
	if head == target {
		return target.Next, true
	}
	cur := head
	for cur != nil && cur.Next != target {
		cur = cur.Next
	}
	if cur == nil {
		return head, false
	}
	cur.Next = target.Next
	return head, true
}

func (e *Engine) unlinkFromFull(es *epochState, s *slab.Slab) bool {
	newHead, removed := unlink(es.fullHead, s)
	es.fullHead = newHead
	if removed {
		es.fullCount.Add(-1)
	}
	return removed
}

func (e *Engine) unlinkFromPartial(es *epochState, s *slab.Slab) bool {
	newHead, removed := unlink(es.partialHead, s)
	es.partialHead = newHead
	if removed {
		es.partialCount.Add(-1)
	}
	return removed
}

// scanStartWord picks the bitmap word the next ClaimSlot scan begins at,
// per the adaptive scan controller (§4.3).
func (e *Engine) scanStartWord() int {
	if ScanMode(e.scanMode.Load()) == ScanSequential {
		return 0
	}
	// RANDOMIZED: spread concurrent claimers across words. The source
	// material hashes a thread-local counter; Go has no thread locals, so
	// this hashes a shared call counter instead — it still varies between
	// concurrent goroutines without needing OS thread identity (§9 treats
	// thread identity tracking as out of scope).
	n := e.scanCounter.Add(1)
	h := n * 2654435761
	if e.wordsPer <= 0 {
		return 0
	}
	return int(h % uint64(e.wordsPer))
}

// recordScanWindow feeds the adaptive controller's sliding window and
// flips mode when retry rate crosses a hysteresis band (§4.3).
func (e *Engine) recordScanWindow(attempts, retries uint64) {
	if attempts == 0 {
		return
	}
	a := e.windowAttempts.Add(attempts)
	r := e.windowRetries.Add(retries)
	if a < e.cfg.ScanWindowSize {
		return
	}
	if !e.windowAttempts.CompareAndSwap(a, 0) {
		return // another goroutine already closed out this window
	}
	e.windowRetries.Store(0)
	e.scanChecks.Add(1)

	rate := float64(r) / float64(a)
	switch ScanMode(e.scanMode.Load()) {
	case ScanSequential:
		if rate > e.cfg.UpperBand {
			if e.scanMode.CompareAndSwap(int32(ScanSequential), int32(ScanRandomized)) {
				e.scanSwitches.Add(1)
			}
		}
	case ScanRandomized:
		if rate < e.cfg.LowerBand {
			if e.scanMode.CompareAndSwap(int32(ScanRandomized), int32(ScanSequential)) {
				e.scanSwitches.Add(1)
			}
		}
	}
}

// ScanMode reports the current adaptive scan-controller mode.
func (e *Engine) ScanMode() ScanMode { return ScanMode(e.scanMode.Load()) }

// ScanChecks reports how many sliding-window decisions have been made.
func (e *Engine) ScanChecks() uint64 { return e.scanChecks.Load() }

// ScanSwitches reports how many times the mode has flipped.
func (e *Engine) ScanSwitches() uint64 { return e.scanSwitches.Load() }

// Stats returns a snapshot of this class's always-on counters.
func (e *Engine) Stats() allocstats.ClassCounters { return e.stats.Snapshot() }

// CacheStats returns a snapshot of this class's slab cache.
func (e *Engine) CacheStats() slab.Stats { return e.cache.Snapshot() }

// EpochAllocCount reports the allocation count recorded against one
// epoch slot for this class.
func (e *Engine) EpochAllocCount(epochID uint32) uint64 {
	return e.epochs[epochID].allocCount.Load()
}

// EpochPartialCount and EpochFullCount report this class's current
// partial/full list occupancy for one epoch slot, for stats_epoch (§6).
func (e *Engine) EpochPartialCount(epochID uint32) int64 { return e.epochs[epochID].partialCount.Load() }
func (e *Engine) EpochFullCount(epochID uint32) int64    { return e.epochs[epochID].fullCount.Load() }

// EpochReclaimable reports how many of this class's partial-list slabs
// for epochID are already fully free (every object released, just not
// yet drained back to the cache/page source) and the bytes that would be
// returned if DrainEpoch ran right now. This is a stats-path read, not a
// hot-path one: it walks the partial list under the class lock, which is
// acceptable here since it runs only when a caller asks for stats_epoch,
// never from alloc_obj/free_obj.
func (e *Engine) EpochReclaimable(epochID uint32) (count int64, bytes uint64) {
	es := &e.epochs[epochID]
	e.lock.Lock()
	for cur := es.partialHead; cur != nil; cur = cur.Next {
		if cur.FreeCount() == int32(cur.ObjCount()) {
			count++
		}
	}
	e.lock.Unlock()
	bytes = uint64(count) * uint64(e.cfg.PageSize)
	return count, bytes
}

// RingWidth reports how many epoch slots this engine tracks state for.
func (e *Engine) RingWidth() uint32 { return uint32(len(e.epochs)) }

// ClassIndex reports this engine's position in the top-level allocator's
// class table.
func (e *Engine) ClassIndex() int { return e.classIdx }

// EpochHasCurrentPartial reports whether epochID currently has a
// current-partial slab installed for this class.
func (e *Engine) EpochHasCurrentPartial(epochID uint32) bool {
	return e.epochs[epochID].currentPartial.Load() != nil
}

// ReleaseCache pops every slab currently parked in this class's cache and
// releases its page back to the page source. It is a shutdown hook, not
// a hot-path operation: the caller (Allocator.Close) runs it once after
// deciding no further allocations will be served.
func (e *Engine) ReleaseCache() (released int) {
	for {
		s, ok := e.cache.Pop()
		if !ok {
			return released
		}
		e.registry.Retire(s.SlabID())
		_ = e.pages.Release(s.Page())
		released++
	}
}
