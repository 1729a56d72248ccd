// Package allocstats implements the three observability tiers of §4.8:
// always-on relaxed atomic counters, a trylock contention probe, and a
// probabilistic 1/1024 thread-local timing sampler. None of these may
// perturb the hot path or be surfaced as errors (§7) — they are strictly
// observational.
package allocstats

import "sync/atomic"

// ClassCounters are the always-on counters kept per size class.
type ClassCounters struct {
	Allocations uint64

	SlowPathHits           uint64
	SlowCacheMiss          uint64
	SlowEpochClosed        uint64
	SlowCurrentPartialNull uint64
	SlowCurrentPartialFull uint64

	ListMovePartialToFull uint64
	ListMoveFullToPartial uint64

	CASAttemptsAlloc uint64
	CASRetriesAlloc  uint64
	CASAttemptsFree  uint64
	CASRetriesFree   uint64

	CurrentPartialCASAttempts uint64
	CurrentPartialCASFailures uint64

	CachePushes   uint64
	CachePops     uint64
	CacheOverflow uint64

	MadviseCalls    uint64
	MadviseBytes    uint64
	MadviseFailures uint64

	LockFastAcquire uint64
	LockContended   uint64

	EpochCloseCalls    uint64
	EpochCloseScanned  uint64
	EpochCloseRecycled uint64
	EpochCloseNanos    uint64

	RepairCount        uint64
	RepairFullBitmap   uint64
	RepairListMismatch uint64
	RepairOther        uint64

	DoubleFree  uint64
	StaleHandle uint64
	UnknownSlab uint64
	BadSlot     uint64
}

// atomicClassCounters is the live, atomics-backed twin of ClassCounters.
// Every field is updated with relaxed (unordered) atomic adds; snapshots
// are not atomic across fields — a deliberate cost tradeoff per §4.8.
type atomicClassCounters struct {
	allocations atomic.Uint64

	slowPathHits           atomic.Uint64
	slowCacheMiss          atomic.Uint64
	slowEpochClosed        atomic.Uint64
	slowCurrentPartialNull atomic.Uint64
	slowCurrentPartialFull atomic.Uint64

	listMovePartialToFull atomic.Uint64
	listMoveFullToPartial atomic.Uint64

	casAttemptsAlloc atomic.Uint64
	casRetriesAlloc  atomic.Uint64
	casAttemptsFree  atomic.Uint64
	casRetriesFree   atomic.Uint64

	currentPartialCASAttempts atomic.Uint64
	currentPartialCASFailures atomic.Uint64

	cachePushes   atomic.Uint64
	cachePops     atomic.Uint64
	cacheOverflow atomic.Uint64

	madviseCalls    atomic.Uint64
	madviseBytes    atomic.Uint64
	madviseFailures atomic.Uint64

	lockFastAcquire atomic.Uint64
	lockContended   atomic.Uint64

	epochCloseCalls    atomic.Uint64
	epochCloseScanned  atomic.Uint64
	epochCloseRecycled atomic.Uint64
	epochCloseNanos    atomic.Uint64

	repairCount        atomic.Uint64
	repairFullBitmap   atomic.Uint64
	repairListMismatch atomic.Uint64
	repairOther        atomic.Uint64

	doubleFree  atomic.Uint64
	staleHandle atomic.Uint64
	unknownSlab atomic.Uint64
	badSlot     atomic.Uint64
}

// Class is the handle a size-class engine holds to bump its counters and
// read a snapshot.
type Class struct {
	c atomicClassCounters
}

func NewClass() *Class { return &Class{} }

func (c *Class) AllocOK()                   { c.c.allocations.Add(1) }
func (c *Class) SlowCacheMiss()             { c.c.slowPathHits.Add(1); c.c.slowCacheMiss.Add(1) }
func (c *Class) SlowEpochClosed()           { c.c.slowPathHits.Add(1); c.c.slowEpochClosed.Add(1) }
func (c *Class) SlowCurrentPartialNull()    { c.c.slowPathHits.Add(1); c.c.slowCurrentPartialNull.Add(1) }
func (c *Class) SlowCurrentPartialFull()    { c.c.slowPathHits.Add(1); c.c.slowCurrentPartialFull.Add(1) }
func (c *Class) ListMovePartialToFull()     { c.c.listMovePartialToFull.Add(1) }
func (c *Class) ListMoveFullToPartial()     { c.c.listMoveFullToPartial.Add(1) }
func (c *Class) CASAlloc(attempts, retries uint64) {
	c.c.casAttemptsAlloc.Add(attempts)
	c.c.casRetriesAlloc.Add(retries)
}
func (c *Class) CASFree(attempts, retries uint64) {
	c.c.casAttemptsFree.Add(attempts)
	c.c.casRetriesFree.Add(retries)
}
func (c *Class) CurrentPartialCAS(failed bool) {
	c.c.currentPartialCASAttempts.Add(1)
	if failed {
		c.c.currentPartialCASFailures.Add(1)
	}
}
func (c *Class) CachePush()     { c.c.cachePushes.Add(1) }
func (c *Class) CachePop()      { c.c.cachePops.Add(1) }
func (c *Class) CacheOverflow() { c.c.cacheOverflow.Add(1) }
func (c *Class) Madvise(ok bool, bytes uint64) {
	c.c.madviseCalls.Add(1)
	if ok {
		c.c.madviseBytes.Add(bytes)
	} else {
		c.c.madviseFailures.Add(1)
	}
}
func (c *Class) LockFastAcquire() { c.c.lockFastAcquire.Add(1) }
func (c *Class) LockContended()   { c.c.lockContended.Add(1) }
func (c *Class) EpochClose(scanned, recycled, nanos uint64) {
	c.c.epochCloseCalls.Add(1)
	c.c.epochCloseScanned.Add(scanned)
	c.c.epochCloseRecycled.Add(recycled)
	c.c.epochCloseNanos.Add(nanos)
}
func (c *Class) Repair(reason string) {
	c.c.repairCount.Add(1)
	switch reason {
	case "full_bitmap":
		c.c.repairFullBitmap.Add(1)
	case "list_mismatch":
		c.c.repairListMismatch.Add(1)
	default:
		c.c.repairOther.Add(1)
	}
}
func (c *Class) DoubleFree()  { c.c.doubleFree.Add(1) }
func (c *Class) StaleHandle() { c.c.staleHandle.Add(1) }
func (c *Class) UnknownSlab() { c.c.unknownSlab.Add(1) }
func (c *Class) BadSlot()     { c.c.badSlot.Add(1) }

// Snapshot returns a point-in-time (non-atomic-across-fields) read.
func (c *Class) Snapshot() ClassCounters {
	return ClassCounters{
		Allocations:               c.c.allocations.Load(),
		SlowPathHits:              c.c.slowPathHits.Load(),
		SlowCacheMiss:             c.c.slowCacheMiss.Load(),
		SlowEpochClosed:           c.c.slowEpochClosed.Load(),
		SlowCurrentPartialNull:    c.c.slowCurrentPartialNull.Load(),
		SlowCurrentPartialFull:    c.c.slowCurrentPartialFull.Load(),
		ListMovePartialToFull:     c.c.listMovePartialToFull.Load(),
		ListMoveFullToPartial:     c.c.listMoveFullToPartial.Load(),
		CASAttemptsAlloc:          c.c.casAttemptsAlloc.Load(),
		CASRetriesAlloc:           c.c.casRetriesAlloc.Load(),
		CASAttemptsFree:           c.c.casAttemptsFree.Load(),
		CASRetriesFree:            c.c.casRetriesFree.Load(),
		CurrentPartialCASAttempts: c.c.currentPartialCASAttempts.Load(),
		CurrentPartialCASFailures: c.c.currentPartialCASFailures.Load(),
		CachePushes:               c.c.cachePushes.Load(),
		CachePops:                 c.c.cachePops.Load(),
		CacheOverflow:             c.c.cacheOverflow.Load(),
		MadviseCalls:              c.c.madviseCalls.Load(),
		MadviseBytes:              c.c.madviseBytes.Load(),
		MadviseFailures:           c.c.madviseFailures.Load(),
		LockFastAcquire:           c.c.lockFastAcquire.Load(),
		LockContended:             c.c.lockContended.Load(),
		EpochCloseCalls:           c.c.epochCloseCalls.Load(),
		EpochCloseScanned:         c.c.epochCloseScanned.Load(),
		EpochCloseRecycled:        c.c.epochCloseRecycled.Load(),
		EpochCloseNanos:           c.c.epochCloseNanos.Load(),
		RepairCount:               c.c.repairCount.Load(),
		RepairFullBitmap:          c.c.repairFullBitmap.Load(),
		RepairListMismatch:        c.c.repairListMismatch.Load(),
		RepairOther:               c.c.repairOther.Load(),
		DoubleFree:                c.c.doubleFree.Load(),
		StaleHandle:               c.c.staleHandle.Load(),
		UnknownSlab:               c.c.unknownSlab.Load(),
		BadSlot:                   c.c.badSlot.Load(),
	}
}
