package slaballoc

import "time"

// SchemaVersion identifies the shape of the snapshot records below. Bump
// it whenever a field is added, renamed, or removed so a long-lived
// consumer (a dashboard, a saved debug dump) can tell when it needs to
// adapt.
const SchemaVersion = 1

// GlobalStats is the flat, JSON-tagged snapshot of allocator-wide state
// (§6 stats_global): the resolution-failure counters no single class can
// own, the page source's lifetime totals, and the class-level counters
// that are meaningful summed across every class.
type GlobalStats struct {
	SchemaVersion int    `json:"schema_version"`
	CurrentEpoch  uint32 `json:"current_epoch"`
	ActiveSlots   uint32 `json:"active_slots"`
	ClosingSlots  uint32 `json:"closing_slots"`

	Allocations  uint64 `json:"allocations"`
	Frees        uint64 `json:"frees"`
	UnknownSlab  uint64 `json:"unknown_slab"`
	StaleHandle  uint64 `json:"stale_handle"`
	SizeTooLarge uint64 `json:"size_too_large"`
	OutOfMemory  uint64 `json:"out_of_memory"`

	SlabsAllocated uint64 `json:"slabs_allocated"`
	SlabsReleased  uint64 `json:"slabs_released"`
	SlabsRecycled  uint64 `json:"slabs_recycled"`

	SlowPathHits           uint64 `json:"slow_path_hits"`
	SlowCacheMiss          uint64 `json:"slow_cache_miss"`
	SlowEpochClosed        uint64 `json:"slow_epoch_closed"`
	SlowCurrentPartialNull uint64 `json:"slow_current_partial_null"`
	SlowCurrentPartialFull uint64 `json:"slow_current_partial_full"`

	CacheOverflow uint64 `json:"cache_overflow"`

	AdviseCalls    uint64 `json:"advise_calls"`
	AdviseBytes    uint64 `json:"advise_bytes"`
	AdviseFailures uint64 `json:"advise_failures"`

	EpochCloseCalls    uint64 `json:"epoch_close_calls"`
	EpochCloseScanned  uint64 `json:"epoch_close_scanned"`
	EpochCloseRecycled uint64 `json:"epoch_close_recycled"`
	EpochCloseNanos    uint64 `json:"epoch_close_nanos"`

	RSSBytes uint64 `json:"rss_bytes"`
}

// ClassStats is the flat snapshot of one size class's always-on counters
// (§6 stats_class), plus its cache occupancy and adaptive-scan state.
type ClassStats struct {
	ObjSize  uint32 `json:"obj_size"`
	ObjCount uint32 `json:"obj_count"`

	Allocations uint64 `json:"allocations"`

	SlowPathHits           uint64 `json:"slow_path_hits"`
	SlowCacheMiss          uint64 `json:"slow_cache_miss"`
	SlowEpochClosed        uint64 `json:"slow_epoch_closed"`
	SlowCurrentPartialNull uint64 `json:"slow_current_partial_null"`
	SlowCurrentPartialFull uint64 `json:"slow_current_partial_full"`

	CASAttemptsAlloc uint64 `json:"cas_attempts_alloc"`
	CASRetriesAlloc  uint64 `json:"cas_retries_alloc"`
	CASAttemptsFree  uint64 `json:"cas_attempts_free"`
	CASRetriesFree   uint64 `json:"cas_retries_free"`

	RepairCount uint64 `json:"repair_count"`

	DoubleFree uint64 `json:"double_free"`
	BadSlot    uint64 `json:"bad_slot"`

	CachePushes   uint64 `json:"cache_pushes"`
	CachePops     uint64 `json:"cache_pops"`
	CacheOverflow uint64 `json:"cache_overflow"`
	CacheLen      int    `json:"cache_len"`
	CacheCapacity int    `json:"cache_capacity"`

	ScanMode     string `json:"scan_mode"`
	ScanChecks   uint64 `json:"scan_checks"`
	ScanSwitches uint64 `json:"scan_switches"`
}

// EpochStats is the flat snapshot of one (class, epoch) bucket (§6
// stats_epoch): lifecycle state, list occupancy, RSS snapshots taken
// around close, and both a cheap estimate and a precise count of bytes
// reclaimable if the epoch were drained right now.
type EpochStats struct {
	ClassIndex int       `json:"class_index"`
	ObjSize    uint32    `json:"obj_size"`
	EpochID    uint32    `json:"epoch_id"`
	State      string    `json:"state"`
	Era        uint64    `json:"era"`
	OpenSince  time.Time `json:"open_since"`
	Label      string    `json:"label"`

	AllocCount uint64 `json:"alloc_count"`
	DomainRefs int64  `json:"domain_refs"`

	PartialSlabCount     int64 `json:"partial_slab_count"`
	FullSlabCount        int64 `json:"full_slab_count"`
	ReclaimableSlabCount int64 `json:"reclaimable_slab_count"`

	PreCloseRSSBytes  int64 `json:"pre_close_rss_bytes"`
	PostCloseRSSBytes int64 `json:"post_close_rss_bytes"`

	EstimatedRSSBytes uint64 `json:"estimated_rss_bytes"`
	ReclaimableBytes  uint64 `json:"reclaimable_bytes"`
}

// StatsGlobal returns a point-in-time read of allocator-wide counters.
func (a *Allocator) StatsGlobal() GlobalStats {
	g := a.global.Snapshot()
	p := a.pages.Snapshot()
	active, closing := a.epochMgr.ActiveClosingCounts()

	var (
		recycled                                                      uint64
		slowPathHits, slowCacheMiss, slowEpochClosed                  uint64
		slowCurrentPartialNull, slowCurrentPartialFull, cacheOverflow uint64
		closeCalls, closeScanned, closeRecycled, closeNanos           uint64
	)
	for _, eng := range a.engines {
		c := eng.Stats()
		recycled += c.CachePushes
		slowPathHits += c.SlowPathHits
		slowCacheMiss += c.SlowCacheMiss
		slowEpochClosed += c.SlowEpochClosed
		slowCurrentPartialNull += c.SlowCurrentPartialNull
		slowCurrentPartialFull += c.SlowCurrentPartialFull
		cacheOverflow += c.CacheOverflow
		closeCalls += c.EpochCloseCalls
		closeScanned += c.EpochCloseScanned
		closeRecycled += c.EpochCloseRecycled
		closeNanos += c.EpochCloseNanos
	}

	var rss uint64
	if a.cfg.RSSReader != nil {
		rss, _ = a.cfg.RSSReader.ReadRSS()
	}

	return GlobalStats{
		SchemaVersion: SchemaVersion,
		CurrentEpoch:  a.epochMgr.Current(),
		ActiveSlots:   active,
		ClosingSlots:  closing,

		Allocations:  g.Allocations,
		Frees:        g.Frees,
		UnknownSlab:  g.UnknownSlab,
		StaleHandle:  g.StaleHandle,
		SizeTooLarge: g.SizeTooLarge,
		OutOfMemory:  g.OutOfMemory,

		SlabsAllocated: p.PagesAcquired,
		SlabsReleased:  p.PagesReleased,
		SlabsRecycled:  recycled,

		SlowPathHits:           slowPathHits,
		SlowCacheMiss:          slowCacheMiss,
		SlowEpochClosed:        slowEpochClosed,
		SlowCurrentPartialNull: slowCurrentPartialNull,
		SlowCurrentPartialFull: slowCurrentPartialFull,

		CacheOverflow: cacheOverflow,

		AdviseCalls:    p.AdviseCalls,
		AdviseBytes:    p.AdviseBytes,
		AdviseFailures: p.AdviseFailures,

		EpochCloseCalls:    closeCalls,
		EpochCloseScanned:  closeScanned,
		EpochCloseRecycled: closeRecycled,
		EpochCloseNanos:    closeNanos,

		RSSBytes: rss,
	}
}

// StatsClass returns a point-in-time read of one size class's counters.
// ok is false if idx is out of range.
func (a *Allocator) StatsClass(idx int) (ClassStats, bool) {
	if idx < 0 || idx >= len(a.engines) {
		return ClassStats{}, false
	}
	eng := a.engines[idx]
	c := eng.Stats()
	cache := eng.CacheStats()
	return ClassStats{
		ObjSize:                eng.ObjSize(),
		ObjCount:               eng.ObjCount(),
		Allocations:            c.Allocations,
		SlowPathHits:           c.SlowPathHits,
		SlowCacheMiss:          c.SlowCacheMiss,
		SlowEpochClosed:        c.SlowEpochClosed,
		SlowCurrentPartialNull: c.SlowCurrentPartialNull,
		SlowCurrentPartialFull: c.SlowCurrentPartialFull,
		CASAttemptsAlloc:       c.CASAttemptsAlloc,
		CASRetriesAlloc:        c.CASRetriesAlloc,
		CASAttemptsFree:        c.CASAttemptsFree,
		CASRetriesFree:         c.CASRetriesFree,
		RepairCount:            c.RepairCount,
		DoubleFree:             c.DoubleFree,
		BadSlot:                c.BadSlot,
		CachePushes:            c.CachePushes,
		CachePops:              c.CachePops,
		CacheOverflow:          c.CacheOverflow,
		CacheLen:               cache.Len,
		CacheCapacity:          cache.Capacity,
		ScanMode:               eng.ScanMode().String(),
		ScanChecks:             eng.ScanChecks(),
		ScanSwitches:           eng.ScanSwitches(),
	}, true
}

// StatsEpoch returns a point-in-time read of one (class, epoch) bucket.
// ok is false if classIdx or epochID is out of range.
func (a *Allocator) StatsEpoch(classIdx int, epochID uint32) (EpochStats, bool) {
	if classIdx < 0 || classIdx >= len(a.engines) {
		return EpochStats{}, false
	}
	eng := a.engines[classIdx]
	if epochID >= eng.RingWidth() {
		return EpochStats{}, false
	}

	partial := eng.EpochPartialCount(epochID)
	estimated := uint64(partial) * uint64(a.cfg.PageSize)
	reclaimableSlabs, reclaimableBytes := eng.EpochReclaimable(epochID)

	return EpochStats{
		ClassIndex: classIdx,
		ObjSize:    eng.ObjSize(),
		EpochID:    epochID,
		State:      a.epochMgr.State(epochID).String(),
		Era:        a.epochMgr.Era(epochID),
		OpenSince:  a.epochMgr.OpenSince(epochID),
		Label:      a.epochMgr.Label(epochID),

		AllocCount: eng.EpochAllocCount(epochID),
		DomainRefs: a.epochMgr.DomainRefcount(epochID),

		PartialSlabCount:     partial,
		FullSlabCount:        eng.EpochFullCount(epochID),
		ReclaimableSlabCount: reclaimableSlabs,

		PreCloseRSSBytes:  a.epochMgr.PreCloseRSS(epochID),
		PostCloseRSSBytes: a.epochMgr.PostCloseRSS(epochID),

		EstimatedRSSBytes: estimated,
		ReclaimableBytes:  reclaimableBytes,
	}, true
}

// NumClasses reports how many size classes this allocator was configured
// with, for callers iterating StatsClass/StatsEpoch by index.
func (a *Allocator) NumClasses() int { return len(a.engines) }

// RingWidth reports the epoch ring width shared by every class.
func (a *Allocator) RingWidth() uint32 { return a.cfg.EpochRingWidth }
