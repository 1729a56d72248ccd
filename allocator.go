package slaballoc

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sys/unix"

	"github.com/minio/slaballoc/internal/allocerr"
	"github.com/minio/slaballoc/internal/allocstats"
	"github.com/minio/slaballoc/internal/epoch"
	"github.com/minio/slaballoc/internal/handle"
	"github.com/minio/slaballoc/internal/pagesource"
	"github.com/minio/slaballoc/internal/sizeclass"
	"github.com/minio/slaballoc/internal/slab"
	"github.com/minio/slaballoc/internal/tracing"
)

// Allocator is the top-level, process-wide entry point (C9): it owns the
// one page source, the one handle registry, the one epoch manager, and
// one sizeclass.Engine per configured size class, and dispatches every
// public operation to the right collaborator.
//
// A single Allocator is meant to be constructed once per process and
// shared across goroutines; every method is safe for concurrent use.
type Allocator struct {
	cfg Config

	classSizes []uint32
	engines    []*sizeclass.Engine

	pages    *pagesource.Source
	registry *handle.Registry[slab.Slab]
	epochMgr *epoch.Manager
	global   *allocstats.Global
}

// New constructs an Allocator from cfg. It returns an error if cfg is
// invalid (§6); it never touches the OS beyond sizing the page source.
func New(cfg Config) (*Allocator, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = unix.Getpagesize()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pages := pagesource.New(cfg.PageSize)
	registry := handle.NewRegistry[slab.Slab]()
	epochMgr := epoch.NewManager(cfg.EpochRingWidth, cfg.RSSReader)
	global := allocstats.NewGlobal()

	scCfg := sizeclass.Config{
		PageSize:       cfg.PageSize,
		CacheCapacity:  cfg.CacheCapacity,
		EagerRecycle:   cfg.EagerRecycle,
		ScanWindowSize: cfg.ScanWindowSize,
		UpperBand:      cfg.ScanUpperBand,
		LowerBand:      cfg.ScanLowerBand,
	}
	if scCfg.ScanWindowSize == 0 {
		def := sizeclass.DefaultConfig(cfg.PageSize, cfg.CacheCapacity)
		scCfg.ScanWindowSize = def.ScanWindowSize
		scCfg.UpperBand = def.UpperBand
		scCfg.LowerBand = def.LowerBand
	}

	a := &Allocator{
		cfg:        cfg,
		classSizes: append([]uint32(nil), cfg.SizeClasses...),
		engines:    make([]*sizeclass.Engine, len(cfg.SizeClasses)),
		pages:      pages,
		registry:   registry,
		epochMgr:   epochMgr,
		global:     global,
	}
	for i, sz := range cfg.SizeClasses {
		a.engines[i] = sizeclass.NewEngine(i, sz, cfg.EpochRingWidth, scCfg, epochMgr, registry, pages, allocstats.NewClass())
	}
	return a, nil
}

// classFor returns the index of the smallest configured size class that
// fits size, or !ok if size exceeds the largest class (§4.1 alloc_obj
// step 1, §8 scenario S2).
func (a *Allocator) classFor(size uint32) (idx int, ok bool) {
	i := sort.Search(len(a.classSizes), func(i int) bool { return a.classSizes[i] >= size })
	if i == len(a.classSizes) {
		return 0, false
	}
	return i, true
}

// AllocObj allocates size bytes tagged with epochID and returns a Handle
// plus the backing byte slice, per §4.1. A size of zero is served by the
// smallest configured class, matching how a zero-length request is
// treated by every other boundary in this package: it is a valid
// allocation, not a special case.
func (a *Allocator) AllocObj(size uint32, epochID uint32) (handle.Handle, []byte, error) {
	idx, ok := a.classFor(size)
	if !ok {
		a.global.SizeTooLarge()
		return 0, nil, allocerr.ErrSizeTooLarge
	}
	eng := a.engines[idx]
	h, err := eng.AllocObj(epochID)
	if err != nil {
		if aerr, ok2 := err.(*allocerr.Error); ok2 && aerr.Code == allocerr.OutOfMemory {
			a.global.OutOfMemory()
		}
		return 0, nil, err
	}
	s, _, err := a.registry.Resolve(h)
	if err != nil {
		// The slab that just produced h was retired between AllocObj and
		// this Resolve — vanishingly unlikely (it would mean a free and a
		// forced recycle both ran faster than the handle could be
		// returned) but still a reportable condition rather than a panic.
		a.global.UnknownSlab()
		return 0, nil, err
	}
	a.global.AllocOK()
	return h, s.Object(h.Slot()), nil
}

// ThreadSampler and ThreadSamples re-export allocstats's per-goroutine
// sampling accumulator so embedders never need to import an internal
// package to use it.
type ThreadSampler = allocstats.ThreadSampler
type ThreadSamples = allocstats.ThreadSamples

// NewThreadSampler returns a fresh sampling accumulator. Per §4.8/§9 it is
// goroutine-owned: allocate one per long-lived worker and pass the same
// instance into every AllocObjSampled call that worker makes. It must never be shared across goroutines.
func NewThreadSampler() *ThreadSampler { return allocstats.NewThreadSampler() }

// AllocObjSampled behaves like AllocObj, additionally feeding the
// probabilistic 1/1024 wall+CPU timing sampler described in §4.8. Pass
// the same *ThreadSampler every call from one goroutine; it accumulates
// across calls and is read back with sampler.Snapshot().
func (a *Allocator) AllocObjSampled(sampler *ThreadSampler, size uint32, epochID uint32) (handle.Handle, []byte, error) {
	wallStart, cpuStart, ok := sampler.BeginAlloc()
	h, obj, err := a.AllocObj(size, epochID)
	sampler.EndAlloc(wallStart, cpuStart, ok)
	return h, obj, err
}

// FreeObj returns an object to its owning size class, per §4.4's free_obj.
func (a *Allocator) FreeObj(h handle.Handle) error {
	s, slot, err := a.registry.Resolve(h)
	if err != nil {
		if aerr, ok := err.(*allocerr.Error); ok {
			switch aerr.Code {
			case allocerr.StaleHandle:
				a.global.StaleHandle()
			case allocerr.UnknownSlab:
				a.global.UnknownSlab()
			}
		}
		return err
	}
	idx, ok := a.classIndexForObjSize(s.ObjSize())
	if !ok {
		a.global.UnknownSlab()
		return &allocerr.Error{Code: allocerr.UnknownSlab, SlabID: s.SlabID()}
	}
	if err := a.engines[idx].CompleteFree(s, slot); err != nil {
		return err
	}
	a.global.FreeOK()
	return nil
}

// Object returns the byte slice backing h without freeing it, allowing a
// caller to re-resolve a handle it already validated (e.g. after storing
// it across a boundary that only persists the Handle, not the slice).
func (a *Allocator) Object(h handle.Handle) ([]byte, error) {
	s, slot, err := a.registry.Resolve(h)
	if err != nil {
		return nil, err
	}
	if slot >= s.ObjCount() {
		return nil, &allocerr.Error{Code: allocerr.BadSlot, SlabID: s.SlabID(), Slot: slot}
	}
	return s.Object(slot), nil
}

func (a *Allocator) classIndexForObjSize(objSize uint32) (int, bool) {
	for i, sz := range a.classSizes {
		if sz == objSize {
			return i, true
		}
	}
	return 0, false
}

// EpochCurrent reports the currently-active epoch slot.
func (a *Allocator) EpochCurrent() uint32 { return a.epochMgr.Current() }

// EpochAdvance rotates the active epoch forward, per §4.6/§4.9.
func (a *Allocator) EpochAdvance() uint32 { return a.epochMgr.Advance() }

// EpochClose transitions epochID to CLOSING, sweeps every size class's
// partial list for fully-empty slabs, and records pre/post-close RSS
// snapshots, per §4.6 close(). It does not early-return when epochID was
// already CLOSING: the drain sweep and RSS snapshot still run, so the
// §8 "close on an already-closing epoch" boundary case is counted the
// same way a fresh close is, rather than silently skipped.
//
// This is the one allocator operation whose cost scales with live state
// (how many slabs a class has to sweep) rather than being O(1), so it is
// the operation traced via internal/tracing: a caller running under a
// request/frame span sees epoch_close show up as its own child span.
func (a *Allocator) EpochClose(ctx context.Context, epochID uint32) (scanned, recycled uint64) {
	tracer := tracing.GetTracer("epoch")
	ctx, span := tracing.StartSpan(ctx, tracer, "epoch_close",
		attribute.Int64("epoch.id", int64(epochID)))
	defer span.End()

	a.epochMgr.Close(epochID)
	for _, eng := range a.engines {
		s, r := eng.DrainEpoch(epochID)
		scanned += s
		recycled += r
	}
	if a.cfg.RSSReader != nil {
		if rss, err := a.cfg.RSSReader.ReadRSS(); err == nil {
			a.epochMgr.SetPostCloseRSS(epochID, rss)
		}
	}

	tracing.AddSpanAttributes(ctx,
		attribute.Int64("epoch.scanned", int64(scanned)),
		attribute.Int64("epoch.recycled", int64(recycled)))
	return scanned, recycled
}

// EpochSetLabel attaches a debugging label to an epoch slot.
func (a *Allocator) EpochSetLabel(epochID uint32, label string) { a.epochMgr.SetLabel(epochID, label) }

// EpochDomainEnter and EpochDomainExit track the higher-level
// request/frame refcount a caller layers over an epoch slot (§4.6).
func (a *Allocator) EpochDomainEnter(epochID uint32, label string) int64 {
	return a.epochMgr.DomainEnter(epochID, label)
}
func (a *Allocator) EpochDomainExit(epochID uint32) int64 { return a.epochMgr.DomainExit(epochID) }

// Close releases every page this allocator ever acquired that is
// currently sitting idle in a class cache. Pages still backing live
// objects are left alone — Close is a best-effort shutdown hook, not a
// leak detector.
func (a *Allocator) Close() error {
	for _, eng := range a.engines {
		eng.ReleaseCache()
	}
	return nil
}
