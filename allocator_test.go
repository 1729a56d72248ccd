package slaballoc

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/slaballoc/internal/allocerr"
	"github.com/minio/slaballoc/internal/handle"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.EpochRingWidth = 4
	cfg.CacheCapacity = 16
	return cfg
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	h, obj, err := a.AllocObj(100, a.EpochCurrent())
	if err != nil {
		t.Fatalf("AllocObj: %v", err)
	}
	if len(obj) != 128 {
		t.Fatalf("object size = %d, want the 128-byte class to have served a 100-byte request", len(obj))
	}
	copy(obj, []byte("hello"))

	if err := a.FreeObj(h); err != nil {
		t.Fatalf("FreeObj: %v", err)
	}
}

func TestAllocRejectsOversizeRequest(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	_, _, err = a.AllocObj(10_000, a.EpochCurrent())
	if !errors.Is(err, allocerr.ErrSizeTooLarge) {
		t.Fatalf("AllocObj(10000) = %v, want SizeTooLarge", err)
	}
	snap := a.StatsGlobal()
	if snap.SizeTooLarge != 1 {
		t.Fatalf("StatsGlobal.SizeTooLarge = %d, want 1", snap.SizeTooLarge)
	}
}

func TestFreeUnknownHandleReported(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	err = a.FreeObj(0xDEADBEEF)
	if !errors.Is(err, allocerr.ErrUnknownSlab) && !errors.Is(err, allocerr.ErrStaleHandle) {
		t.Fatalf("FreeObj(garbage) = %v, want UnknownSlab or StaleHandle", err)
	}
	snap := a.StatsGlobal()
	if snap.UnknownSlab+snap.StaleHandle != 1 {
		t.Fatalf("StatsGlobal resolution-failure counters = %+v, want exactly one bump", snap)
	}
}

func TestEpochCloseDrainsEmptiedSlabs(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	epochID := a.EpochCurrent()
	const n = 64
	handles := make([]handle.Handle, n)
	for i := 0; i < n; i++ {
		h, _, err := a.AllocObj(64, epochID)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		handles[i] = h
	}
	for i, h := range handles {
		if err := a.FreeObj(h); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}

	scanned, recycled := a.EpochClose(context.Background(), epochID)
	if recycled == 0 {
		t.Fatalf("EpochClose scanned=%d recycled=%d, want at least one recycled slab", scanned, recycled)
	}
}

// TestFreeAfterEraAdvance pins the §9 Open Question decision: free_obj
// never inspects the *current* era of the handle's owning epoch slot,
// only the registry's generation check. A handle allocated under epoch 0
// must still free successfully after epoch 0's ring slot has cycled all
// the way around and come back ACTIVE at a new era, so long as the slab
// itself was never recycled (no generation bump) in the meantime.
func TestFreeAfterEraAdvance(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	epochID := a.EpochCurrent()
	eraBefore := a.epochMgr.Era(epochID)

	h, _, err := a.AllocObj(64, epochID)
	if err != nil {
		t.Fatalf("AllocObj: %v", err)
	}

	for i := uint32(0); i < a.RingWidth(); i++ {
		a.EpochAdvance()
	}

	eraAfter := a.epochMgr.Era(epochID)
	if eraAfter == eraBefore {
		t.Fatalf("epoch %d era did not advance across a full ring wrap: still %d", epochID, eraAfter)
	}

	if err := a.FreeObj(h); err != nil {
		t.Fatalf("FreeObj after era advance = %v, want success (free_obj ignores the epoch slot's current era)", err)
	}
}

func TestStatsClassReflectsConfiguredSizes(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	for i, want := range a.cfg.SizeClasses {
		cs, ok := a.StatsClass(i)
		if !ok {
			t.Fatalf("StatsClass(%d) not ok", i)
		}
		if cs.ObjSize != want {
			t.Fatalf("StatsClass(%d).ObjSize = %d, want %d", i, cs.ObjSize, want)
		}
	}
	if _, ok := a.StatsClass(len(a.cfg.SizeClasses)); ok {
		t.Fatal("StatsClass(out of range) reported ok")
	}
}

func TestAllocObjSampledAccumulates(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	sampler := NewThreadSampler()
	epochID := a.EpochCurrent()
	for i := 0; i < 4096; i++ {
		h, _, err := a.AllocObjSampled(sampler, 64, epochID)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if err := a.FreeObj(h); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}

	snap := sampler.Snapshot()
	if snap.AllocCount == 0 {
		t.Fatal("sampler recorded zero samples across 4096 allocations, want at least one 1-in-1024 sample")
	}
}

func TestStatsEpochReportsLabelDomainAndLifecycleState(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	epochID := a.EpochCurrent()
	a.EpochSetLabel(epochID, "request-42")
	a.EpochDomainEnter(epochID, "request-42")

	es, ok := a.StatsEpoch(0, epochID)
	if !ok {
		t.Fatal("StatsEpoch not ok")
	}
	if es.Label != "request-42" {
		t.Fatalf("Label = %q, want %q", es.Label, "request-42")
	}
	if es.DomainRefs != 1 {
		t.Fatalf("DomainRefs = %d, want 1", es.DomainRefs)
	}
	if es.State != "ACTIVE" {
		t.Fatalf("State = %q, want ACTIVE", es.State)
	}
}
