package sizeclass

import (
	"errors"
	"sync"
	"testing"

	"github.com/minio/slaballoc/internal/allocerr"
	"github.com/minio/slaballoc/internal/allocstats"
	"github.com/minio/slaballoc/internal/epoch"
	"github.com/minio/slaballoc/internal/handle"
	"github.com/minio/slaballoc/internal/pagesource"
	"github.com/minio/slaballoc/internal/slab"
)

const testPageSize = 4096

func newTestEngine(t *testing.T, ringWidth uint32, cacheCapacity int) (*Engine, *epoch.Manager, *handle.Registry[slab.Slab]) {
	t.Helper()
	epochMgr := epoch.NewManager(ringWidth, nil)
	registry := handle.NewRegistry[slab.Slab]()
	pages := pagesource.New(testPageSize)
	cfg := DefaultConfig(testPageSize, cacheCapacity)
	e := NewEngine(0, 128, ringWidth, cfg, epochMgr, registry, pages, allocstats.NewClass())
	return e, epochMgr, registry
}

func freeByHandle(t *testing.T, e *Engine, reg *handle.Registry[slab.Slab], h handle.Handle) error {
	t.Helper()
	s, slot, err := reg.Resolve(h)
	if err != nil {
		return err
	}
	return e.CompleteFree(s, slot)
}

func TestSawtoothAllocFreeReturnsToEmptyCache(t *testing.T) {
	e, _, reg := newTestEngine(t, 4, 16)

	const n = 1024
	handles := make([]handle.Handle, n)
	for i := 0; i < n; i++ {
		h, err := e.AllocObj(0)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		handles[i] = h
	}
	for i, h := range handles {
		if err := freeByHandle(t, e, reg, h); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}

	scanned, recycled := e.DrainEpoch(0)
	if recycled == 0 {
		t.Fatalf("DrainEpoch scanned=%d recycled=%d, want at least one recycled slab", scanned, recycled)
	}

	snap := e.Stats()
	if snap.Allocations != n {
		t.Fatalf("Allocations = %d, want %d", snap.Allocations, n)
	}
}

func TestDoubleFreeReported(t *testing.T) {
	e, _, reg := newTestEngine(t, 4, 4)

	h, err := e.AllocObj(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := freeByHandle(t, e, reg, h); err != nil {
		t.Fatalf("first free: %v", err)
	}
	err = freeByHandle(t, e, reg, h)
	if err == nil {
		t.Fatal("second free succeeded, want DoubleFree")
	}
	var aerr *allocerr.Error
	if !errors.As(err, &aerr) || aerr.Code != allocerr.DoubleFree {
		t.Fatalf("second free error = %v, want DoubleFree", err)
	}
}

func TestStaleHandleAfterForcedRecycle(t *testing.T) {
	e, epochMgr, reg := newTestEngine(t, 4, 4)

	h, err := e.AllocObj(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := freeByHandle(t, e, reg, h); err != nil {
		t.Fatalf("free: %v", err)
	}

	epochMgr.Close(0)
	if scanned, recycled := e.DrainEpoch(0); recycled == 0 {
		t.Fatalf("DrainEpoch scanned=%d recycled=%d, want the emptied slab recycled", scanned, recycled)
	}

	_, _, err = reg.Resolve(h)
	if err == nil {
		t.Fatal("Resolve of stale handle succeeded, want StaleHandle")
	}
	var aerr *allocerr.Error
	if !errors.As(err, &aerr) || aerr.Code != allocerr.StaleHandle {
		t.Fatalf("Resolve error = %v, want StaleHandle", err)
	}
}

func TestAllocRejectedOnClosingEpoch(t *testing.T) {
	e, epochMgr, _ := newTestEngine(t, 4, 4)

	if _, err := e.AllocObj(0); err != nil {
		t.Fatalf("alloc before close: %v", err)
	}
	epochMgr.Close(0)
	next := epochMgr.Advance()

	_, err := e.AllocObj(0)
	if !errors.Is(err, allocerr.ErrEpochClosed) {
		t.Fatalf("alloc after close = %v, want EpochClosed", err)
	}

	if _, err := e.AllocObj(next); err != nil {
		t.Fatalf("alloc against newly-active epoch failed: %v", err)
	}
}

func TestCrossThreadAllocAndFree(t *testing.T) {
	e, _, reg := newTestEngine(t, 4, 16)

	const k = 200
	handles := make([]handle.Handle, k)
	for i := 0; i < k; i++ {
		h, err := e.AllocObj(0)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		handles[i] = h
	}

	var wg sync.WaitGroup
	errs := make([]error, k)
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h handle.Handle) {
			defer wg.Done()
			errs[i] = freeByHandle(t, e, reg, h)
		}(i, h)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("cross-thread free %d: %v", i, err)
		}
	}

	snap := e.Stats()
	if snap.Allocations != k {
		t.Fatalf("Allocations = %d, want %d", snap.Allocations, k)
	}
}

func TestConcurrentAllocFreeLoopStaysConsistent(t *testing.T) {
	e, _, reg := newTestEngine(t, 4, 16)

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				h, err := e.AllocObj(0)
				if err != nil {
					t.Errorf("alloc: %v", err)
					return
				}
				if err := freeByHandle(t, e, reg, h); err != nil {
					t.Errorf("free: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap := e.Stats()
	if snap.Allocations != goroutines*perGoroutine {
		t.Fatalf("Allocations = %d, want %d", snap.Allocations, goroutines*perGoroutine)
	}
	if snap.DoubleFree != 0 || snap.UnknownSlab != 0 {
		t.Fatalf("unexpected error counters: %+v", snap)
	}
}

func TestEpochAllocCountTracksClassAllocations(t *testing.T) {
	e, _, _ := newTestEngine(t, 4, 4)

	for i := 0; i < 10; i++ {
		if _, err := e.AllocObj(0); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if got := e.EpochAllocCount(0); got != 10 {
		t.Fatalf("EpochAllocCount(0) = %d, want 10", got)
	}
	if got := e.EpochAllocCount(1); got != 0 {
		t.Fatalf("EpochAllocCount(1) = %d, want 0", got)
	}
}
