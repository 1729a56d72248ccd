package slab

import (
	"sync"
	"testing"
)

func newTestSlab(t *testing.T, objSize uint32) *Slab {
	t.Helper()
	page := make([]byte, 4096)
	return New(1, objSize, 0, 0, page)
}

func TestNewSlabAllFree(t *testing.T) {
	s := newTestSlab(t, 64)
	want := int32(4096 / 64)
	if got := s.FreeCount(); got != want {
		t.Fatalf("FreeCount() = %d, want %d", got, want)
	}
	if got := s.PopcountFree(); got != int(want) {
		t.Fatalf("PopcountFree() = %d, want %d", got, want)
	}
	if s.ListID() != ListNone {
		t.Fatalf("ListID() = %v, want ListNone", s.ListID())
	}
}

func TestClaimAndReleaseRoundTrip(t *testing.T) {
	s := newTestSlab(t, 64)
	total := s.ObjCount()

	seen := make(map[uint32]bool)
	for i := uint32(0); i < total; i++ {
		res := s.ClaimSlot(0)
		if !res.OK {
			t.Fatalf("claim %d failed unexpectedly", i)
		}
		if seen[res.Slot] {
			t.Fatalf("slot %d claimed twice", res.Slot)
		}
		seen[res.Slot] = true
		s.DecrementFreeCount()
	}

	if res := s.ClaimSlot(0); res.OK {
		t.Fatalf("claim on full slab succeeded, got slot %d", res.Slot)
	}
	if !s.BitmapAllZero() {
		t.Fatal("BitmapAllZero() = false on fully claimed slab")
	}

	for slot := range seen {
		rel := s.ReleaseSlot(slot)
		if !rel.OK {
			t.Fatalf("release of slot %d reported double free", slot)
		}
	}

	if got := s.PopcountFree(); uint32(got) != total {
		t.Fatalf("PopcountFree() after full release = %d, want %d", got, total)
	}
}

func TestReleaseDoubleFree(t *testing.T) {
	s := newTestSlab(t, 64)
	res := s.ClaimSlot(0)
	if !res.OK {
		t.Fatal("claim failed")
	}
	if rel := s.ReleaseSlot(res.Slot); !rel.OK {
		t.Fatal("first release reported double free")
	}
	if rel := s.ReleaseSlot(res.Slot); rel.OK {
		t.Fatal("second release on same slot did not report double free")
	}
}

func TestConcurrentClaimNeverDoubleIssues(t *testing.T) {
	s := newTestSlab(t, 64)
	total := int(s.ObjCount())

	var mu sync.Mutex
	seen := make(map[uint32]bool, total)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(startWord int) {
			defer wg.Done()
			for {
				res := s.ClaimSlot(startWord)
				if !res.OK {
					return
				}
				mu.Lock()
				if seen[res.Slot] {
					mu.Unlock()
					t.Errorf("slot %d claimed by two goroutines", res.Slot)
					return
				}
				seen[res.Slot] = true
				mu.Unlock()
				s.DecrementFreeCount()
			}
		}(g)
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct slots, want %d", len(seen), total)
	}
}

func TestResetReinitializesHeader(t *testing.T) {
	s := newTestSlab(t, 64)
	res := s.ClaimSlot(0)
	if !res.OK {
		t.Fatal("claim failed")
	}
	s.DecrementFreeCount()
	s.SetListID(ListPartial)

	s.Reset(5, 42)

	if s.Epoch() != 5 || s.Era() != 42 {
		t.Fatalf("Reset did not update epoch/era: got epoch=%d era=%d", s.Epoch(), s.Era())
	}
	if s.ListID() != ListNone {
		t.Fatalf("Reset left ListID = %v, want ListNone", s.ListID())
	}
	if int(s.FreeCount()) != int(s.ObjCount()) {
		t.Fatalf("Reset left FreeCount = %d, want %d", s.FreeCount(), s.ObjCount())
	}
}
