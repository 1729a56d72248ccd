package pagesource

import "testing"

func TestAcquireReleaseRoundTrip(t *testing.T) {
	src := New(4096)

	page, err := src.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(page) != 4096 {
		t.Fatalf("got page of length %d, want 4096", len(page))
	}
	for i, b := range page {
		if b != 0 {
			t.Fatalf("page[%d] = %d, want zero-initialized page", i, b)
		}
	}

	src.AdviseUnused(page)

	if err := src.Release(page); err != nil {
		t.Fatalf("Release: %v", err)
	}

	snap := src.Snapshot()
	if snap.PagesAcquired != 1 || snap.PagesReleased != 1 {
		t.Fatalf("snapshot = %+v, want one acquire and one release", snap)
	}
	if snap.AdviseCalls != 1 {
		t.Fatalf("snapshot.AdviseCalls = %d, want 1", snap.AdviseCalls)
	}
}

func TestNewPanicsOnBadPageSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(0) did not panic")
		}
	}()
	New(0)
}
