package slab

import "testing"

func TestCachePushPopBounded(t *testing.T) {
	c := NewCache(2)
	s1 := newTestSlab(t, 64)
	s2 := newTestSlab(t, 64)
	s3 := newTestSlab(t, 64)

	if !c.TryPush(s1) || !c.TryPush(s2) {
		t.Fatal("expected two pushes within capacity to succeed")
	}
	if c.TryPush(s3) {
		t.Fatal("push beyond capacity unexpectedly succeeded")
	}
	c.MarkOverflow()

	snap := c.Snapshot()
	if snap.Len != 2 || snap.Capacity != 2 || snap.Overflows != 1 {
		t.Fatalf("snapshot = %+v, want Len=2 Capacity=2 Overflows=1", snap)
	}

	got, ok := c.Pop()
	if !ok || got != s2 {
		t.Fatalf("Pop() = (%v, %v), want (s2, true) — LIFO order", got, ok)
	}
}

func TestCachePopEmpty(t *testing.T) {
	c := NewCache(4)
	if _, ok := c.Pop(); ok {
		t.Fatal("Pop on empty cache reported ok")
	}
}
