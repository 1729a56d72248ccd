package slab

import "sync"

// Cache is a bounded LIFO of empty slabs ready for recycling, per §4.5.
// Overflow handling (release to the page source, registry retirement) is
// the owning size-class engine's job — Cache itself only tracks which
// slabs are currently parked and counts what it could not hold.
type Cache struct {
	mu       sync.Mutex
	capacity int
	stack    []*Slab

	pushedOK  uint64
	overflows uint64
	pops      uint64
}

// NewCache returns an empty cache with the given bounded capacity.
func NewCache(capacity int) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{capacity: capacity}
}

// TryPush pushes s onto the cache if there is room. It reports false if
// the cache is at capacity, in which case the caller must overflow s
// (secondary list, or release + advise through the page source) and
// should call MarkOverflow to keep the §8 accounting invariant
// (recycled + overflowed + currently_in_cache == ever_produced) true.
func (c *Cache) TryPush(s *Slab) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) >= c.capacity {
		return false
	}
	c.stack = append(c.stack, s)
	c.pushedOK++
	return true
}

// MarkOverflow records that a slab could not be pushed and was instead
// handed to the page source for release.
func (c *Cache) MarkOverflow() {
	c.mu.Lock()
	c.overflows++
	c.mu.Unlock()
}

// Pop removes and returns the most recently pushed slab, if any.
func (c *Cache) Pop() (*Slab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.stack)
	if n == 0 {
		return nil, false
	}
	s := c.stack[n-1]
	c.stack[n-1] = nil
	c.stack = c.stack[:n-1]
	c.pops++
	return s, true
}

// Stats are the cache counters §4.8/§6 require per class: array size
// (capacity), current occupancy, and the overflow tally.
type Stats struct {
	Capacity  int
	Len       int
	PushedOK  uint64
	Overflows uint64
	Pops      uint64
}

// Snapshot returns a point-in-time read of the cache's counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:  c.capacity,
		Len:       len(c.stack),
		PushedOK:  c.pushedOK,
		Overflows: c.overflows,
		Pops:      c.pops,
	}
}
