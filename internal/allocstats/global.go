package allocstats

import "sync/atomic"

// GlobalCounters are the allocator-wide counters §6's Global stats record
// needs that no single class can own: resolution failures happen before
// a class is even known (the handle's encoded slab id may not resolve to
// anything), plus the successful allocation/free totals. Slab
// created/recycled totals are not kept here; the Global stats record
// reads them from the page source and sums them across classes.
type GlobalCounters struct {
	UnknownSlab  uint64
	StaleHandle  uint64
	SizeTooLarge uint64
	OutOfMemory  uint64

	Allocations uint64
	Frees       uint64
}

type atomicGlobalCounters struct {
	unknownSlab  atomic.Uint64
	staleHandle  atomic.Uint64
	sizeTooLarge atomic.Uint64
	outOfMemory  atomic.Uint64

	allocations atomic.Uint64
	frees       atomic.Uint64
}

// Global is the allocator-wide counters handle, one per Allocator
// instance.
type Global struct {
	c atomicGlobalCounters
}

func NewGlobal() *Global { return &Global{} }

func (g *Global) UnknownSlab()  { g.c.unknownSlab.Add(1) }
func (g *Global) StaleHandle()  { g.c.staleHandle.Add(1) }
func (g *Global) SizeTooLarge() { g.c.sizeTooLarge.Add(1) }
func (g *Global) OutOfMemory()  { g.c.outOfMemory.Add(1) }
func (g *Global) AllocOK()      { g.c.allocations.Add(1) }
func (g *Global) FreeOK()       { g.c.frees.Add(1) }

// Snapshot returns a point-in-time read of the global counters.
func (g *Global) Snapshot() GlobalCounters {
	return GlobalCounters{
		UnknownSlab:  g.c.unknownSlab.Load(),
		StaleHandle:  g.c.staleHandle.Load(),
		SizeTooLarge: g.c.sizeTooLarge.Load(),
		OutOfMemory:  g.c.outOfMemory.Load(),
		Allocations:  g.c.allocations.Load(),
		Frees:        g.c.frees.Load(),
	}
}
