// Package promexport adapts the allocator's flat stats snapshots (§6) to
// a prometheus.Collector, so the counters allocstats already tracks can
// be scraped without threading Prometheus registration through the
// allocator's own construction path.
package promexport

import (
	"strconv"

	"github.com/minio/slaballoc"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is the subset of *slaballoc.Allocator this collector needs.
// Tests substitute a fake; production callers pass the real allocator.
type StatsSource interface {
	StatsGlobal() slaballoc.GlobalStats
	NumClasses() int
	StatsClass(idx int) (slaballoc.ClassStats, bool)
}

var (
	allocationsDesc = prometheus.NewDesc(
		"slaballoc_allocations_total", "Total objects allocated.", nil, nil)
	freesDesc = prometheus.NewDesc(
		"slaballoc_frees_total", "Total objects freed.", nil, nil)
	unknownSlabDesc = prometheus.NewDesc(
		"slaballoc_unknown_slab_total", "Handles that resolved to no registered slab.", nil, nil)
	staleHandleDesc = prometheus.NewDesc(
		"slaballoc_stale_handle_total", "Handles rejected for a generation mismatch.", nil, nil)
	sizeTooLargeDesc = prometheus.NewDesc(
		"slaballoc_size_too_large_total", "Allocation requests exceeding the largest size class.", nil, nil)
	outOfMemoryDesc = prometheus.NewDesc(
		"slaballoc_out_of_memory_total", "Allocations that failed because the page source was exhausted.", nil, nil)
	slabsAllocatedDesc = prometheus.NewDesc(
		"slaballoc_slabs_allocated_total", "Pages acquired from the OS over the process lifetime.", nil, nil)
	slabsReleasedDesc = prometheus.NewDesc(
		"slaballoc_slabs_released_total", "Pages returned to the OS over the process lifetime.", nil, nil)
	slabsRecycledDesc = prometheus.NewDesc(
		"slaballoc_slabs_recycled_total", "Slabs pushed onto a class cache for reuse.", nil, nil)

	classLabels            = []string{"class"}
	classAllocationsDesc   = prometheus.NewDesc("slaballoc_class_allocations_total", "Allocations served by this size class.", classLabels, nil)
	classSlowPathHitsDesc  = prometheus.NewDesc("slaballoc_class_slow_path_hits_total", "Slow-path installs for this size class.", classLabels, nil)
	classDoubleFreeDesc    = prometheus.NewDesc("slaballoc_class_double_free_total", "Double-free attempts rejected by this size class.", classLabels, nil)
	classCacheLenDesc      = prometheus.NewDesc("slaballoc_class_cache_len", "Slabs currently parked in this class's cache.", classLabels, nil)
	classCacheCapacityDesc = prometheus.NewDesc("slaballoc_class_cache_capacity", "Bound on this class's cache.", classLabels, nil)
)

// Collector implements prometheus.Collector over an allocator's stats
// snapshots. It holds no state of its own beyond the source reference —
// every Collect call re-reads live counters, matching the rest of
// allocstats's "snapshot on demand, never push" design.
type Collector struct {
	src StatsSource
}

// New returns a Collector reading from src.
func New(src StatsSource) *Collector { return &Collector{src: src} }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- allocationsDesc
	ch <- freesDesc
	ch <- unknownSlabDesc
	ch <- staleHandleDesc
	ch <- sizeTooLargeDesc
	ch <- outOfMemoryDesc
	ch <- slabsAllocatedDesc
	ch <- slabsReleasedDesc
	ch <- slabsRecycledDesc
	ch <- classAllocationsDesc
	ch <- classSlowPathHitsDesc
	ch <- classDoubleFreeDesc
	ch <- classCacheLenDesc
	ch <- classCacheCapacityDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	g := c.src.StatsGlobal()
	ch <- prometheus.MustNewConstMetric(allocationsDesc, prometheus.CounterValue, float64(g.Allocations))
	ch <- prometheus.MustNewConstMetric(freesDesc, prometheus.CounterValue, float64(g.Frees))
	ch <- prometheus.MustNewConstMetric(unknownSlabDesc, prometheus.CounterValue, float64(g.UnknownSlab))
	ch <- prometheus.MustNewConstMetric(staleHandleDesc, prometheus.CounterValue, float64(g.StaleHandle))
	ch <- prometheus.MustNewConstMetric(sizeTooLargeDesc, prometheus.CounterValue, float64(g.SizeTooLarge))
	ch <- prometheus.MustNewConstMetric(outOfMemoryDesc, prometheus.CounterValue, float64(g.OutOfMemory))
	ch <- prometheus.MustNewConstMetric(slabsAllocatedDesc, prometheus.CounterValue, float64(g.SlabsAllocated))
	ch <- prometheus.MustNewConstMetric(slabsReleasedDesc, prometheus.CounterValue, float64(g.SlabsReleased))
	ch <- prometheus.MustNewConstMetric(slabsRecycledDesc, prometheus.CounterValue, float64(g.SlabsRecycled))

	for i := 0; i < c.src.NumClasses(); i++ {
		cs, ok := c.src.StatsClass(i)
		if !ok {
			continue
		}
		label := strconv.FormatUint(uint64(cs.ObjSize), 10)
		ch <- prometheus.MustNewConstMetric(classAllocationsDesc, prometheus.CounterValue, float64(cs.Allocations), label)
		ch <- prometheus.MustNewConstMetric(classSlowPathHitsDesc, prometheus.CounterValue, float64(cs.SlowPathHits), label)
		ch <- prometheus.MustNewConstMetric(classDoubleFreeDesc, prometheus.CounterValue, float64(cs.DoubleFree), label)
		ch <- prometheus.MustNewConstMetric(classCacheLenDesc, prometheus.GaugeValue, float64(cs.CacheLen), label)
		ch <- prometheus.MustNewConstMetric(classCacheCapacityDesc, prometheus.GaugeValue, float64(cs.CacheCapacity), label)
	}
}
