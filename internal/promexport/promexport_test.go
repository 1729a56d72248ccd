package promexport

import (
	"testing"

	"github.com/minio/slaballoc"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	global  slaballoc.GlobalStats
	classes []slaballoc.ClassStats
}

func (f fakeSource) StatsGlobal() slaballoc.GlobalStats { return f.global }
func (f fakeSource) NumClasses() int                    { return len(f.classes) }
func (f fakeSource) StatsClass(idx int) (slaballoc.ClassStats, bool) {
	if idx < 0 || idx >= len(f.classes) {
		return slaballoc.ClassStats{}, false
	}
	return f.classes[idx], true
}

func TestCollectEmitsGlobalAndClassMetrics(t *testing.T) {
	src := fakeSource{
		global: slaballoc.GlobalStats{Allocations: 42, Frees: 40, SlabsAllocated: 3},
		classes: []slaballoc.ClassStats{
			{ObjSize: 64, Allocations: 10, CacheLen: 2, CacheCapacity: 16},
			{ObjSize: 128, Allocations: 32, CacheLen: 1, CacheCapacity: 16},
		},
	}
	col := New(src)

	reg := prometheus.NewRegistry()
	if err := reg.Register(col); err != nil {
		t.Fatalf("Register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawAllocations, sawClassAllocations bool
	for _, mf := range families {
		switch mf.GetName() {
		case "slaballoc_allocations_total":
			sawAllocations = true
			if got := mf.Metric[0].GetCounter().GetValue(); got != 42 {
				t.Fatalf("slaballoc_allocations_total = %v, want 42", got)
			}
		case "slaballoc_class_allocations_total":
			sawClassAllocations = true
			if len(mf.Metric) != 2 {
				t.Fatalf("slaballoc_class_allocations_total has %d series, want 2", len(mf.Metric))
			}
		}
	}
	if !sawAllocations || !sawClassAllocations {
		t.Fatalf("missing expected metric families, got %d families", len(families))
	}
}
