//go:build allocstats_nosample

package allocstats

import "time"

// ThreadSampler is the zero-cost stand-in built when the binary is
// compiled with the allocstats_nosample tag: every gate check is a no-op
// and BeginAlloc always reports ok=false, so tier 3 costs nothing on the
// hot path.
type ThreadSampler struct{}

func NewThreadSampler() *ThreadSampler { return &ThreadSampler{} }

func (t *ThreadSampler) BeginAlloc() (wallStart time.Time, cpuStart int64, ok bool) {
	return time.Time{}, 0, false
}

func (t *ThreadSampler) EndAlloc(wallStart time.Time, cpuStart int64, ok bool) {}

func (t *ThreadSampler) EndRepair(reason string, wallStart time.Time, cpuStart int64, ok bool) {}

func (t *ThreadSampler) Snapshot() ThreadSamples {
	return ThreadSamples{RepairReasons: map[string]uint64{}}
}
