//go:build !allocstats_nosample

package allocstats

import (
	"time"

	"golang.org/x/sys/unix"
)

// samplingMask selects 1 in 1024 allocations: the low 10 bits of a
// per-sampler counter must be zero, per §4.8.
const samplingMask = 1<<10 - 1

// ThreadSampler is a goroutine-owned accumulator. Allocate one per
// long-lived worker goroutine and reuse it across calls; never share it
// across goroutines.
type ThreadSampler struct {
	counter uint64
	s       ThreadSamples
}

// NewThreadSampler returns an empty sampler.
func NewThreadSampler() *ThreadSampler {
	return &ThreadSampler{s: ThreadSamples{RepairReasons: map[string]uint64{}}}
}

func (t *ThreadSampler) shouldSample() bool {
	t.counter++
	return t.counter&samplingMask == 0
}

// BeginAlloc increments the gate counter and, if this call is the
// selected 1-in-1024 sample, starts a wall+CPU clock pair. ok reports
// whether EndAlloc/EndRepair should record anything for this call.
func (t *ThreadSampler) BeginAlloc() (wallStart time.Time, cpuStart int64, ok bool) {
	if !t.shouldSample() {
		return time.Time{}, 0, false
	}
	return time.Now(), cpuTimeNanos(), true
}

// EndAlloc closes out a sample started by BeginAlloc. It is a no-op if ok
// is false (the call was not sampled).
func (t *ThreadSampler) EndAlloc(wallStart time.Time, cpuStart int64, ok bool) {
	if !ok {
		return
	}
	wall, cpu, wait := elapsed(wallStart, cpuStart)
	t.s.AllocCount++
	t.s.AllocWallSumNs += wall
	t.s.AllocCPUSumNs += cpu
	t.s.AllocWaitSumNs += wait
	if wall > t.s.AllocWallMaxNs {
		t.s.AllocWallMaxNs = wall
	}
	if cpu > t.s.AllocCPUMaxNs {
		t.s.AllocCPUMaxNs = cpu
	}
	if wait > t.s.AllocWaitMaxNs {
		t.s.AllocWaitMaxNs = wait
	}
}

// EndRepair closes out a zombie-repair sample, additionally classifying
// it by reason ("full_bitmap", "list_mismatch", "other").
func (t *ThreadSampler) EndRepair(reason string, wallStart time.Time, cpuStart int64, ok bool) {
	if !ok {
		return
	}
	wall, cpu, _ := elapsed(wallStart, cpuStart)
	t.s.RepairCount++
	t.s.RepairWallSumNs += wall
	t.s.RepairCPUSumNs += cpu
	t.s.RepairReasons[reason]++
}

// Snapshot returns a deep copy of the accumulated samples.
func (t *ThreadSampler) Snapshot() ThreadSamples {
	cp := t.s
	reasons := make(map[string]uint64, len(t.s.RepairReasons))
	for k, v := range t.s.RepairReasons {
		reasons[k] = v
	}
	cp.RepairReasons = reasons
	return cp
}

func elapsed(wallStart time.Time, cpuStart int64) (wall, cpu, wait uint64) {
	wall = uint64(time.Since(wallStart).Nanoseconds())
	if now := cpuTimeNanos(); now > cpuStart {
		cpu = uint64(now - cpuStart)
	}
	if wall > cpu {
		wait = wall - cpu
	}
	return wall, cpu, wait
}

// cpuTimeNanos approximates the calling goroutine's CPU time via the
// current OS thread's rusage. Go's M:N scheduler means a goroutine can
// migrate between OS threads across a sampled call, so this is a
// best-effort estimate, not an exact per-goroutine figure — acceptable
// here because thread-identity tracking is explicitly a non-goal (§1)
// and wait_ns is documented as an estimate (GLOSSARY).
func cpuTimeNanos() int64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err != nil {
		return 0
	}
	return ru.Utime.Nano() + ru.Stime.Nano()
}
