// Package pagesource acquires and releases page-aligned, page-sized memory
// from the OS and advises the kernel when a page is no longer needed.
//
// It is the allocator's only source of memory from the operating system;
// every other component works purely in terms of slices handed out here.
package pagesource

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Stats are the counters §4.8 requires from the page source: advise is
// never allowed to fail loudly, so failures only ever show up here.
type Stats struct {
	PagesAcquired  uint64
	PagesReleased  uint64
	AdviseCalls    uint64
	AdviseBytes    uint64
	AdviseFailures uint64
}

// Source hands out OS pages via an anonymous mmap and returns them the same
// way. It never returns memory pulled from Go's own heap: the allocator's
// slabs must not be movable or scanned by the Go GC.
type Source struct {
	pageSize int

	pagesAcquired  atomic.Uint64
	pagesReleased  atomic.Uint64
	adviseCalls    atomic.Uint64
	adviseBytes    atomic.Uint64
	adviseFailures atomic.Uint64
}

// New returns a page source for the given OS page size. Callers normally
// pass unix.Getpagesize(); a fixed size is accepted so tests can exercise
// small "pages" without needing real mmap-sized regions.
func New(pageSize int) *Source {
	if pageSize <= 0 {
		panic("pagesource: pageSize must be positive")
	}
	return &Source{pageSize: pageSize}
}

// PageSize returns the configured page size.
func (s *Source) PageSize() int { return s.pageSize }

// Acquire returns one zero-initialized, page-aligned, page-sized region.
// mmap of anonymous memory is zero-filled by the kernel, so no explicit
// clear is needed.
func (s *Source) Acquire() ([]byte, error) {
	b, err := unix.Mmap(-1, 0, s.pageSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagesource: acquire page: %w", err)
	}
	s.pagesAcquired.Add(1)
	return b, nil
}

// Release returns a page to the OS. The slice must be exactly what Acquire
// returned (same backing mapping); sub-slices are not supported.
func (s *Source) Release(page []byte) error {
	if err := unix.Munmap(page); err != nil {
		return fmt.Errorf("pagesource: release page: %w", err)
	}
	s.pagesReleased.Add(1)
	return nil
}

// AdviseUnused hints that the page's physical memory can be dropped; RSS
// may fall but the mapping remains valid. Per §4.1 this must never be
// fatal: on unsupported platforms or transient errors it is counted and
// swallowed. It reports ok so callers that keep their own per-class
// advise counters (§4.8) can mirror this source's global ones.
func (s *Source) AdviseUnused(page []byte) (ok bool) {
	s.adviseCalls.Add(1)
	if err := unix.Madvise(page, unix.MADV_DONTNEED); err != nil {
		s.adviseFailures.Add(1)
		return false
	}
	s.adviseBytes.Add(uint64(len(page)))
	return true
}

// Snapshot returns a consistent-enough (relaxed) read of the counters.
func (s *Source) Snapshot() Stats {
	return Stats{
		PagesAcquired:  s.pagesAcquired.Load(),
		PagesReleased:  s.pagesReleased.Load(),
		AdviseCalls:    s.adviseCalls.Load(),
		AdviseBytes:    s.adviseBytes.Load(),
		AdviseFailures: s.adviseFailures.Load(),
	}
}
