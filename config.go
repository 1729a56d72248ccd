// Package slaballoc implements a fixed-size, page-aligned slab allocator
// whose objects are tagged with an epoch — a short integer naming a
// temporal bucket — so that a whole wave of short-lived allocations
// (a request, a frame, a tick) can be marked closing, drained, and
// returned to the kernel as a unit.
//
// The allocator never hands out raw pointers. Every allocation returns a
// Handle — an opaque, generation-protected reference — which the caller
// exchanges for the backing bytes via Object, and later surrenders to
// FreeObj. This separates storage from client-visible identifiers and keeps
// every live object discoverable through a single registry rather than
// movable Go pointers the garbage collector could otherwise be asked to
// track.
package slaballoc

import (
	"fmt"

	"github.com/minio/slaballoc/internal/epoch"
	"golang.org/x/sys/unix"
)

// Config is the allocator's init-time configuration (§6 "Environment/
// configuration consumed by the core").
type Config struct {
	// PageSize is the fixed slab size. Zero selects the OS page size.
	PageSize int

	// SizeClasses is the static size-class table, smallest first. Values
	// must be strictly increasing and positive.
	SizeClasses []uint32

	// EpochRingWidth is the number of epoch slots kept live at once.
	EpochRingWidth uint32

	// CacheCapacity bounds each class's recycled-slab stack.
	CacheCapacity int

	// EagerRecycle controls whether a slab that becomes fully empty while
	// its epoch is still ACTIVE is immediately handed to the cache,
	// rather than left on the partial list for the next epoch_close to
	// sweep (§4.4 step 4).
	EagerRecycle bool

	// ScanWindowSize, ScanUpperBand, ScanLowerBand drive the adaptive
	// bitmap scan controller (§4.3). A zero ScanWindowSize selects
	// sizeclass.DefaultConfig's window and both of its bands, replacing
	// any band values set here; a nonzero ScanWindowSize uses all three
	// values exactly as given.
	ScanWindowSize uint64
	ScanUpperBand  float64
	ScanLowerBand  float64

	// RSSReader supplies the pre/post-close RSS snapshots (§4.6). It is
	// an external collaborator per §1 ("RSS reading from OS-specific
	// procfs sources" is out of core scope); nil uses a reader that
	// always reports zero.
	RSSReader epoch.RSSReader
}

// DefaultConfig returns the OS page size, an eight-entry size-class
// table ({64, 96, 128, 192, 256, 384, 512, 768}, which includes the
// 64/128/256 classes the §8 scenarios are written against), a 16-slot
// epoch ring, and a modest per-class cache.
func DefaultConfig() Config {
	return Config{
		PageSize:       unix.Getpagesize(),
		SizeClasses:    []uint32{64, 96, 128, 192, 256, 384, 512, 768},
		EpochRingWidth: 16,
		CacheCapacity:  64,
	}
}

func (c Config) validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("slaballoc: PageSize must be positive")
	}
	if len(c.SizeClasses) == 0 {
		return fmt.Errorf("slaballoc: SizeClasses must not be empty")
	}
	for i, sz := range c.SizeClasses {
		if sz == 0 {
			return fmt.Errorf("slaballoc: SizeClasses must be positive")
		}
		if i > 0 && sz <= c.SizeClasses[i-1] {
			return fmt.Errorf("slaballoc: SizeClasses must be strictly increasing")
		}
	}
	largest := c.SizeClasses[len(c.SizeClasses)-1]
	if int(largest) > c.PageSize {
		return fmt.Errorf("slaballoc: largest size class %d exceeds page size %d", largest, c.PageSize)
	}
	if c.EpochRingWidth == 0 {
		return fmt.Errorf("slaballoc: EpochRingWidth must be positive")
	}
	return nil
}
