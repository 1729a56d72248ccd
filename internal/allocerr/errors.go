// Package allocerr defines the allocator's boundary error taxonomy as a
// tagged variant (per spec §7/§9) rather than a family of exception types.
// Every failure the allocator reports to a caller is one of these codes;
// internal events that are merely observable (CAS retries, trylock
// contention, advise failures, zombie repairs) never appear here.
package allocerr

import "strconv"

// Code identifies one of the seven reportable allocator failures.
type Code int

const (
	// OutOfMemory means the page source could not deliver a new slab.
	OutOfMemory Code = iota
	// EpochClosed means alloc was attempted against a CLOSING epoch slot.
	EpochClosed
	// SizeTooLarge means the request exceeds the largest configured class.
	SizeTooLarge
	// StaleHandle means the registry generation did not match the handle's.
	StaleHandle
	// UnknownSlab means the handle's slab id is out of the registry's range.
	UnknownSlab
	// DoubleFree means the slot was already free.
	DoubleFree
	// BadSlot means the slot index is out of range for the resolved slab.
	BadSlot
)

func (c Code) String() string {
	switch c {
	case OutOfMemory:
		return "OutOfMemory"
	case EpochClosed:
		return "EpochClosed"
	case SizeTooLarge:
		return "SizeTooLarge"
	case StaleHandle:
		return "StaleHandle"
	case UnknownSlab:
		return "UnknownSlab"
	case DoubleFree:
		return "DoubleFree"
	case BadSlot:
		return "BadSlot"
	default:
		return "Unknown"
	}
}

// Error is the allocator's boundary error. Fields beyond Code are filled in
// only where the generating site has them (e.g. StaleHandle carries the
// slab id and the two generations that disagreed).
type Error struct {
	Code        Code
	SlabID      uint32
	Slot        uint32
	ExpectedGen uint32
	FoundGen    uint32
}

func (e *Error) Error() string {
	switch e.Code {
	case StaleHandle:
		return "allocator: stale handle (slab " + strconv.FormatUint(uint64(e.SlabID), 10) +
			": expected generation " + strconv.FormatUint(uint64(e.ExpectedGen), 10) +
			", found " + strconv.FormatUint(uint64(e.FoundGen), 10) + ")"
	case UnknownSlab:
		return "allocator: unknown slab id " + strconv.FormatUint(uint64(e.SlabID), 10)
	case BadSlot:
		return "allocator: slot " + strconv.FormatUint(uint64(e.Slot), 10) +
			" out of range for slab " + strconv.FormatUint(uint64(e.SlabID), 10)
	default:
		return "allocator: " + e.Code.String()
	}
}

// Is implements errors.Is matching against one of the sentinels below —
// two *Error values are "the same" error for comparison purposes whenever
// their Code matches, regardless of the detail fields.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// Sentinels for errors.Is(err, allocerr.ErrXxx) comparisons.
var (
	ErrOutOfMemory  = &Error{Code: OutOfMemory}
	ErrEpochClosed  = &Error{Code: EpochClosed}
	ErrSizeTooLarge = &Error{Code: SizeTooLarge}
	ErrStaleHandle  = &Error{Code: StaleHandle}
	ErrUnknownSlab  = &Error{Code: UnknownSlab}
	ErrDoubleFree   = &Error{Code: DoubleFree}
	ErrBadSlot      = &Error{Code: BadSlot}
)
