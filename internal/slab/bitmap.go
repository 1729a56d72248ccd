package slab

import "math/bits"

// ClaimResult reports the outcome of a ClaimSlot call along with the CAS
// attempt/retry counts the size-class engine folds into its per-class
// totals (§4.3 "Retries are counted into the per-class CAS-retry
// totals — denominators (attempts) and numerators (retries) are tracked
// separately").
type ClaimResult struct {
	Slot     uint32
	OK       bool
	Attempts uint64
	Retries  uint64
}

// ClaimSlot finds and clears one free bit, starting the word scan at
// startWord (mod the word count) per the adaptive scan controller
// (§4.3). A zero word is skipped without counting as an attempt; a
// nonzero word that loses its CAS race is retried against the same word
// until it either empties or the CAS succeeds.
func (s *Slab) ClaimSlot(startWord int) ClaimResult {
	s.checkMagic()
	n := len(s.bitmap)
	if n == 0 {
		return ClaimResult{}
	}
	start := ((startWord % n) + n) % n

	var res ClaimResult
	for i := 0; i < n; i++ {
		w := (start + i) % n
		for {
			old := s.bitmap[w].Load()
			if old == 0 {
				break // word exhausted, move to the next one
			}
			res.Attempts++
			bit := bits.TrailingZeros32(old)
			newVal := old &^ (uint32(1) << uint(bit))
			if s.bitmap[w].CompareAndSwap(old, newVal) {
				res.Slot = uint32(w)*32 + uint32(bit)
				res.OK = true
				return res
			}
			res.Retries++
			// Re-read and retry the same word (§4.3).
		}
	}
	return res
}

// ErrDoubleFree-shaped outcome: ReleaseSlot reports whether the release
// found the bit already set (double free) via the OK field rather than
// an error type, so this leaf package stays independent of allocerr; the
// size-class engine translates a false OK into allocerr.ErrDoubleFree.

// ReleaseResult reports the outcome of a ReleaseSlot call along with the
// CAS attempt/retry counts the size-class engine folds into its
// per-class free-side totals (§4.3, §4.8).
type ReleaseResult struct {
	PrevFreeCount int32
	OK            bool
	Attempts      uint64
	Retries       uint64
}

// ReleaseSlot sets the bit for slot free and atomically increments
// free_count, per §4.3. It reports the previous free_count so the caller
// can drive the full/partial list-migration state machine (§4.4); OK is
// false if the slot was already free (double free).
func (s *Slab) ReleaseSlot(slot uint32) ReleaseResult {
	s.checkMagic()
	w := slot / 32
	bit := slot % 32
	if int(w) >= len(s.bitmap) {
		return ReleaseResult{}
	}
	mask := uint32(1) << bit
	var res ReleaseResult
	for {
		old := s.bitmap[w].Load()
		if old&mask != 0 {
			return ReleaseResult{} // double free
		}
		res.Attempts++
		newVal := old | mask
		if s.bitmap[w].CompareAndSwap(old, newVal) {
			break
		}
		res.Retries++
	}
	res.PrevFreeCount = s.freeCount.Add(1) - 1
	res.OK = true
	return res
}
