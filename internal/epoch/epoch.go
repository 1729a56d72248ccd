// Package epoch implements the epoch ring, era stamping, lifecycle
// transitions, and domain refcount/label metadata (C6), per §3/§4.6.
//
// The domain refcount + "label on first entrant" shape is adapted from a
// per-tenant quota tracking pattern (dirty-flag-guarded first-write),
// repurposed here from per-tenant quota bookkeeping to per-epoch-slot
// domain entry/exit bookkeeping (see DESIGN.md).
package epoch

import (
	"sync/atomic"
	"time"
)

// State is an epoch slot's lifecycle state.
type State int32

const (
	StateActive State = iota
	StateClosing
)

func (s State) String() string {
	if s == StateClosing {
		return "CLOSING"
	}
	return "ACTIVE"
}

// RSSReader is the external collaborator called out in §1/§6 as out of
// core scope ("RSS reading from OS-specific procfs sources"): the manager
// only needs a number, not a /proc parser.
type RSSReader interface {
	ReadRSS() (bytes uint64, err error)
}

// NoopRSSReader always reports zero; it is the default when the embedder
// does not wire a real reader.
type NoopRSSReader struct{}

func (NoopRSSReader) ReadRSS() (uint64, error) { return 0, nil }

// Slot is one entry in the epoch ring: process-global metadata, not
// per-class (per-class partial/full lists and current_partial live in
// sizeclass.Engine, keyed by epoch index).
type slot struct {
	state State32
	era   atomic.Uint64

	openSinceNanos atomic.Int64
	label          atomic.Pointer[string]
	domainRefs     atomic.Int64

	preCloseRSS  atomic.Int64
	postCloseRSS atomic.Int64
}

// State32 is an int32-backed atomic suitable for storing a State.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State           { return State(s.v.Load()) }
func (s *State32) Store(v State)         { s.v.Store(int32(v)) }
func (s *State32) CAS(old, new State) bool { return s.v.CompareAndSwap(int32(old), int32(new)) }

// Manager owns the fixed-width epoch ring and the monotonic global era
// counter. All operations are lock-free: every field here is accessed
// only through atomics, per §5.
type Manager struct {
	width   uint32
	current atomic.Uint32
	nextEra atomic.Uint64
	slots   []*slot
	rss     RSSReader
}

// NewManager returns a manager with width ring slots, all ACTIVE at
// era 0, current_epoch = 0 (§4.9 initial state machine).
func NewManager(width uint32, rss RSSReader) *Manager {
	if width == 0 {
		panic("epoch: ring width must be positive")
	}
	if rss == nil {
		rss = NoopRSSReader{}
	}
	m := &Manager{width: width, rss: rss}
	m.slots = make([]*slot, width)
	now := time.Now().UnixNano()
	for i := range m.slots {
		s := &slot{}
		s.state.Store(StateActive)
		s.openSinceNanos.Store(now)
		m.slots[i] = s
	}
	return m
}

// Width returns the ring width.
func (m *Manager) Width() uint32 { return m.width }

// Current returns the currently-active ring index.
func (m *Manager) Current() uint32 { return m.current.Load() }

// Advance moves current to (current+1) mod width: the vacated slot moves
// ACTIVE→CLOSING, the entered slot moves CLOSING→ACTIVE at a freshly
// bumped era, per §4.6/§4.9. It returns the new current index.
func (m *Manager) Advance() uint32 {
	for {
		cur := m.current.Load()
		next := (cur + 1) % m.width
		if !m.current.CompareAndSwap(cur, next) {
			continue
		}
		m.slots[cur].state.CAS(StateActive, StateClosing)

		ns := m.nextEra.Add(1)
		entering := m.slots[next]
		entering.era.Store(ns)
		entering.domainRefs.Store(0)
		entering.label.Store(nil)
		entering.preCloseRSS.Store(0)
		entering.postCloseRSS.Store(0)
		entering.openSinceNanos.Store(time.Now().UnixNano())
		entering.state.Store(StateActive)
		return next
	}
}

// Close transitions epoch to CLOSING and takes a pre-close RSS snapshot.
// It reports alreadyClosing=true (a no-op, per §8 boundary behavior) if
// the slot was already CLOSING.
func (m *Manager) Close(epoch uint32) (alreadyClosing bool) {
	s := m.slots[epoch]
	if s.state.Load() == StateClosing {
		return true
	}
	if !s.state.CAS(StateActive, StateClosing) {
		return true // lost the race to another closer; still a no-op for us
	}
	if rss, err := m.rss.ReadRSS(); err == nil {
		s.preCloseRSS.Store(int64(rss))
	}
	return false
}

// SetPostCloseRSS records the RSS snapshot taken once the drain scan for
// epoch has finished sweeping every class.
func (m *Manager) SetPostCloseRSS(epoch uint32, bytes uint64) {
	m.slots[epoch].postCloseRSS.Store(int64(bytes))
}

// State reports an epoch slot's lifecycle state.
func (m *Manager) State(epoch uint32) State { return m.slots[epoch].state.Load() }

// ActiveClosingCounts reports how many ring slots currently sit in each
// lifecycle state, for stats_global's "active/closing slot counts" (§6).
func (m *Manager) ActiveClosingCounts() (active, closing uint32) {
	for _, s := range m.slots {
		if s.state.Load() == StateClosing {
			closing++
		} else {
			active++
		}
	}
	return active, closing
}

// Era reports an epoch slot's current era.
func (m *Manager) Era(epoch uint32) uint64 { return m.slots[epoch].era.Load() }

// OpenSince reports when the epoch slot was last (re)activated.
func (m *Manager) OpenSince(epoch uint32) time.Time {
	return time.Unix(0, m.slots[epoch].openSinceNanos.Load())
}

// PreCloseRSS / PostCloseRSS report the snapshots Close/SetPostCloseRSS
// took, or zero if none has been taken yet this era.
func (m *Manager) PreCloseRSS(epoch uint32) int64  { return m.slots[epoch].preCloseRSS.Load() }
func (m *Manager) PostCloseRSS(epoch uint32) int64 { return m.slots[epoch].postCloseRSS.Load() }

// SetLabel attaches a label to an epoch slot unconditionally.
func (m *Manager) SetLabel(epoch uint32, label string) {
	l := label
	m.slots[epoch].label.Store(&l)
}

// Label returns the epoch slot's current label, or "" if none was set.
func (m *Manager) Label(epoch uint32) string {
	p := m.slots[epoch].label.Load()
	if p == nil {
		return ""
	}
	return *p
}

// DomainEnter increments the domain refcount for epoch and, on a 0→1
// transition, attaches label if non-empty — a hint system for
// higher-level request/frame semantics (§4.6).
func (m *Manager) DomainEnter(epoch uint32, label string) int64 {
	s := m.slots[epoch]
	n := s.domainRefs.Add(1)
	if n == 1 && label != "" {
		l := label
		s.label.Store(&l)
	}
	return n
}

// DomainExit decrements the domain refcount for epoch.
func (m *Manager) DomainExit(epoch uint32) int64 {
	return m.slots[epoch].domainRefs.Add(-1)
}

// DomainRefcount reports the current refcount.
func (m *Manager) DomainRefcount(epoch uint32) int64 {
	return m.slots[epoch].domainRefs.Load()
}
