package allocstats

import "sync"

// ProbedMutex wraps a mutex with the trylock contention probe §4.8
// requires: a non-blocking acquire attempt is made first; its
// success/failure is counted, and only on failure does the caller block.
// This measures occurrence of contention, not duration — zero clock
// calls, zero jitter.
type ProbedMutex struct {
	mu sync.Mutex
	c  *Class
}

// NewProbedMutex returns an unlocked mutex reporting into c.
func NewProbedMutex(c *Class) *ProbedMutex { return &ProbedMutex{c: c} }

// Lock acquires the mutex, recording whether the fast (uncontended) path
// or the blocking path was taken.
func (p *ProbedMutex) Lock() {
	if p.mu.TryLock() {
		p.c.LockFastAcquire()
		return
	}
	p.c.LockContended()
	p.mu.Lock()
}

// Unlock releases the mutex.
func (p *ProbedMutex) Unlock() { p.mu.Unlock() }
