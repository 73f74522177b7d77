// Package keyedmutex provides fine-grained per-key mutual exclusion.
//
// The engines serialize mutations per entity (per producer, per submission,
// per listing) rather than behind a single lock, so unrelated entities never
// contend. Locks are striped over a fixed table: two distinct keys may share
// a stripe, which can only cause extra serialization, never a missed one.
package keyedmutex

import (
	"hash/fnv"
	"sync"
)

const stripes = 256

// Mutex is a striped set of mutexes addressed by string key.
// The zero value is not usable; call New.
type Mutex struct {
	locks [stripes]sync.Mutex
}

func New() *Mutex {
	return &Mutex{}
}

func (m *Mutex) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.locks[h.Sum32()%stripes]
}

// Lock acquires the stripe for key and returns its unlock function.
func (m *Mutex) Lock(key string) func() {
	s := m.stripe(key)
	s.Lock()
	return s.Unlock
}

// LockPair acquires the stripes for two keys in a stable order, avoiding
// deadlock when two goroutines lock the same pair in opposite argument order.
// Used by cross-account moves (settlement: seller escrow to buyer balance).
func (m *Mutex) LockPair(a, b string) func() {
	sa, sb := m.stripe(a), m.stripe(b)
	if sa == sb {
		sa.Lock()
		return sa.Unlock
	}
	// Order by stripe address via index comparison.
	ia, ib := m.index(a), m.index(b)
	if ia > ib {
		sa, sb = sb, sa
	}
	sa.Lock()
	sb.Lock()
	return func() {
		sb.Unlock()
		sa.Unlock()
	}
}

func (m *Mutex) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % stripes
}
