// Package cache memoizes expensive, deterministic computations such as expression
// compilation.
package cache

import (
	"sync"
	"sync/atomic"
)

// Memo caches the outcome of fn per key, failures included, so a key is computed at
// most once. It is safe for concurrent use.
type Memo[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*result[V]
	fn    func(K) (V, error)

	hits   atomic.Uint64
	misses atomic.Uint64
}

type result[V any] struct {
	once  sync.Once
	value V
	err   error
}

// NewMemo creates a Memo computing values with fn.
func NewMemo[K comparable, V any](fn func(K) (V, error)) *Memo[K, V] {
	return &Memo[K, V]{items: make(map[K]*result[V]), fn: fn}
}

// Get returns the value for key, computing it on first use. Concurrent callers of the
// same key wait for a single computation.
func (m *Memo[K, V]) Get(key K) (V, error) {
	m.mu.Lock()
	r, ok := m.items[key]
	if !ok {
		r = &result[V]{}
		m.items[key] = r
	}
	m.mu.Unlock()

	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	r.once.Do(func() {
		r.value, r.err = m.fn(key)
	})
	return r.value, r.err
}

// Len returns the number of keys computed or in progress.
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats holds memo statistics.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns memo statistics.
func (m *Memo[K, V]) Stats() Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Size: m.Len(), Hits: hits, Misses: misses, HitRate: rate}
}
