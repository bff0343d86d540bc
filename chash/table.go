// Package chash implements the one concurrency-safe keyed container used
// by both the block cache and the dentry cache: a vector of lock-striped
// buckets behind a shared resize lock, grounded on the original engine's
// hash_map.h. Lookup takes the resize lock in shared (read) mode; growing
// the bucket vector when the load factor exceeds 1.0 takes it exclusively.
// Entries are reference-counted so that a caller holding a Handle keeps its
// entry alive (and reachable under its new bucket) across a concurrent
// resize.
package chash

import (
	"sync"
	"sync/atomic"
)

// growthPrimes mirrors the original's fixed table of bucket-count primes;
// capacity grows to the next entry whenever the load factor is exceeded.
var growthPrimes = []int{
	1, 3, 7, 17, 37, 79, 163, 331, 673, 1361, 2729, 5471, 10949, 21911,
	43853, 87719, 175447, 350899, 701819, 1403641, 2807303, 5614657,
	11229331, 22458671, 44917381, 89834777, 179669557,
}

func nextPrime(n int) int {
	for _, p := range growthPrimes {
		if p >= n {
			return p
		}
	}
	last := growthPrimes[len(growthPrimes)-1]
	// beyond the fixed table: double until we clear n, same spirit as the
	// original's "next prime from a fixed table" without bounding memory.
	for last < n {
		last *= 2
	}
	return last
}

const maxLoadFactor = 1.0

type entry[K comparable, V any] struct {
	key      K
	value    V
	refcount int32
}

type bucket[K comparable, V any] struct {
	mu    sync.Mutex
	chain []*entry[K, V]
}

// Table is a concurrent, resizable, refcounted hash table.
type Table[K comparable, V any] struct {
	hash     func(K) uint64
	resizeMu sync.RWMutex
	buckets  []*bucket[K, V]
	size     atomic.Int64
}

// New returns an empty table with a single bucket, growing as entries are
// added. hash must be a pure function of its key (the standard library has
// no generic Hash(comparable), so callers supply one, mirroring the
// original's template Hash parameter).
func New[K comparable, V any](hash func(K) uint64) *Table[K, V] {
	t := &Table[K, V]{hash: hash}
	t.buckets = make([]*bucket[K, V], 1)
	t.buckets[0] = &bucket[K, V]{}
	return t
}

// Handle is a live, refcounted reference into the table. Release must be
// called exactly once, typically via defer, mirroring the page-handle /
// dentry prevent_removal discipline described in the spec.
type Handle[K comparable, V any] struct {
	t *Table[K, V]
	e *entry[K, V]
}

// Value returns the stored value. Safe to call any number of times before
// Release.
func (h *Handle[K, V]) Value() V {
	return h.e.value
}

// Release drops this handle's reference. It never removes the entry from
// the table: cached entries (blocks, dentries) are reaped by their owning
// layer, not by chash itself, since only that layer knows when an entry is
// safe to forget (e.g. a dentry with prevent_removal == 0 and state ==
// NotExists).
func (h *Handle[K, V]) Release() {
	atomic.AddInt32(&h.e.refcount, -1)
}

// bucketFor must be called with resizeMu held (shared or exclusive).
func (t *Table[K, V]) bucketFor(key K) *bucket[K, V] {
	h := t.hash(key)
	return t.buckets[h%uint64(len(t.buckets))]
}

// Get looks up key without creating it.
func (t *Table[K, V]) Get(key K) (*Handle[K, V], bool) {
	t.resizeMu.RLock()
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	t.resizeMu.RUnlock()

	for _, e := range b.chain {
		if e.key == key {
			atomic.AddInt32(&e.refcount, 1)
			return &Handle[K, V]{t: t, e: e}, true
		}
	}
	return nil, false
}

// Emplace returns the existing entry for key, or creates one via newValue
// and inserts it. created reports which happened. The returned handle's
// reference count is already incremented; the caller must Release it.
func (t *Table[K, V]) Emplace(key K, newValue func() V) (h *Handle[K, V], created bool) {
	t.resizeMu.RLock()
	b := t.bucketFor(key)
	b.mu.Lock()

	for _, e := range b.chain {
		if e.key == key {
			atomic.AddInt32(&e.refcount, 1)
			b.mu.Unlock()
			t.resizeMu.RUnlock()
			return &Handle[K, V]{t: t, e: e}, false
		}
	}

	e := &entry[K, V]{key: key, value: newValue(), refcount: 1}
	b.chain = append(b.chain, e)
	newSize := t.size.Add(1)
	b.mu.Unlock()
	t.resizeMu.RUnlock()

	if float64(newSize)/float64(t.bucketCount()) > maxLoadFactor {
		t.maybeGrow()
	}

	return &Handle[K, V]{t: t, e: e}, true
}

// Delete removes key from the table if present and its refcount is 0.
// Reports whether it was removed.
func (t *Table[K, V]) Delete(key K) bool {
	t.resizeMu.RLock()
	defer t.resizeMu.RUnlock()
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.chain {
		if e.key == key {
			if atomic.LoadInt32(&e.refcount) != 0 {
				return false
			}
			b.chain = append(b.chain[:i], b.chain[i+1:]...)
			t.size.Add(-1)
			return true
		}
	}
	return false
}

func (t *Table[K, V]) bucketCount() int {
	t.resizeMu.RLock()
	defer t.resizeMu.RUnlock()
	return len(t.buckets)
}

// Len reports the number of live entries.
func (t *Table[K, V]) Len() int {
	return int(t.size.Load())
}

func (t *Table[K, V]) maybeGrow() {
	t.resizeMu.Lock()
	defer t.resizeMu.Unlock()

	size := int(t.size.Load())
	if float64(size)/float64(len(t.buckets)) <= maxLoadFactor {
		return // someone else already grew it
	}

	newCount := nextPrime(len(t.buckets) + 1)
	newBuckets := make([]*bucket[K, V], newCount)
	for i := range newBuckets {
		newBuckets[i] = &bucket[K, V]{}
	}

	for _, old := range t.buckets {
		for _, e := range old.chain {
			h := t.hash(e.key)
			nb := newBuckets[h%uint64(newCount)]
			nb.chain = append(nb.chain, e)
		}
	}

	t.buckets = newBuckets
}

// ForEach visits every live entry under the resize lock held in shared
// mode. The callback must not call back into the table.
func (t *Table[K, V]) ForEach(fn func(key K, value V)) {
	t.resizeMu.RLock()
	defer t.resizeMu.RUnlock()
	for _, b := range t.buckets {
		b.mu.Lock()
		for _, e := range b.chain {
			fn(e.key, e.value)
		}
		b.mu.Unlock()
	}
}
