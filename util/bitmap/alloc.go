package bitmap

import "sync"

// Allocator pairs a Bitmap with a free-count and a lock, grounded on the
// original engine's TBlockGroup::TAllocatableItems (block_group.h/.cpp):
// TryAllocate, under the lock, checks FreeCount for exhaustion before
// scanning, then sets the first clear bit and decrements FreeCount;
// Deallocate clears the bit and increments FreeCount.
type Allocator struct {
	mu        sync.Mutex
	bitmap    *Bitmap
	freeCount int
}

// NewAllocator wraps bm with an initial free count of nBits. For a fresh,
// all-clear bitmap that is its number of addressable positions; for a bitmap
// loaded from disk it is the persisted count of clear positions.
func NewAllocator(bm *Bitmap, nBits int) *Allocator {
	return &Allocator{bitmap: bm, freeCount: nBits}
}

// FreeCount returns the number of unallocated positions.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCount
}

// TryAllocate finds the first free position, marks it allocated, and returns
// it. It returns -1 if no free position remains.
func (a *Allocator) TryAllocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freeCount == 0 {
		return -1
	}

	idx := a.bitmap.FirstFree(0)
	if idx == -1 {
		// FreeCount and the bitmap disagree: a caller-level bug (e.g. a
		// Deallocate of an index outside this allocator's range), not a
		// condition TryAllocate can repair.
		return -1
	}

	a.freeCount--
	_ = a.bitmap.Set(idx)
	return idx
}

// Deallocate marks idx free again.
func (a *Allocator) Deallocate(idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeCount++
	_ = a.bitmap.Clear(idx)
}

// IsAllocated reports whether idx is currently allocated.
func (a *Allocator) IsAllocated(idx int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, _ := a.bitmap.IsSet(idx)
	return set
}

// Bitmap returns the underlying bitmap, e.g. for serializing it to disk.
// Callers must not mutate it directly; use TryAllocate/Deallocate.
func (a *Allocator) Bitmap() *Bitmap {
	return a.bitmap
}
