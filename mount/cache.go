package mount

import (
	"github.com/jkv/jkv/chash"
)

type dentryKey struct {
	parent FullID
	name   string
}

// Cache is the dentry cache: one chash.Table keyed by (parent_full_id,
// child_name), the only concurrency-safe container used for both cached
// blocks (blockcache.Cache) and cached dentries, per spec.md §4.8.
type Cache struct {
	table      *chash.Table[dentryKey, *Dentry]
	names      *nameGates
	dirGates   *gateRegistry
	valueGates *gateRegistry
}

func NewCache() *Cache {
	return &Cache{
		table:      chash.New[dentryKey, *Dentry](hashDentryKey),
		names:      newNameGates(),
		dirGates:   newGateRegistry(),
		valueGates: newGateRegistry(),
	}
}

func hashDentryKey(k dentryKey) uint64 {
	return hashFullID(k.parent) ^ chash.HashString(k.name)
}

// emplace returns the cached dentry for (parent, name), creating an
// Uninitialized one if absent. created reports which happened; the caller
// owning a freshly-created dentry is responsible for calling initExists or
// initNotExists and then broadcasting via the dentry's own methods.
func (c *Cache) emplace(parent FullID, name string) (h *chash.Handle[dentryKey, *Dentry], created bool) {
	key := dentryKey{parent: parent, name: name}
	return c.table.Emplace(key, func() *Dentry { return newDentry(parent, name) })
}

// nameGate returns the busy-name gate for children of parent.
func (c *Cache) nameGate(parent FullID) *nameGate {
	return c.names.get(parent)
}

// dirGate returns the dir_read/dir_write gate guarding dir's data block.
func (c *Cache) dirGate(dir FullID) *rwGate {
	return c.dirGates.get(dir)
}

// ValueGate returns the value_read/value_write gate guarding leaf's value
// block, for use by package storage around GetValue/SetValue/UnsetValue.
func (c *Cache) ValueGate(leaf FullID) *rwGate {
	return c.valueGates.get(leaf)
}

// AcquireRead/ReleaseRead/AcquireWrite/ReleaseWrite expose rwGate's gate
// discipline without exporting rwGate itself.
func (g *rwGate) AcquireRead()  { g.acquireRead() }
func (g *rwGate) ReleaseRead()  { g.releaseRead() }
func (g *rwGate) AcquireWrite() { g.acquireWrite() }
func (g *rwGate) ReleaseWrite() { g.releaseWrite() }
