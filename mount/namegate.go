package mount

import (
	"sync"

	"github.com/jkv/jkv/chash"
)

// nameGate is the per-directory "set of currently-locked child names" from
// spec.md §4.8: a coarse critical section that serializes concurrent
// step_path calls resolving the same child name under the same parent,
// independent of (and in addition to) chash.Table's own single-creator
// guarantee on the dentry cache entry itself.
type nameGate struct {
	mu   sync.Mutex
	cond *sync.Cond
	busy map[string]struct{}
}

func newNameGate() *nameGate {
	g := &nameGate{busy: make(map[string]struct{})}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *nameGate) lock(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if _, busy := g.busy[name]; !busy {
			g.busy[name] = struct{}{}
			return
		}
		g.cond.Wait()
	}
}

func (g *nameGate) unlock(name string) {
	g.mu.Lock()
	delete(g.busy, name)
	g.mu.Unlock()
	g.cond.Broadcast()
}

// nameGates hands out one nameGate per parent FullID, keyed in a
// chash.Table exactly like the dentry cache itself.
type nameGates struct {
	table *chash.Table[FullID, *nameGate]
}

func newNameGates() *nameGates {
	return &nameGates{table: chash.New[FullID, *nameGate](hashFullID)}
}

func (g *nameGates) get(parent FullID) *nameGate {
	h, _ := g.table.Emplace(parent, newNameGate)
	defer h.Release()
	return h.Value()
}

func hashFullID(id FullID) uint64 {
	var buf [24]byte
	copy(buf[:16], id.VolumeID[:])
	buf[16] = byte(id.Inode)
	buf[17] = byte(id.Inode >> 8)
	buf[18] = byte(id.Inode >> 16)
	buf[19] = byte(id.Inode >> 24)
	return chash.HashString(string(buf[:]))
}
