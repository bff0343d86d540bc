package mount

import (
	"sync"

	"github.com/jkv/jkv/chash"
)

// rwGate is the RW-style counter + condvar pair spec.md §4.8 calls for on
// both the directory data block (dir_read/dir_write) and the value block
// (value_read/value_write): many concurrent readers, one exclusive writer.
type rwGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
}

func newRWGate() *rwGate {
	g := &rwGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *rwGate) acquireRead() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.writer {
		g.cond.Wait()
	}
	g.readers++
}

func (g *rwGate) releaseRead() {
	g.mu.Lock()
	g.readers--
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *rwGate) acquireWrite() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.writer || g.readers > 0 {
		g.cond.Wait()
	}
	g.writer = true
}

func (g *rwGate) releaseWrite() {
	g.mu.Lock()
	g.writer = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// gateRegistry hands out one rwGate per FullID, used for both the dir gate
// (keyed by directory inode) and the value gate (keyed by value-bearing
// inode).
type gateRegistry struct {
	table *chash.Table[FullID, *rwGate]
}

func newGateRegistry() *gateRegistry {
	return &gateRegistry{table: chash.New[FullID, *rwGate](hashFullID)}
}

func (r *gateRegistry) get(id FullID) *rwGate {
	h, _ := r.table.Emplace(id, newRWGate)
	defer h.Release()
	return h.Value()
}
