// Package mount implements the dentry cache, mount stack, mount table, and
// path resolver layered on top of package volume: the machinery that turns
// slash-separated paths into volume-scoped inode operations across any
// number of mounted volumes.
package mount

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jkv/jkv/volume"
)

// FullID names an inode unambiguously across every mounted volume: the
// volume's process-lifetime identity plus its local inode id.
type FullID struct {
	VolumeID uuid.UUID
	Inode    uint32
}

// State is a Dentry's resolution state.
type State int

const (
	Uninitialized State = iota
	Exists
	NotExists
)

// Dentry caches the resolution of one (parent, name) step. It carries the
// state machine, condition variable, and reference-counting fields spec.md
// §4.8 calls for; Resolver drives the transitions, chash.Table owns the
// dentry's lifetime in the cache.
type Dentry struct {
	mu   sync.Mutex
	cond *sync.Cond

	parent FullID
	name   string

	state State
	full  FullID
	inode volume.Inode
	ops   *volume.Ops

	// preventRemoval keeps the dentry pinned while a caller holds a
	// resolved handle to it, mirroring the spec's per-handle increment.
	preventRemoval int
}

func newDentry(parent FullID, name string) *Dentry {
	d := &Dentry{parent: parent, name: name}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// waitInitialized blocks until state is no longer Uninitialized.
func (d *Dentry) waitInitialized() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.state == Uninitialized {
		d.cond.Wait()
	}
	return d.state
}

func (d *Dentry) initExists(full FullID, ops *volume.Ops, inode volume.Inode) {
	d.mu.Lock()
	d.state = Exists
	d.full = full
	d.ops = ops
	d.inode = inode
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *Dentry) initNotExists() {
	d.mu.Lock()
	d.state = NotExists
	d.mu.Unlock()
	d.cond.Broadcast()
}

// snapshot returns the cached resolution, if Exists.
func (d *Dentry) snapshot() (FullID, *volume.Ops, volume.Inode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.full, d.ops, d.inode, d.state == Exists
}

func (d *Dentry) addPreventRemoval() {
	d.mu.Lock()
	d.preventRemoval++
	d.mu.Unlock()
}

func (d *Dentry) releasePreventRemoval() {
	d.mu.Lock()
	d.preventRemoval--
	if d.preventRemoval < 0 {
		d.preventRemoval = 0
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}
