package mount

import (
	"sync"

	"github.com/jkv/jkv/volume"
)

// Layer is one overlay pushed onto a mount point: a volume plus the inode
// inside it serving as that overlay's root (the mounted subdirectory, or
// the volume's own root inode 0 when no subdirectory was given).
type Layer struct {
	Volume *volume.Volume
	Ops    *volume.Ops
	Root   volume.Inode
}

// Stack is the ordered overlay list on a mount-point dentry, newest last,
// per spec.md §4.8.
type Stack struct {
	mu     sync.RWMutex
	layers []*Layer
}

func newStack() *Stack {
	return &Stack{}
}

// push appends a new, most-recent overlay.
func (s *Stack) push(l *Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, l)
}

// newest returns the most recently pushed overlay.
func (s *Stack) newest() *Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers[len(s.layers)-1]
}

// newestFirst returns a snapshot of the overlay stack ordered newest to
// oldest, for the fan-out read/write-existing-search at the final path
// component.
func (s *Stack) newestFirst() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Layer, len(s.layers))
	for i, l := range s.layers {
		out[len(s.layers)-1-i] = l
	}
	return out
}
