package mount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jkv/jkv/volume"
)

// Resolver implements the two-phase path walk of spec.md §4.8: split the
// trailing segment off as key, walk the remaining directory segments
// (always taking a mount point's newest overlay when one is crossed
// mid-walk), then resolve key against whatever directory dentry the walk
// landed on — fanning out over its mount stack, if it has one, for the
// final step.
type Resolver struct {
	root  *Layer
	table *Table
	cache *Cache
}

// NewResolver builds a resolver rooted at rootVolume, using table for mount
// lookups.
func NewResolver(rootVolume *volume.Volume, table *Table) *Resolver {
	return &Resolver{
		root: &Layer{
			Volume: rootVolume,
			Ops:    volume.NewOps(rootVolume),
		},
		table: table,
		cache: NewCache(),
	}
}

// Table returns the resolver's mount table.
func (r *Resolver) Table() *Table { return r.table }

func splitPath(p string) (dirs []string, key string, err error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return nil, "", err
	}
	if clean == "/" {
		return nil, "", fmt.Errorf("%w: path %q names the root, not a key", volume.ErrBadInput, p)
	}
	trimmed := strings.Trim(clean, "/")
	segments := strings.Split(trimmed, "/")
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}

// walkDirs resolves the directory segments of a path (everything except
// the final key). A mount point is a path registered in the mount table,
// not a real directory in any underlying volume: reaching one short-
// circuits the normal child lookup and jumps straight to its newest
// overlay's root, so a mounted volume's content appears at that path
// without ever touching (or auto-vivifying) the base volume there.
func (r *Resolver) walkDirs(segments []string, create bool) (*Layer, string, error) {
	layer := r.root
	root, err := layer.Volume.GetRoot()
	if err != nil {
		return nil, "", err
	}
	cur := root
	prefix := ""

	for _, seg := range segments {
		childPath := prefix + "/" + seg

		if stack, ok := r.table.Lookup(childPath); ok {
			layer = stack.newest()
			cur = layer.Root
			prefix = childPath
			continue
		}

		full := FullID{VolumeID: layer.Volume.ID(), Inode: cur.Id}
		child, found, err := r.stepPath(full, layer.Ops, &cur, seg, create)
		if err != nil {
			return nil, "", err
		}
		if !found {
			return nil, "", fmt.Errorf("%w: %q", volume.ErrNotFound, childPath)
		}
		cur = child
		prefix = childPath
	}

	layer = &Layer{Volume: layer.Volume, Ops: layer.Ops, Root: cur}
	return layer, prefix, nil
}

// stepPath resolves one (parent, name) step through the dentry cache,
// implementing the emplace/init/wait protocol of spec.md §4.8.
func (r *Resolver) stepPath(parent FullID, ops *volume.Ops, parentInode *volume.Inode, name string, create bool) (volume.Inode, bool, error) {
	gate := r.cache.nameGate(parent)
	gate.lock(name)
	defer gate.unlock(name)

	h, created := r.cache.emplace(parent, name)
	defer h.Release()
	d := h.Value()

	dirGate := r.cache.dirGate(parent)

	if created {
		d.addPreventRemoval()
		defer d.releasePreventRemoval()

		dirGate.acquireRead()
		child, ok, err := ops.LookupChild(parentInode, name)
		dirGate.releaseRead()
		if err != nil {
			d.initNotExists()
			return volume.Inode{}, false, err
		}
		if !ok && create {
			dirGate.acquireWrite()
			child, err = ops.EnsureChild(parentInode, name)
			dirGate.releaseWrite()
			if err != nil {
				d.initNotExists()
				return volume.Inode{}, false, err
			}
			ok = true
		}
		if !ok {
			d.initNotExists()
			return volume.Inode{}, false, nil
		}
		full := FullID{VolumeID: parent.VolumeID, Inode: child.Id}
		d.initExists(full, ops, child)
		return child, true, nil
	}

	state := d.waitInitialized()
	if state == Exists {
		_, dOps, _, _ := d.snapshot()
		d.addPreventRemoval()
		defer d.releasePreventRemoval()
		// Re-read so concurrent value/dir mutations since caching are
		// observed; the dentry only caches that the name resolves here,
		// not the inode's mutable content.
		dirGate.acquireRead()
		fresh, ok, err := dOps.LookupChild(parentInode, name)
		dirGate.releaseRead()
		if err != nil {
			return volume.Inode{}, false, err
		}
		return fresh, ok, nil
	}

	if !create {
		return volume.Inode{}, false, nil
	}

	dirGate.acquireWrite()
	child, err := ops.EnsureChild(parentInode, name)
	dirGate.releaseWrite()
	if err != nil {
		return volume.Inode{}, false, err
	}
	full := FullID{VolumeID: parent.VolumeID, Inode: child.Id}
	d.initExists(full, ops, child)
	return child, true, nil
}

// Resolve finds the inode at path. When create is false (the read path),
// a missing component at any level simply reports found=false. When create
// is true (the write path), intermediate directories are created as
// needed, and the final key's mount-stack fan-out additionally searches for
// an already-existing target (newest to oldest) before defaulting to the
// newest overlay, reconciling spec.md §4.8's literal "always newest"
// wording with §8 scenario 5's requirement that writing an existing
// overlaid key updates it in place.
func (r *Resolver) Resolve(p string, create bool) (result *Layer, inode volume.Inode, found bool, err error) {
	dirs, key, err := splitPath(p)
	if err != nil {
		return nil, volume.Inode{}, false, err
	}

	layer, prefix, err := r.walkDirsTolerant(dirs, create)
	if err != nil {
		return nil, volume.Inode{}, false, err
	}
	if layer == nil {
		return nil, volume.Inode{}, false, nil
	}

	if stack, ok := r.table.Lookup(prefix); ok {
		layers := stack.newestFirst()
		for _, l := range layers {
			full := FullID{VolumeID: l.Volume.ID(), Inode: l.Root.Id}
			gate := r.cache.dirGate(full)
			gate.acquireRead()
			child, ok, err := l.Ops.LookupChild(&l.Root, key)
			gate.releaseRead()
			if err != nil {
				return nil, volume.Inode{}, false, err
			}
			if ok {
				return l, child, true, nil
			}
		}
		if !create {
			return nil, volume.Inode{}, false, nil
		}
		newest := layers[0]
		full := FullID{VolumeID: newest.Volume.ID(), Inode: newest.Root.Id}
		gate := r.cache.dirGate(full)
		gate.acquireWrite()
		child, err := newest.Ops.EnsureChild(&newest.Root, key)
		gate.releaseWrite()
		if err != nil {
			return nil, volume.Inode{}, false, err
		}
		return newest, child, true, nil
	}

	full := FullID{VolumeID: layer.Volume.ID(), Inode: layer.Root.Id}
	child, ok, err := r.stepPath(full, layer.Ops, &layer.Root, key, create)
	if err != nil {
		return nil, volume.Inode{}, false, err
	}
	return layer, child, ok, nil
}

// ValueGate returns the gate guarding leaf's value block in volume v.
func (r *Resolver) ValueGate(v *volume.Volume, leaf volume.Inode) *rwGate {
	return r.cache.ValueGate(FullID{VolumeID: v.ID(), Inode: leaf.Id})
}

// walkDirsTolerant is walkDirs but reports a missing intermediate as
// found=false (nil layer) instead of an error, for the read path.
func (r *Resolver) walkDirsTolerant(segments []string, create bool) (*Layer, string, error) {
	layer, prefix, err := r.walkDirs(segments, create)
	if err != nil {
		if !create && errors.Is(err, volume.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return layer, prefix, nil
}
