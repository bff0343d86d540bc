package mount

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/jkv/jkv/volume"
)

// Table is the canonical mount table: a (volume, subpath) → Layer map that
// makes repeated Mount calls for the same target idempotent, plus the set
// of mount-point paths each carrying an ordered overlay Stack, per
// spec.md §4.8.
type Table struct {
	mu sync.Mutex

	// canonical dedupes Mount(vol, subdir) calls with the same target so
	// that two mounts of the same (volume, subdir) share one resolved
	// Layer, per SPEC_FULL.md §9 open-question resolution.
	canonical map[canonicalKey]*Layer

	// points maps a normalized absolute mount path ("/home") to its
	// overlay stack.
	points map[string]*Stack
}

type canonicalKey struct {
	volumeDir string
	subdir    string
}

func NewTable() *Table {
	return &Table{
		canonical: make(map[canonicalKey]*Layer),
		points:    make(map[string]*Stack),
	}
}

// NormalizePath cleans an absolute path, collapsing repeated slashes and
// trimming any trailing slash (except the root path itself).
func NormalizePath(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", fmt.Errorf("%w: path %q must be absolute", volume.ErrBadInput, p)
	}
	cleaned := path.Clean(p)
	return cleaned, nil
}

// Mount resolves srcSubdir inside v (creating intermediate directories as
// needed, per SPEC_FULL.md §9 open-question 3) and pushes the result as a
// new overlay on mountPoint's stack. Repeated calls with the same (v,
// srcSubdir) reuse the same canonical Layer.
func (t *Table) Mount(mountPoint string, v *volume.Volume, srcSubdir string) error {
	mountPoint, err := NormalizePath(mountPoint)
	if err != nil {
		return err
	}
	if srcSubdir == "" {
		srcSubdir = "/"
	}
	srcSubdir, err = NormalizePath(srcSubdir)
	if err != nil {
		return err
	}

	t.mu.Lock()
	key := canonicalKey{volumeDir: v.Dir(), subdir: srcSubdir}
	layer, ok := t.canonical[key]
	t.mu.Unlock()

	if !ok {
		root, err := resolveSubdir(v, srcSubdir)
		if err != nil {
			return err
		}
		layer = &Layer{Volume: v, Ops: volume.NewOps(v), Root: root}

		t.mu.Lock()
		if existing, raced := t.canonical[key]; raced {
			layer = existing
		} else {
			t.canonical[key] = layer
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	stack, ok := t.points[mountPoint]
	if !ok {
		stack = newStack()
		t.points[mountPoint] = stack
	}
	t.mu.Unlock()

	stack.push(layer)
	return nil
}

// Lookup returns the overlay stack registered at exactly path, if any.
func (t *Table) Lookup(path string) (*Stack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.points[path]
	return s, ok
}

// resolveSubdir walks srcSubdir from v's root, creating intermediate
// directories as plain directories (no value), matching the path resolver's
// own create=true directory semantics.
func resolveSubdir(v *volume.Volume, srcSubdir string) (volume.Inode, error) {
	root, err := v.GetRoot()
	if err != nil {
		return volume.Inode{}, err
	}
	if srcSubdir == "/" {
		return root, nil
	}

	ops := volume.NewOps(v)
	cur := root
	for _, seg := range strings.Split(strings.TrimPrefix(srcSubdir, "/"), "/") {
		if seg == "" {
			continue
		}
		child, err := ops.EnsureChild(&cur, seg)
		if err != nil {
			return volume.Inode{}, err
		}
		cur = child
	}
	return cur, nil
}
