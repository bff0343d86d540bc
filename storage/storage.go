// Package storage is the public façade: Builder assembles a root volume and
// any mounted overlays into a Storage, which exposes Get/Set/Erase over
// slash-separated paths.
package storage

import (
	"errors"
	"fmt"

	"github.com/jkv/jkv/mount"
	"github.com/jkv/jkv/volume"
)

// Storage is the embeddable key-attribute store façade.
type Storage struct {
	root     *volume.Volume
	resolver *mount.Resolver
}

// Get resolves path and returns its value, or the none-variant if any
// resolution step fails (spec.md §4.8 contract: Get never creates
// intermediates and maps a missing path to none rather than an error).
func (s *Storage) Get(path string) (volume.Value, error) {
	layer, inode, found, err := s.resolver.Resolve(path, false)
	if err != nil {
		if errors.Is(err, volume.ErrNotFound) || errors.Is(err, volume.ErrBadInput) {
			return volume.NoneValue(), nil
		}
		return volume.Value{}, err
	}
	if !found {
		return volume.NoneValue(), nil
	}

	gate := s.resolver.ValueGate(layer.Volume, inode)
	gate.AcquireRead()
	defer gate.ReleaseRead()
	return layer.Ops.GetValue(&inode)
}

// Set resolves path, creating intermediate directories as plain
// directories as needed, and stores value on the final component.
func (s *Storage) Set(path string, value volume.Value, deadline uint32) error {
	layer, inode, found, err := s.resolver.Resolve(path, true)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", volume.ErrNotFound, path)
	}

	gate := s.resolver.ValueGate(layer.Volume, inode)
	gate.AcquireWrite()
	defer gate.ReleaseWrite()
	return layer.Ops.SetValue(&inode, value, deadline)
}

// Erase clears path's value without removing it from its parent directory.
func (s *Storage) Erase(path string) error {
	layer, inode, found, err := s.resolver.Resolve(path, true)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", volume.ErrNotFound, path)
	}

	gate := s.resolver.ValueGate(layer.Volume, inode)
	gate.AcquireWrite()
	defer gate.ReleaseWrite()
	return layer.Ops.UnsetValue(&inode)
}

// Mount pushes v (or the subdirectory of v named by srcSubdir) as a new,
// most-recent overlay at mountPoint. Repeated Mount calls targeting the
// same (v, srcSubdir) dedupe to the same canonical layer.
func (s *Storage) Mount(mountPoint string, v *volume.Volume, srcSubdir string) error {
	return s.resolver.Table().Mount(mountPoint, v, srcSubdir)
}

// Root returns the volume mounted at "/".
func (s *Storage) Root() *volume.Volume { return s.root }

// Close closes the root volume. Mounted overlay volumes are owned by the
// caller that opened them and are not closed here.
func (s *Storage) Close() error {
	return s.root.Close()
}
