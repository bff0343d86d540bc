package storage

import (
	"github.com/jkv/jkv/mount"
	"github.com/jkv/jkv/volume"
	"github.com/sirupsen/logrus"
)

type pendingMount struct {
	mountPoint string
	volume     *volume.Volume
	srcSubdir  string
}

// Builder assembles a Storage from a root volume plus any number of
// mounted overlays, following go-diskfs's functional-options builder
// pattern (diskfs.Create/diskfs.Open).
type Builder struct {
	root   *volume.Volume
	mounts []pendingMount
	log    logrus.FieldLogger
}

// NewBuilder starts a Storage build rooted at rootVolume.
func NewBuilder(rootVolume *volume.Volume) *Builder {
	return &Builder{root: rootVolume}
}

// Mount queues an overlay at mountPoint, sourced from v's subdirectory
// srcSubdir (or v's own root, if srcSubdir is omitted). Chainable.
func (b *Builder) Mount(mountPoint string, v *volume.Volume, srcSubdir ...string) *Builder {
	sub := "/"
	if len(srcSubdir) > 0 {
		sub = srcSubdir[0]
	}
	b.mounts = append(b.mounts, pendingMount{mountPoint: mountPoint, volume: v, srcSubdir: sub})
	return b
}

// WithLogger sets the logger used by the built Storage's components.
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// Build constructs the Storage, applying every queued mount in the order
// given (so later Mount calls on the same mount point become the newest
// overlay).
func (b *Builder) Build() (*Storage, error) {
	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}

	table := mount.NewTable()
	resolver := mount.NewResolver(b.root, table)

	s := &Storage{root: b.root, resolver: resolver}
	for _, m := range b.mounts {
		if err := s.Mount(m.mountPoint, m.volume, m.srcSubdir); err != nil {
			return nil, err
		}
	}

	log.WithField("mounts", len(b.mounts)).Info("storage built")
	return s, nil
}
