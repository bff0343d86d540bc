package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jkv/jkv/backend/file"
	"github.com/jkv/jkv/blockcache"
	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"
)

// MaxMetaGroupCount bounds a volume to roughly 10 TiB at default settings,
// mirroring the original's TVolume::TImpl::MaxMetaGroupCount.
const MaxMetaGroupCount = 5120

// Volume is one self-contained on-disk container: a directory holding a
// superblock file and a growing sequence of meta-group files, grounded on
// the original's TVolume (volume.h/.cpp).
type Volume struct {
	id         uuid.UUID
	dir        string
	sb         SuperBlock
	nameMaxLen uint32
	log        logrus.FieldLogger

	lock                sync.Mutex
	aliveMetaGroupCount atomic.Int32
	metaGroups          []*MetaGroup
}

// Describe is a read-only diagnostic snapshot logged once at open.
type Describe struct {
	ID          uuid.UUID
	Dir         string
	BlockSize   uint32
	MetaGroups  int
	HostCreated time.Time
}

// Open opens the volume directory dir, creating it (and an empty root
// inode, if ensureRoot) if it does not already contain a superblock.
func Open(dir string, settings Settings, ensureRoot bool, log logrus.FieldLogger) (*Volume, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	nameMaxLen := settings.NameMaxLen
	if nameMaxLen == 0 || nameMaxLen > MaxNameLen {
		nameMaxLen = MaxNameLen
	}

	v := &Volume{
		id:         uuid.New(),
		dir:        dir,
		log:        log,
		nameMaxLen: nameMaxLen,
		metaGroups: make([]*MetaGroup, MaxMetaGroupCount),
	}

	sb, _, err := v.initSuperBlock(settings)
	if err != nil {
		return nil, err
	}
	v.sb = sb

	if err := v.loadMetaGroups(); err != nil {
		return nil, err
	}

	if v.aliveMetaGroupCount.Load() == 0 {
		mg, err := v.createMetaGroup(0)
		if err != nil {
			return nil, err
		}
		v.metaGroups[0] = mg
		v.aliveMetaGroupCount.Add(1)

		if ensureRoot {
			root, err := v.AllocateInode()
			if err != nil {
				return nil, err
			}
			if root.Id != 0 {
				return nil, fmt.Errorf("%w: root inode must be id 0, got %d", ErrCorruption, root.Id)
			}
		}
	}

	v.log.WithFields(v.Describe().fields()).Info("volume opened")
	return v, nil
}

func (v *Volume) superBlockPath() string {
	return filepath.Join(v.dir, "super_block")
}

func (v *Volume) metaGroupPath(idx int) string {
	return filepath.Join(v.dir, fmt.Sprintf("meta_group_%06d", idx))
}

func (v *Volume) initSuperBlock(settings Settings) (SuperBlock, bool, error) {
	path := v.superBlockPath()
	if _, err := os.Stat(path); err == nil {
		f, err := file.Open(path, int(settings.BlockSize))
		if err != nil {
			return SuperBlock{}, false, fmt.Errorf("%w: open superblock: %v", ErrIO, err)
		}
		defer f.Close()

		buf := make([]byte, settings.BlockSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			return SuperBlock{}, false, fmt.Errorf("%w: read superblock: %v", ErrIO, err)
		}
		var sb SuperBlock
		if err := sb.Deserialize(buf); err != nil {
			return SuperBlock{}, false, err
		}
		return sb, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return SuperBlock{}, false, fmt.Errorf("%w: stat superblock: %v", ErrIO, err)
	}

	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return SuperBlock{}, false, fmt.Errorf("%w: create volume directory: %v", ErrIO, err)
	}

	sb := CalcSuperBlock(settings)
	f, err := file.Open(path, int(sb.BlockSize))
	if err != nil {
		return SuperBlock{}, false, fmt.Errorf("%w: create superblock: %v", ErrIO, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(sb.BlockSize)); err != nil {
		return SuperBlock{}, false, fmt.Errorf("%w: size superblock: %v", ErrIO, err)
	}
	buf := sb.NewBuffer()
	if err := sb.Serialize(buf); err != nil {
		return SuperBlock{}, false, err
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return SuperBlock{}, false, fmt.Errorf("%w: write superblock: %v", ErrIO, err)
	}
	return sb, true, nil
}

func (v *Volume) createMetaGroup(idx int) (*MetaGroup, error) {
	rawFile, err := file.Open(v.metaGroupPath(idx), int(v.sb.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("%w: open meta-group %d: %v", ErrIO, idx, err)
	}
	mg, err := OpenMetaGroup(rawFile, &v.sb, v.log.WithField("meta_group", idx))
	if err != nil {
		rawFile.Close()
		return nil, err
	}
	return mg, nil
}

func (v *Volume) loadMetaGroups() error {
	for i := 0; i < MaxMetaGroupCount; i++ {
		if _, err := os.Stat(v.metaGroupPath(i)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return fmt.Errorf("%w: stat meta-group %d: %v", ErrIO, i, err)
		}
		mg, err := v.createMetaGroup(i)
		if err != nil {
			return err
		}
		v.metaGroups[i] = mg
		v.aliveMetaGroupCount.Add(1)
	}
	return nil
}

// GetSuperBlock returns the volume's geometry.
func (v *Volume) GetSuperBlock() SuperBlock { return v.sb }

// GetRoot returns the root inode (always id 0).
func (v *Volume) GetRoot() (Inode, error) {
	return v.ReadInode(0)
}

func (v *Volume) inodeMetaGroup(id uint32) *MetaGroup {
	return v.metaGroups[id/v.sb.MetaGroupInodeCount]
}

func (v *Volume) dataBlockMetaGroup(id uint32) *MetaGroup {
	return v.metaGroups[id/v.sb.MetaGroupDataBlockCount]
}

// AllocateInode allocates a fresh inode, growing the volume with a new
// meta-group if every existing one is full.
func (v *Volume) AllocateInode() (Inode, error) {
	for {
		alive := int(v.aliveMetaGroupCount.Load())
		for {
			inode, ok, err := v.metaGroups[alive-1].TryAllocateInode()
			if err != nil {
				return Inode{}, err
			}
			if ok {
				return inode, nil
			}
			newAlive := int(v.aliveMetaGroupCount.Load())
			if alive == newAlive {
				break
			}
			alive = newAlive
		}

		if err := v.growMetaGroups(alive); err != nil {
			return Inode{}, err
		}
	}
}

// growMetaGroups adds one more meta-group if no one else raced us to it
// since observedAlive was read.
func (v *Volume) growMetaGroups(observedAlive int) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	newAlive := int(v.aliveMetaGroupCount.Load())
	if observedAlive != newAlive {
		return nil
	}
	if newAlive >= MaxMetaGroupCount {
		return fmt.Errorf("%w: volume at max meta-group count %d", ErrCapacity, MaxMetaGroupCount)
	}
	mg, err := v.createMetaGroup(newAlive)
	if err != nil {
		return err
	}
	v.metaGroups[newAlive] = mg
	v.aliveMetaGroupCount.Add(1)
	return nil
}

// DeallocateInode returns an inode to its meta-group's free pool.
func (v *Volume) DeallocateInode(inode Inode) error {
	return v.inodeMetaGroup(inode.Id).DeallocateInode(inode.Id)
}

// ReadInode reads the inode record with the given id.
func (v *Volume) ReadInode(id uint32) (Inode, error) {
	return v.inodeMetaGroup(id).ReadInode(id)
}

// WriteInode persists an inode record.
func (v *Volume) WriteInode(inode Inode) error {
	return v.inodeMetaGroup(inode.Id).WriteInode(inode)
}

// AllocateDataBlock allocates a data block, optionally preferring owner's
// own meta-group and block-group for locality.
func (v *Volume) AllocateDataBlock(owner *Inode) (uint32, error) {
	if owner != nil {
		id, err := v.inodeMetaGroup(owner.Id).TryAllocateDataBlockFor(owner)
		if err != nil {
			return 0, err
		}
		if id != -1 {
			return uint32(id), nil
		}
	}

	for {
		alive := int(v.aliveMetaGroupCount.Load())
		for {
			id, err := v.metaGroups[alive-1].TryAllocateDataBlockFor(nil)
			if err != nil {
				return 0, err
			}
			if id != -1 {
				return uint32(id), nil
			}
			newAlive := int(v.aliveMetaGroupCount.Load())
			if alive == newAlive {
				break
			}
			alive = newAlive
		}

		if err := v.growMetaGroups(alive); err != nil {
			return 0, err
		}
	}
}

// DeallocateDataBlock returns a data block to its meta-group's free pool.
func (v *Volume) DeallocateDataBlock(id uint32) error {
	return v.dataBlockMetaGroup(id).DeallocateDataBlock(id)
}

// GetDataBlock returns a read-only page for data block id.
func (v *Volume) GetDataBlock(id uint32) (*blockcache.ReadPage, error) {
	return v.dataBlockMetaGroup(id).GetDataBlock(id)
}

// GetMutableDataBlock returns a writable page for data block id.
func (v *Volume) GetMutableDataBlock(id uint32) (*blockcache.WritePage, error) {
	return v.dataBlockMetaGroup(id).GetMutableDataBlock(id)
}

// Dir returns the host directory backing this volume.
func (v *Volume) Dir() string { return v.dir }

// NameMaxLen returns the configured child-name length limit, clamped to the
// 255-byte on-disk ceiling (directory entries store name_len as a u8).
func (v *Volume) NameMaxLen() uint32 { return v.nameMaxLen }

// ID returns this volume's process-lifetime identity, the "volume_identity"
// half of a full inode id used to key the dentry cache and mount table.
func (v *Volume) ID() uuid.UUID { return v.id }

// Describe snapshots read-only diagnostic metadata about the volume,
// including the host birth time of its superblock file.
func (v *Volume) Describe() Describe {
	d := Describe{
		ID:         v.id,
		Dir:        v.dir,
		BlockSize:  v.sb.BlockSize,
		MetaGroups: int(v.aliveMetaGroupCount.Load()),
	}
	if t, err := times.Stat(v.superBlockPath()); err == nil && t.HasBirthTime() {
		d.HostCreated = t.BirthTime()
	}
	return d
}

func (d Describe) fields() logrus.Fields {
	return logrus.Fields{
		"volume_id":   d.ID.String(),
		"dir":         d.Dir,
		"block_size":  d.BlockSize,
		"meta_groups": d.MetaGroups,
	}
}

// Close flushes and closes every meta-group file.
func (v *Volume) Close() error {
	alive := int(v.aliveMetaGroupCount.Load())
	var firstErr error
	for i := 0; i < alive; i++ {
		if err := v.metaGroups[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
