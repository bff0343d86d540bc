package volume

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jkv/jkv/backend"
	"github.com/jkv/jkv/blockcache"
	"github.com/jkv/jkv/util/timestamp"
	"github.com/sirupsen/logrus"
)

// MetaGroup is one data file holding a bounded number of block-groups,
// grounded on the original's TMetaGroup (meta_group.h/.cpp). Allocation
// uses the same two-step atomic counters as the original: a "total" budget
// decremented optimistically before touching any block-group, and an
// "existing" budget tracking capacity already carved out into live
// block-groups; when existing is exhausted but total still allows it, the
// meta-group grows by one block-group under Lock.
type MetaGroup struct {
	sb    *SuperBlock
	file  *blockcache.BlockFile
	cache *blockcache.Cache
	log   logrus.FieldLogger

	totalFreeInode    atomic.Int64
	existingFreeInode atomic.Int64
	totalFreeData     atomic.Int64
	existingFreeData  atomic.Int64

	lock                 sync.Mutex
	aliveBlockGroupCount atomic.Int32
	descrs               []BlockGroupDescr
	blockGroups          []*BlockGroup
}

// OpenMetaGroup opens the meta-group stored in rawFile, laying out an empty
// descriptor area first if the file is empty.
func OpenMetaGroup(rawFile backend.RawFile, sb *SuperBlock, log logrus.FieldLogger) (*MetaGroup, error) {
	blockFile := blockcache.NewBlockFile(rawFile, int(sb.BlockSize))
	cache := blockcache.New(blockFile, log)

	mg := &MetaGroup{
		sb:          sb,
		file:        blockFile,
		cache:       cache,
		log:         log,
		descrs:      make([]BlockGroupDescr, sb.MaxBlockGroupCount),
		blockGroups: make([]*BlockGroup, sb.MaxBlockGroupCount),
	}
	mg.totalFreeInode.Store(int64(sb.MetaGroupInodeCount))
	mg.totalFreeData.Store(int64(sb.MetaGroupDataBlockCount))

	blocks, err := blockFile.SizeInBlocks()
	if err != nil {
		return nil, fmt.Errorf("%w: stat meta-group file: %v", ErrIO, err)
	}
	if blocks == 0 {
		if err := blockFile.TruncateInBlocks(mg.calcExpectedFileSizeBlocks(0)); err != nil {
			return nil, fmt.Errorf("%w: truncate new meta-group: %v", ErrIO, err)
		}
		if err := mg.saveBlockGroupDescriptors(); err != nil {
			return nil, err
		}
	}

	if err := mg.loadBlockGroupDescriptors(); err != nil {
		return nil, err
	}
	if err := mg.verifyFile(); err != nil {
		return nil, err
	}
	return mg, nil
}

func (mg *MetaGroup) calcBlockGroupOffset(idx uint32) uint32 {
	return mg.sb.ZeroBlockGroupOffset + idx*mg.sb.BlockGroupSize
}

func (mg *MetaGroup) calcExpectedFileSizeBlocks(bgCount uint32) uint64 {
	return uint64(mg.calcBlockGroupOffset(bgCount)) / uint64(mg.sb.BlockSize)
}

func (mg *MetaGroup) descriptorBlockCount() int {
	return int(mg.sb.BlockGroupDescriptorsBlockCount)
}

func (mg *MetaGroup) loadBlockGroupDescriptors() error {
	buf, err := mg.readBlocks(0, mg.descriptorBlockCount())
	if err != nil {
		return err
	}

	for i := range mg.descrs {
		off := i * BlockGroupDescrOnDiskSize
		if off+BlockGroupDescrOnDiskSize > len(buf) {
			break
		}
		if err := mg.descrs[i].Deserialize(buf[off : off+BlockGroupDescrOnDiskSize]); err != nil {
			return err
		}
	}

	for i := range mg.descrs {
		descr := mg.descrs[i]
		if descr.CreationTime == 0 {
			break
		}
		bg, err := mg.createBlockGroup(uint32(i), descr)
		if err != nil {
			return err
		}
		mg.blockGroups[i] = bg
		mg.aliveBlockGroupCount.Add(1)

		mg.existingFreeInode.Add(int64(descr.FreeInodeCount))
		mg.existingFreeData.Add(int64(descr.FreeDataBlockCount))
		mg.totalFreeInode.Add(-int64(mg.sb.BlockGroupInodeCount - descr.FreeInodeCount))
		mg.totalFreeData.Add(-int64(mg.sb.BlockGroupDataBlockCount - descr.FreeDataBlockCount))
	}
	return nil
}

func (mg *MetaGroup) saveBlockGroupDescriptors() error {
	buf := make([]byte, mg.descriptorBlockCount()*int(mg.sb.BlockSize))
	for i := range mg.descrs {
		off := i * BlockGroupDescrOnDiskSize
		if off+BlockGroupDescrOnDiskSize > len(buf) {
			break
		}
		if err := mg.descrs[i].Serialize(buf[off : off+BlockGroupDescrOnDiskSize]); err != nil {
			return err
		}
	}
	return mg.writeBlocks(0, buf)
}

func (mg *MetaGroup) updateBlockGroupDescriptors() {
	alive := int(mg.aliveBlockGroupCount.Load())
	for i := 0; i < alive; i++ {
		ct := mg.descrs[i].CreationTime
		mg.descrs[i] = mg.blockGroups[i].Descr(ct)
	}
}

func (mg *MetaGroup) readBlocks(startBlock uint32, count int) ([]byte, error) {
	buf := make([]byte, 0, count*int(mg.sb.BlockSize))
	for i := 0; i < count; i++ {
		page, err := mg.cache.GetBlock(uint64(startBlock) + uint64(i))
		if err != nil {
			return nil, fmt.Errorf("%w: read block %d: %v", ErrIO, startBlock+uint32(i), err)
		}
		buf = append(buf, page.Buf()...)
		page.Release()
	}
	return buf, nil
}

func (mg *MetaGroup) writeBlocks(startBlock uint32, buf []byte) error {
	bs := int(mg.sb.BlockSize)
	for i := 0; i*bs < len(buf); i++ {
		page, err := mg.cache.GetMutableBlock(uint64(startBlock) + uint64(i))
		if err != nil {
			return fmt.Errorf("%w: write block %d: %v", ErrIO, startBlock+uint32(i), err)
		}
		copy(page.Buf(), buf[i*bs:])
		page.Release()
	}
	return nil
}

func (mg *MetaGroup) verifyFile() error {
	blocks, err := mg.file.SizeInBlocks()
	if err != nil {
		return fmt.Errorf("%w: stat meta-group file: %v", ErrIO, err)
	}
	want := mg.calcExpectedFileSizeBlocks(uint32(mg.aliveBlockGroupCount.Load()))
	if blocks != want {
		return fmt.Errorf("%w: meta-group file has %d blocks, want %d", ErrCorruption, blocks, want)
	}
	return nil
}

func (mg *MetaGroup) createBlockGroup(idx uint32, descr BlockGroupDescr) (*BlockGroup, error) {
	baseBlock := uint64(mg.calcBlockGroupOffset(idx)) / uint64(mg.sb.BlockSize)
	indexOffset := idx * mg.sb.BlockGroupInodeCount
	return NewBlockGroup(mg.cache, baseBlock, mg.sb, indexOffset, descr)
}

// allocateNewBlockGroup must be called with mg.lock held.
func (mg *MetaGroup) allocateNewBlockGroup() error {
	idx := uint32(mg.aliveBlockGroupCount.Load())
	if idx >= mg.sb.MaxBlockGroupCount {
		return fmt.Errorf("%w: meta-group at max block-group count %d", ErrCapacity, mg.sb.MaxBlockGroupCount)
	}

	descr := BlockGroupDescr{
		CreationTime:       uint32(timestamp.GetTime().Unix()),
		FreeInodeCount:     mg.sb.BlockGroupInodeCount,
		FreeDataBlockCount: mg.sb.BlockGroupDataBlockCount,
	}
	mg.descrs[idx] = descr

	if err := mg.file.TruncateInBlocks(mg.calcExpectedFileSizeBlocks(idx + 1)); err != nil {
		return fmt.Errorf("%w: grow meta-group file: %v", ErrIO, err)
	}

	bg, err := mg.createBlockGroup(idx, descr)
	if err != nil {
		return err
	}
	mg.blockGroups[idx] = bg
	mg.aliveBlockGroupCount.Add(1)

	mg.existingFreeInode.Add(int64(mg.sb.BlockGroupInodeCount))
	mg.existingFreeData.Add(int64(mg.sb.BlockGroupDataBlockCount))
	return nil
}

func trySub(counter *atomic.Int64) bool {
	for {
		v := counter.Load()
		if v <= 0 {
			return false
		}
		if counter.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// reserveCapacity runs the original's "subtract from total, then subtract
// from existing (growing a block-group under lock if existing is
// exhausted)" two-step dance, for either the inode or the data-block
// budget.
func (mg *MetaGroup) reserveCapacity(total, existing *atomic.Int64) error {
	if !trySub(total) {
		return ErrCapacity
	}
	for !trySub(existing) {
		mg.lock.Lock()
		if trySub(existing) {
			mg.lock.Unlock()
			break
		}
		err := mg.allocateNewBlockGroup()
		mg.lock.Unlock()
		if err != nil {
			total.Add(1)
			return err
		}
	}
	return nil
}

func (mg *MetaGroup) getInodeBlockGroup(id uint32) *BlockGroup {
	bgIndex := (id % mg.sb.MetaGroupInodeCount) / mg.sb.BlockGroupInodeCount
	return mg.blockGroups[bgIndex]
}

func (mg *MetaGroup) getDataBlockGroup(id uint32) *BlockGroup {
	bgIndex := (id % mg.sb.MetaGroupDataBlockCount) / mg.sb.BlockGroupDataBlockCount
	return mg.blockGroups[bgIndex]
}

// TryAllocateInode allocates an inode from any block-group with room,
// growing the meta-group if the budget allows but no live block-group has
// a free slot.
func (mg *MetaGroup) TryAllocateInode() (Inode, bool, error) {
	if err := mg.reserveCapacity(&mg.totalFreeInode, &mg.existingFreeInode); err != nil {
		if errors.Is(err, ErrCapacity) {
			return Inode{}, false, nil
		}
		return Inode{}, false, err
	}

	alive := int(mg.aliveBlockGroupCount.Load())
	for i := 0; i < alive; i++ {
		inode, ok, err := mg.blockGroups[i].TryAllocateInode()
		if err != nil {
			return Inode{}, false, err
		}
		if ok {
			return inode, true, nil
		}
	}
	return Inode{}, false, fmt.Errorf("%w: reserved inode capacity but no block-group had room", ErrCorruption)
}

// DeallocateInode returns an inode slot to its block-group's free pool.
func (mg *MetaGroup) DeallocateInode(id uint32) error {
	bgIndex := (id % mg.sb.MetaGroupInodeCount) / mg.sb.BlockGroupInodeCount
	if err := mg.blockGroups[bgIndex].DeallocateInode(id); err != nil {
		return err
	}
	mg.existingFreeInode.Add(1)
	mg.totalFreeInode.Add(1)
	return nil
}

// TryAllocateDataBlockFor allocates a data block, preferring owner's own
// block-group for locality when owner is non-nil.
func (mg *MetaGroup) TryAllocateDataBlockFor(owner *Inode) (int64, error) {
	if err := mg.reserveCapacity(&mg.totalFreeData, &mg.existingFreeData); err != nil {
		if errors.Is(err, ErrCapacity) {
			return -1, nil
		}
		return -1, err
	}

	if owner != nil {
		id, err := mg.getInodeBlockGroup(owner.Id).TryAllocateDataBlock()
		if err != nil {
			return -1, err
		}
		if id != -1 {
			return int64(id), nil
		}
	}

	alive := int(mg.aliveBlockGroupCount.Load())
	for i := 0; i < alive; i++ {
		id, err := mg.blockGroups[i].TryAllocateDataBlock()
		if err != nil {
			return -1, err
		}
		if id != -1 {
			return int64(id), nil
		}
	}
	return -1, fmt.Errorf("%w: reserved data-block capacity but no block-group had room", ErrCorruption)
}

// DeallocateDataBlock returns a data block to its block-group's free pool.
func (mg *MetaGroup) DeallocateDataBlock(id uint32) error {
	if err := mg.getDataBlockGroup(id).DeallocateDataBlock(id); err != nil {
		return err
	}
	mg.existingFreeData.Add(1)
	mg.totalFreeData.Add(1)
	return nil
}

// ReadInode reads the inode record with the given id.
func (mg *MetaGroup) ReadInode(id uint32) (Inode, error) {
	return mg.getInodeBlockGroup(id).ReadInode(id)
}

// WriteInode persists an inode record.
func (mg *MetaGroup) WriteInode(inode Inode) error {
	return mg.getInodeBlockGroup(inode.Id).WriteInode(inode)
}

// GetDataBlock returns a read-only page for data block id.
func (mg *MetaGroup) GetDataBlock(id uint32) (*blockcache.ReadPage, error) {
	return mg.getDataBlockGroup(id).GetDataBlock(id)
}

// GetMutableDataBlock returns a writable page for data block id.
func (mg *MetaGroup) GetMutableDataBlock(id uint32) (*blockcache.WritePage, error) {
	return mg.getDataBlockGroup(id).GetMutableDataBlock(id)
}

// Close persists descriptors and flushes the page cache, standing in for
// the original's destructor (~TMetaGroup).
func (mg *MetaGroup) Close() error {
	mg.updateBlockGroupDescriptors()
	if err := mg.saveBlockGroupDescriptors(); err != nil {
		return err
	}
	return mg.cache.Close()
}
