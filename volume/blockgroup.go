package volume

import (
	"fmt"

	"github.com/jkv/jkv/blockcache"
	"github.com/jkv/jkv/util/bitmap"
)

// BlockGroupDescrOnDiskSize is the fixed 16-byte descriptor record size.
const BlockGroupDescrOnDiskSize = 16

// BlockGroupDescr is the small summary record a meta-group keeps for each
// of its block-groups, persisted in the meta-group file's descriptor area.
type BlockGroupDescr struct {
	CreationTime       uint32
	FreeInodeCount     uint32
	FreeDataBlockCount uint32
	DirectoryCount     uint32
}

func (d *BlockGroupDescr) Serialize(buf []byte) error {
	w := newCheckedWriter(buf)
	w.u32(d.CreationTime)
	w.u32(d.FreeInodeCount)
	w.u32(d.FreeDataBlockCount)
	w.u32(d.DirectoryCount)
	return w.mustConsume(BlockGroupDescrOnDiskSize)
}

func (d *BlockGroupDescr) Deserialize(buf []byte) error {
	r := newCheckedReader(buf)
	d.CreationTime = r.u32()
	d.FreeInodeCount = r.u32()
	d.FreeDataBlockCount = r.u32()
	d.DirectoryCount = r.u32()
	return r.mustConsume(BlockGroupDescrOnDiskSize)
}

const (
	inodesBitmapBlockIndex     = 0
	dataBlocksBitmapBlockIndex = 1
)

// BlockGroup is one fixed-size slab: an inode bitmap, a data-block bitmap,
// an inode table, and a data area, grounded on the original's TBlockGroup
// (block_group.h/.cpp).
type BlockGroup struct {
	sb               *SuperBlock
	region           cacheRegion
	inodeIndexOffset uint32
	dataBlockOffset  uint32

	inodes     *bitmap.Allocator
	dataBlocks *bitmap.Allocator
}

// NewBlockGroup loads (or initializes, if descr.CreationTime == 0) the
// block-group starting at block index baseBlock within cache, indexed starting at
// indexOffset for both its inodes and its data blocks.
func NewBlockGroup(cache *blockcache.Cache, baseBlock uint64, sb *SuperBlock, indexOffset uint32, descr BlockGroupDescr) (*BlockGroup, error) {
	region := cacheRegion{cache: cache, base: baseBlock}

	bg := &BlockGroup{
		sb:               sb,
		region:           region,
		inodeIndexOffset: indexOffset,
		dataBlockOffset:  indexOffset,
	}

	inodeBitmap, err := loadBitmap(region, inodesBitmapBlockIndex)
	if err != nil {
		return nil, err
	}
	dataBitmap, err := loadBitmap(region, dataBlocksBitmapBlockIndex)
	if err != nil {
		return nil, err
	}

	bg.inodes = bitmap.NewAllocator(inodeBitmap, int(sb.BlockGroupInodeCount))
	bg.dataBlocks = bitmap.NewAllocator(dataBitmap, int(sb.BlockGroupDataBlockCount))

	if descr.CreationTime != 0 {
		// Reconstruct free counts from the persisted descriptor rather than
		// the bitmap's all-free initial state: loadBitmap always hands back
		// the on-disk bitmap, but NewAllocator always seeds FreeCount to the
		// full capacity, so correct it here for a reopened group.
		bg.inodes = bitmap.NewAllocator(inodeBitmap, int(descr.FreeInodeCount))
		bg.dataBlocks = bitmap.NewAllocator(dataBitmap, int(descr.FreeDataBlockCount))
	}

	return bg, nil
}

func loadBitmap(region cacheRegion, blockIdx uint32) (*bitmap.Bitmap, error) {
	page, err := region.GetBlock(blockIdx)
	if err != nil {
		return nil, fmt.Errorf("%w: load bitmap block %d: %v", ErrIO, blockIdx, err)
	}
	defer page.Release()
	return bitmap.FromBytes(page.Buf()), nil
}

func (bg *BlockGroup) flushBitmaps() error {
	inodePage, err := bg.region.GetMutableBlock(inodesBitmapBlockIndex)
	if err != nil {
		return fmt.Errorf("%w: flush inode bitmap: %v", ErrIO, err)
	}
	copy(inodePage.Buf(), bg.inodes.Bitmap().ToBytes())
	inodePage.Release()

	dataPage, err := bg.region.GetMutableBlock(dataBlocksBitmapBlockIndex)
	if err != nil {
		return fmt.Errorf("%w: flush data bitmap: %v", ErrIO, err)
	}
	copy(dataPage.Buf(), bg.dataBlocks.Bitmap().ToBytes())
	dataPage.Release()
	return nil
}

// GetFreeInodeCount returns the number of unallocated inode slots.
func (bg *BlockGroup) GetFreeInodeCount() int { return bg.inodes.FreeCount() }

// GetFreeDataBlockCount returns the number of unallocated data blocks.
func (bg *BlockGroup) GetFreeDataBlockCount() int { return bg.dataBlocks.FreeCount() }

func (bg *BlockGroup) inodeBlocks() uint32 {
	return bg.sb.BlockGroupInodeCount * InodeOnDiskSize / bg.sb.BlockSize
}

func (bg *BlockGroup) calcInodeBlockIndex(id uint32) uint32 {
	return 2 + (id-bg.inodeIndexOffset)*InodeOnDiskSize/bg.sb.BlockSize
}

func (bg *BlockGroup) calcInodeInBlockOffset(id uint32) uint32 {
	return (id - bg.inodeIndexOffset) * InodeOnDiskSize % bg.sb.BlockSize
}

func (bg *BlockGroup) calcDataBlockIndex(id uint32) uint32 {
	return 2 + bg.inodeBlocks() + (id - bg.dataBlockOffset)
}

// TryAllocateInode allocates the first free inode slot and persists a
// freshly zeroed record for it. Returns false if the group is full.
func (bg *BlockGroup) TryAllocateInode() (Inode, bool, error) {
	idx := bg.inodes.TryAllocate()
	if idx == -1 {
		return Inode{}, false, nil
	}
	if err := bg.flushBitmaps(); err != nil {
		return Inode{}, false, err
	}

	inode := Inode{Id: uint32(idx) + bg.inodeIndexOffset}
	if err := bg.WriteInode(inode); err != nil {
		return Inode{}, false, err
	}
	return inode, true, nil
}

// DeallocateInode returns an inode's slot to the free pool.
func (bg *BlockGroup) DeallocateInode(id uint32) error {
	bg.inodes.Deallocate(int(id - bg.inodeIndexOffset))
	return bg.flushBitmaps()
}

// ReadInode reads the inode record with the given id.
func (bg *BlockGroup) ReadInode(id uint32) (Inode, error) {
	page, err := bg.region.GetBlock(bg.calcInodeBlockIndex(id))
	if err != nil {
		return Inode{}, fmt.Errorf("%w: read inode %d: %v", ErrIO, id, err)
	}
	defer page.Release()

	off := bg.calcInodeInBlockOffset(id)
	var inode Inode
	if err := inode.Deserialize(page.Buf()[off : off+InodeOnDiskSize]); err != nil {
		return Inode{}, err
	}
	inode.Id = id
	return inode, nil
}

// WriteInode persists an inode record.
func (bg *BlockGroup) WriteInode(inode Inode) error {
	page, err := bg.region.GetMutableBlock(bg.calcInodeBlockIndex(inode.Id))
	if err != nil {
		return fmt.Errorf("%w: write inode %d: %v", ErrIO, inode.Id, err)
	}
	defer page.Release()

	off := bg.calcInodeInBlockOffset(inode.Id)
	return inode.Serialize(page.Buf()[off : off+InodeOnDiskSize])
}

// TryAllocateDataBlock allocates the first free data block. Returns -1 if
// the group is full.
func (bg *BlockGroup) TryAllocateDataBlock() (int32, error) {
	idx := bg.dataBlocks.TryAllocate()
	if idx == -1 {
		return -1, nil
	}
	if err := bg.flushBitmaps(); err != nil {
		return -1, err
	}
	return int32(uint32(idx) + bg.dataBlockOffset), nil
}

// DeallocateDataBlock returns a data block to the free pool.
func (bg *BlockGroup) DeallocateDataBlock(id uint32) error {
	bg.dataBlocks.Deallocate(int(id - bg.dataBlockOffset))
	return bg.flushBitmaps()
}

// GetDataBlock returns a read-only page for data block id.
func (bg *BlockGroup) GetDataBlock(id uint32) (*blockcache.ReadPage, error) {
	return bg.region.GetBlock(bg.calcDataBlockIndex(id))
}

// GetMutableDataBlock returns a writable page for data block id.
func (bg *BlockGroup) GetMutableDataBlock(id uint32) (*blockcache.WritePage, error) {
	return bg.region.GetMutableBlock(bg.calcDataBlockIndex(id))
}

// Descr computes the current descriptor snapshot, used when a meta-group
// persists its descriptor area.
func (bg *BlockGroup) Descr(creationTime uint32) BlockGroupDescr {
	return BlockGroupDescr{
		CreationTime:       creationTime,
		FreeInodeCount:     uint32(bg.GetFreeInodeCount()),
		FreeDataBlockCount: uint32(bg.GetFreeDataBlockCount()),
	}
}
