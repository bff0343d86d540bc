package volume

// Settings configures a new volume's geometry. Grounded on the original's
// TVolumeSettings (volume.h).
type Settings struct {
	BlockSize   uint32
	NameMaxLen  uint32
	MaxFileSize uint32
}

// MaxNameLen is the hard on-disk ceiling: directory entries store name_len
// as a single byte (ops.go's serializeDirEntries/deserializeDirEntries), so
// no configured NameMaxLen can exceed it.
const MaxNameLen = 255

// DefaultSettings mirrors the original's defaults: a 4096-byte block, a
// 32-byte name limit, and a 2 GiB meta-group file size ceiling.
func DefaultSettings() Settings {
	return Settings{
		BlockSize:   4096,
		NameMaxLen:  32,
		MaxFileSize: 2 * 1024 * 1024 * 1024,
	}
}

// SuperBlock is the fixed-layout, 48-byte geometry record stored as the
// first block of a volume's super_block file.
type SuperBlock struct {
	BlockSize                       uint32
	BlockGroupCount                 uint32
	MaxBlockGroupCount              uint32
	BlockGroupSize                  uint32
	BlockGroupDescriptorsBlockCount uint32
	MetaGroupCount                  uint32
	MaxFileSize                     uint32
	ZeroBlockGroupOffset            uint32
	BlockGroupInodeCount            uint32
	BlockGroupDataBlockCount        uint32
	MetaGroupInodeCount             uint32
	MetaGroupDataBlockCount         uint32
}

// SuperBlockOnDiskSize is the fixed 48-byte on-disk record size (12 uint32 fields).
const SuperBlockOnDiskSize = 48

// CalcSuperBlock derives the full geometry from settings, exactly as the
// original's TVolume::TImpl::CalcSuperBlock does: a block-group packs one
// inode bitmap block, one data-block bitmap block, an inode table sized for
// block_size*8 inodes, and a data area sized for block_size*8 data blocks.
func CalcSuperBlock(settings Settings) SuperBlock {
	var sb SuperBlock
	sb.BlockSize = settings.BlockSize
	sb.MaxFileSize = settings.MaxFileSize

	bs := uint64(settings.BlockSize)
	blockGroupSize := bs + bs + bs*uint64(InodeOnDiskSize)*8 + bs*bs*8
	sb.BlockGroupSize = uint32(blockGroupSize)

	sb.MaxBlockGroupCount = uint32(uint64(sb.MaxFileSize) / (uint64(BlockGroupDescrOnDiskSize) + blockGroupSize))
	sb.BlockGroupDescriptorsBlockCount = uint32((uint64(sb.MaxBlockGroupCount)*uint64(BlockGroupDescrOnDiskSize) - 1) / bs + 1)
	sb.ZeroBlockGroupOffset = sb.BlockGroupDescriptorsBlockCount * sb.BlockSize
	sb.BlockGroupInodeCount = sb.BlockSize * 8
	sb.BlockGroupDataBlockCount = sb.BlockSize * 8
	sb.MetaGroupInodeCount = sb.BlockGroupInodeCount * sb.MaxBlockGroupCount
	sb.MetaGroupDataBlockCount = sb.BlockGroupDataBlockCount * sb.MaxBlockGroupCount

	return sb
}

// NewBuffer allocates a zeroed block-sized buffer.
func (sb *SuperBlock) NewBuffer() []byte {
	return make([]byte, sb.BlockSize)
}

// Serialize writes the 48-byte fixed record into buf, which must be at
// least BlockSize bytes (the remainder stays zero, matching the on-disk
// layout documented in the specification).
func (sb *SuperBlock) Serialize(buf []byte) error {
	w := newCheckedWriter(buf)
	w.u32(sb.BlockSize)
	w.u32(sb.BlockGroupCount)
	w.u32(sb.MaxBlockGroupCount)
	w.u32(sb.BlockGroupSize)
	w.u32(sb.BlockGroupDescriptorsBlockCount)
	w.u32(sb.MetaGroupCount)
	w.u32(sb.MaxFileSize)
	w.u32(sb.ZeroBlockGroupOffset)
	w.u32(sb.BlockGroupInodeCount)
	w.u32(sb.BlockGroupDataBlockCount)
	w.u32(sb.MetaGroupInodeCount)
	w.u32(sb.MetaGroupDataBlockCount)
	return w.mustConsume(SuperBlockOnDiskSize)
}

// Deserialize reads the 48-byte fixed record from the front of buf.
func (sb *SuperBlock) Deserialize(buf []byte) error {
	r := newCheckedReader(buf)
	sb.BlockSize = r.u32()
	sb.BlockGroupCount = r.u32()
	sb.MaxBlockGroupCount = r.u32()
	sb.BlockGroupSize = r.u32()
	sb.BlockGroupDescriptorsBlockCount = r.u32()
	sb.MetaGroupCount = r.u32()
	sb.MaxFileSize = r.u32()
	sb.ZeroBlockGroupOffset = r.u32()
	sb.BlockGroupInodeCount = r.u32()
	sb.BlockGroupDataBlockCount = r.u32()
	sb.MetaGroupInodeCount = r.u32()
	sb.MetaGroupDataBlockCount = r.u32()
	return r.mustConsume(SuperBlockOnDiskSize)
}
