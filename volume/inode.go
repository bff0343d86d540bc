package volume

// EType tags the kind of data stored in an inode's value slot. The
// tag-to-index mapping is part of the on-disk format and must stay stable.
type EType uint8

const (
	TypeUndefined EType = iota
	TypeBool
	TypeI32
	TypeU32
	TypeI64
	TypeU64
	TypeF32
	TypeF64
	TypeString
	TypeBlob
)

func (t EType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeBool:
		return "bool"
	case TypeI32:
		return "i32"
	case TypeU32:
		return "u32"
	case TypeI64:
		return "i64"
	case TypeU64:
		return "u64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeString:
		return "string"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// InodeOnDiskSize is the fixed 64-byte record size.
const InodeOnDiskSize = 64

const inodeDataLen = 38

// Inode is the fixed 64-byte record describing one node in the path tree.
// Id is in-memory only; it is encoded in its position within the inode
// table, not serialized as a field.
type Inode struct {
	Id uint32

	CreationTime uint32
	ModTime      uint32

	Val struct {
		Type         EType
		BlockCount   uint16
		FirstBlockId uint32
		Deadline     uint32
	}

	Dir struct {
		HasChildren  bool
		BlockCount   uint16
		FirstBlockId uint32
	}

	Data [inodeDataLen]byte
}

// Serialize writes the 64-byte fixed record into buf.
func (in *Inode) Serialize(buf []byte) error {
	w := newCheckedWriter(buf)
	w.u32(in.CreationTime)
	w.u32(in.ModTime)
	w.u8(uint8(in.Val.Type))
	w.u16(in.Val.BlockCount)
	w.u32(in.Val.FirstBlockId)
	w.u32(in.Val.Deadline)
	w.u8(boolToU8(in.Dir.HasChildren))
	w.u16(in.Dir.BlockCount)
	w.u32(in.Dir.FirstBlockId)
	w.bytes(in.Data[:])
	return w.mustConsume(InodeOnDiskSize)
}

// Deserialize reads the 64-byte fixed record from the front of buf. Id is
// not touched; callers set it from the record's table position.
func (in *Inode) Deserialize(buf []byte) error {
	r := newCheckedReader(buf)
	in.CreationTime = r.u32()
	in.ModTime = r.u32()
	in.Val.Type = EType(r.u8())
	in.Val.BlockCount = r.u16()
	in.Val.FirstBlockId = r.u32()
	in.Val.Deadline = r.u32()
	in.Dir.HasChildren = r.u8() != 0
	in.Dir.BlockCount = r.u16()
	in.Dir.FirstBlockId = r.u32()
	copy(in.Data[:], r.bytes(inodeDataLen))
	return r.mustConsume(InodeOnDiskSize)
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
