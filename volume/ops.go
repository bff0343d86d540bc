package volume

import (
	"fmt"
	"sort"
	"strings"
)

// DirEntry names one child of a directory inode.
type DirEntry struct {
	Id   uint32
	Name string
}

// Ops provides the directory and typed-value operations layered on top of
// a Volume's raw inode/data-block allocation, grounded on the original's
// TInodeDataOps (ops.h/.cpp).
type Ops struct {
	vol *Volume
}

// NewOps wraps vol.
func NewOps(vol *Volume) *Ops {
	return &Ops{vol: vol}
}

// AddChild creates a new inode named name under parent, which must not
// already have a child of that name. Directory-block mutation (read,
// modify, persist, and — on first child — the parent inode rewrite) is
// treated as one atomic step under the caller's external per-directory
// write lock; Ops itself does no locking, matching the design note that
// dir-structure updates must be atomic under the parent's dir-write gate.
func (o *Ops) AddChild(parent *Inode, name string) (Inode, error) {
	if name == "" {
		return Inode{}, fmt.Errorf("%w: empty child name", ErrBadInput)
	}
	if maxLen := o.vol.NameMaxLen(); uint32(len(name)) > maxLen {
		return Inode{}, fmt.Errorf("%w: name %q longer than the configured limit of %d", ErrBadInput, name, maxLen)
	}

	if parent.Dir.HasChildren {
		if parent.Dir.BlockCount == 0 {
			return Inode{}, fmt.Errorf("%w: parent marked has-children with zero block count", ErrCorruption)
		}

		page, err := o.vol.GetMutableDataBlock(parent.Dir.FirstBlockId)
		if err != nil {
			return Inode{}, err
		}
		defer page.Release()

		children, err := deserializeDirEntries(page.Buf())
		if err != nil {
			return Inode{}, err
		}
		for _, c := range children {
			if c.Name == name {
				return Inode{}, fmt.Errorf("%w: %q", ErrDuplicateChild, name)
			}
		}

		child, err := o.vol.AllocateInode()
		if err != nil {
			return Inode{}, err
		}
		children = append(children, DirEntry{Id: child.Id, Name: name})

		if err := serializeDirEntries(page.Buf(), children); err != nil {
			return Inode{}, err
		}
		return child, nil
	}

	child, err := o.vol.AllocateInode()
	if err != nil {
		return Inode{}, err
	}

	blockId, err := o.vol.AllocateDataBlock(parent)
	if err != nil {
		return Inode{}, err
	}
	page, err := o.vol.GetMutableDataBlock(blockId)
	if err != nil {
		return Inode{}, err
	}
	if err := serializeDirEntries(page.Buf(), []DirEntry{{Id: child.Id, Name: name}}); err != nil {
		page.Release()
		return Inode{}, err
	}
	page.Release()

	parent.Dir.HasChildren = true
	parent.Dir.BlockCount = 1
	parent.Dir.FirstBlockId = blockId
	if err := o.vol.WriteInode(*parent); err != nil {
		return Inode{}, err
	}
	return child, nil
}

// RemoveChild deletes the child named name from parent. The victim must
// have no children of its own; if it holds a value, RemoveChild frees its
// value block via UnsetValue before deallocating the inode.
func (o *Ops) RemoveChild(parent *Inode, name string) error {
	if !parent.Dir.HasChildren || parent.Dir.BlockCount == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	page, err := o.vol.GetMutableDataBlock(parent.Dir.FirstBlockId)
	if err != nil {
		return err
	}
	defer page.Release()

	children, err := deserializeDirEntries(page.Buf())
	if err != nil {
		return err
	}

	idx := -1
	for i, c := range children {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	victim, err := o.vol.ReadInode(children[idx].Id)
	if err != nil {
		return err
	}
	if victim.Dir.HasChildren {
		return fmt.Errorf("%w: %q still has children", ErrConstraintViolated, name)
	}
	if victim.Val.Type != TypeUndefined {
		if err := o.UnsetValue(&victim); err != nil {
			return err
		}
	}

	if err := o.vol.DeallocateInode(victim); err != nil {
		return err
	}

	children = append(children[:idx], children[idx+1:]...)

	if len(children) == 0 {
		if err := o.vol.DeallocateDataBlock(parent.Dir.FirstBlockId); err != nil {
			return err
		}
		parent.Dir.HasChildren = false
		parent.Dir.BlockCount = 0
		parent.Dir.FirstBlockId = 0
		return o.vol.WriteInode(*parent)
	}

	return serializeDirEntries(page.Buf(), children)
}

// ListChildren returns parent's children in insertion order (as stored on
// disk).
func (o *Ops) ListChildren(parent *Inode) ([]DirEntry, error) {
	if !parent.Dir.HasChildren {
		return nil, nil
	}
	if parent.Dir.BlockCount == 0 {
		return nil, fmt.Errorf("%w: has-children with zero block count", ErrCorruption)
	}

	page, err := o.vol.GetDataBlock(parent.Dir.FirstBlockId)
	if err != nil {
		return nil, err
	}
	defer page.Release()
	return deserializeDirEntries(page.Buf())
}

// LookupChild finds the child named name under parent, if any.
func (o *Ops) LookupChild(parent *Inode, name string) (Inode, bool, error) {
	children, err := o.ListChildren(parent)
	if err != nil {
		return Inode{}, false, err
	}
	for _, c := range children {
		if c.Name == name {
			inode, err := o.vol.ReadInode(c.Id)
			return inode, true, err
		}
	}
	return Inode{}, false, nil
}

// EnsureChild returns the existing child named name under parent, or
// creates it if absent. Repeated calls are idempotent and return a stable
// id.
func (o *Ops) EnsureChild(parent *Inode, name string) (Inode, error) {
	child, ok, err := o.LookupChild(parent, name)
	if err != nil {
		return Inode{}, err
	}
	if ok {
		return child, nil
	}
	return o.AddChild(parent, name)
}

// SetValue stores value in inode's value slot, allocating a value data
// block on first use and reusing it thereafter. Setting the none-variant
// is equivalent to UnsetValue.
func (o *Ops) SetValue(inode *Inode, value Value, deadline uint32) error {
	if value.IsNone() {
		return o.UnsetValue(inode)
	}

	size, err := value.wireSize()
	if err != nil {
		return err
	}
	if size > int(o.vol.sb.BlockSize) {
		return fmt.Errorf("%w: value of %d bytes exceeds block size %d", ErrBadInput, size, o.vol.sb.BlockSize)
	}

	var blockId uint32
	if inode.Val.BlockCount != 0 {
		blockId = inode.Val.FirstBlockId
	} else {
		blockId, err = o.vol.AllocateDataBlock(inode)
		if err != nil {
			return err
		}
	}

	page, err := o.vol.GetMutableDataBlock(blockId)
	if err != nil {
		return err
	}
	defer page.Release()

	if err := encodeValue(page.Buf(), value); err != nil {
		return err
	}

	inode.Val.Type = value.Kind
	inode.Val.Deadline = deadline
	if inode.Val.BlockCount == 0 {
		inode.Val.BlockCount = 1
		inode.Val.FirstBlockId = blockId
	}
	return o.vol.WriteInode(*inode)
}

// GetValue reads inode's current value slot, returning NoneValue if unset.
func (o *Ops) GetValue(inode *Inode) (Value, error) {
	if inode.Val.Type == TypeUndefined {
		return NoneValue(), nil
	}
	if inode.Val.BlockCount == 0 {
		return Value{}, fmt.Errorf("%w: typed inode with zero value block count", ErrCorruption)
	}

	page, err := o.vol.GetDataBlock(inode.Val.FirstBlockId)
	if err != nil {
		return Value{}, err
	}
	defer page.Release()
	return decodeValue(page.Buf(), inode.Val.Type)
}

// UnsetValue clears inode's value slot, releasing its data block.
func (o *Ops) UnsetValue(inode *Inode) error {
	if inode.Val.Type == TypeUndefined {
		return nil
	}

	if err := o.vol.DeallocateDataBlock(inode.Val.FirstBlockId); err != nil {
		return err
	}

	inode.Val.Type = TypeUndefined
	inode.Val.BlockCount = 0
	inode.Val.FirstBlockId = 0
	inode.Val.Deadline = 0
	return o.vol.WriteInode(*inode)
}

// DumpTree renders the tree rooted at the volume's root inode as a
// deterministic, ASCII-sorted, indented listing, useful for tests and
// debugging. When dumpInodeId is set, each line also carries its inode id.
func (o *Ops) DumpTree(dumpInodeId bool) (string, error) {
	root, err := o.vol.GetRoot()
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := o.dumpTree(&out, root, 0, dumpInodeId); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (o *Ops) dumpTree(out *strings.Builder, dir Inode, depth int, dumpInodeId bool) error {
	children, err := o.ListChildren(&dir)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	for _, entry := range children {
		out.WriteString(strings.Repeat("    ", depth))

		child, err := o.vol.ReadInode(entry.Id)
		if err != nil {
			return err
		}
		value, err := o.GetValue(&child)
		if err != nil {
			return err
		}

		out.WriteString(entry.Name)
		if dumpInodeId {
			fmt.Fprintf(out, " %d", child.Id)
		}
		if !value.IsNone() {
			out.WriteString(" = ")
			out.WriteString(formatValue(value))
		}
		out.WriteByte('\n')

		if err := o.dumpTree(out, child, depth+1, dumpInodeId); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v Value) string {
	switch v.Kind {
	case TypeBool:
		return fmt.Sprintf("bool %t", v.Bool)
	case TypeI32:
		return fmt.Sprintf("i32 %d", v.I32)
	case TypeU32:
		return fmt.Sprintf("u32 %d", v.U32)
	case TypeI64:
		return fmt.Sprintf("i64 %d", v.I64)
	case TypeU64:
		return fmt.Sprintf("u64 %d", v.U64)
	case TypeF32:
		return fmt.Sprintf("f32 %v", v.F32)
	case TypeF64:
		return fmt.Sprintf("f64 %v", v.F64)
	case TypeString:
		return fmt.Sprintf("string %q", v.Str)
	case TypeBlob:
		return fmt.Sprintf("blob %q", string(v.Blob))
	default:
		return "none"
	}
}

func deserializeDirEntries(buf []byte) ([]DirEntry, error) {
	r := newCheckedReader(buf)
	count := r.u16()
	if count == 0 {
		return nil, fmt.Errorf("%w: directory block with zero entry count", ErrCorruption)
	}

	entries := make([]DirEntry, count)
	for i := range entries {
		id := r.u32()
		nameLen := int(r.u8())
		name := string(r.bytes(nameLen))
		entries[i] = DirEntry{Id: id, Name: name}
	}
	return entries, nil
}

func serializeDirEntries(buf []byte, entries []DirEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: refusing to serialize an empty directory block", ErrCorruption)
	}

	w := newCheckedWriter(buf)
	w.u16(uint16(len(entries)))
	for _, e := range entries {
		if len(e.Name) > 255 {
			return fmt.Errorf("%w: name %q longer than 255 bytes", ErrBadInput, e.Name)
		}
		w.u32(e.Id)
		w.u8(uint8(len(e.Name)))
		w.bytes([]byte(e.Name))
	}
	return nil
}
