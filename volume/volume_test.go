package volume

import (
	"testing"
)

func openTestVolume(t *testing.T, ensureRoot bool) *Volume {
	t.Helper()
	dir := t.TempDir()
	v, err := Open(dir, DefaultSettings(), ensureRoot, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := v.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return v
}

func TestOpenCreatesRootInode(t *testing.T) {
	v := openTestVolume(t, true)
	root, err := v.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if root.Id != 0 {
		t.Fatalf("root.Id = %d, want 0", root.Id)
	}
}

func TestAllocateInodeSequentialThenReopen(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var ids []uint32
	for i := 0; i < 10; i++ {
		inode, err := v.AllocateInode()
		if err != nil {
			t.Fatalf("AllocateInode: %v", err)
		}
		inode.CreationTime = uint32(i)
		if err := v.WriteInode(inode); err != nil {
			t.Fatalf("WriteInode: %v", err)
		}
		ids = append(ids, inode.Id)
	}
	for i, id := range ids {
		if id != uint32(i+1) {
			t.Fatalf("ids[%d] = %d, want %d (root occupies id 0)", i, id, i+1)
		}
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2, err := Open(dir, DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer v2.Close()

	for i, id := range ids {
		inode, err := v2.ReadInode(id)
		if err != nil {
			t.Fatalf("ReadInode(%d): %v", id, err)
		}
		if inode.CreationTime != uint32(i) {
			t.Fatalf("inode %d CreationTime = %d, want %d", id, inode.CreationTime, i)
		}
	}

	var more []uint32
	for i := 0; i < 10; i++ {
		inode, err := v2.AllocateInode()
		if err != nil {
			t.Fatalf("AllocateInode (second batch): %v", err)
		}
		more = append(more, inode.Id)
	}
	for i, id := range more {
		if id != uint32(11+i) {
			t.Fatalf("second batch id[%d] = %d, want %d", i, id, 11+i)
		}
	}
}

func TestDeallocateInodeIsReused(t *testing.T) {
	v := openTestVolume(t, true)

	var last Inode
	for i := 0; i < 10; i++ {
		inode, err := v.AllocateInode()
		if err != nil {
			t.Fatalf("AllocateInode: %v", err)
		}
		last = inode
	}
	_ = last

	// Deallocate the 7th non-root inode allocated (id 7, 0-indexed from the
	// root) and check it comes back on the next allocation.
	victimID := uint32(7)
	victim, err := v.ReadInode(victimID)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}
	if err := v.DeallocateInode(victim); err != nil {
		t.Fatalf("DeallocateInode: %v", err)
	}

	next, err := v.AllocateInode()
	if err != nil {
		t.Fatalf("AllocateInode after free: %v", err)
	}
	if next.Id != victimID {
		t.Fatalf("reused id = %d, want %d", next.Id, victimID)
	}
}
