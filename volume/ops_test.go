package volume

import (
	"errors"
	"strings"
	"testing"
)

func openTestOps(t *testing.T) (*Volume, *Ops) {
	t.Helper()
	dir := t.TempDir()
	v, err := Open(dir, DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := v.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return v, NewOps(v)
}

func TestAddChildUnderRoot(t *testing.T) {
	v, ops := openTestOps(t)
	root, err := v.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}

	names := []string{"bin", "sbin", "root", "home", "etc"}
	var ids []uint32
	for _, name := range names {
		child, err := ops.AddChild(&root, name)
		if err != nil {
			t.Fatalf("AddChild(%q): %v", name, err)
		}
		ids = append(ids, child.Id)
	}
	for i, id := range ids {
		if id != uint32(i+1) {
			t.Fatalf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}

	children, err := ops.ListChildren(&root)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != len(names) {
		t.Fatalf("len(children) = %d, want %d", len(children), len(names))
	}
	byName := map[string]uint32{}
	for _, c := range children {
		byName[c.Name] = c.Id
	}
	for i, name := range names {
		if byName[name] != uint32(i+1) {
			t.Fatalf("child %q = %d, want %d", name, byName[name], i+1)
		}
	}
}

func TestAddChildRejectsNameOverConfiguredLimit(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	ok := strings.Repeat("a", int(v.NameMaxLen()))
	if _, err := ops.AddChild(&root, ok); err != nil {
		t.Fatalf("AddChild at the limit: %v", err)
	}

	tooLong := ok + "a"
	if _, err := ops.AddChild(&root, tooLong); !errors.Is(err, ErrBadInput) {
		t.Fatalf("AddChild over the limit: err = %v, want ErrBadInput", err)
	}
}

func TestAddChildDuplicateRejected(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	if _, err := ops.AddChild(&root, "bin"); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if _, err := ops.AddChild(&root, "bin"); err == nil {
		t.Fatal("expected duplicate child error")
	}
}

func TestEnsureChildIsIdempotent(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	first, err := ops.EnsureChild(&root, "home")
	if err != nil {
		t.Fatalf("EnsureChild: %v", err)
	}
	second, err := ops.EnsureChild(&root, "home")
	if err != nil {
		t.Fatalf("EnsureChild (repeat): %v", err)
	}
	if first.Id != second.Id {
		t.Fatalf("EnsureChild returned different ids: %d vs %d", first.Id, second.Id)
	}
}

func TestRemoveChildThenRemoveDirBlock(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	if _, err := ops.AddChild(&root, "tmp"); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	root, err := v.ReadInode(root.Id)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}

	if err := ops.RemoveChild(&root, "tmp"); err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}
	root, err = v.ReadInode(root.Id)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}
	if root.Dir.HasChildren {
		t.Fatal("root still marked has-children after removing its only child")
	}

	if _, _, err := ops.LookupChild(&root, "tmp"); err != nil {
		t.Fatalf("LookupChild after removal: %v", err)
	}
}

func TestRemoveChildWithChildrenFails(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	dir, err := ops.AddChild(&root, "home")
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if _, err := ops.AddChild(&dir, "alex"); err != nil {
		t.Fatalf("AddChild nested: %v", err)
	}

	if err := ops.RemoveChild(&root, "home"); err == nil {
		t.Fatal("expected ConstraintViolated removing a directory with children")
	}
}

func TestSetGetUnsetValueLifecycle(t *testing.T) {
	v, ops := openTestOps(t)
	root, _ := v.GetRoot()

	sbin, err := ops.AddChild(&root, "sbin")
	if err != nil {
		t.Fatalf("AddChild(sbin): %v", err)
	}
	if err := ops.SetValue(&sbin, U32Value(777), 0); err != nil {
		t.Fatalf("SetValue(sbin): %v", err)
	}

	home, err := ops.AddChild(&root, "home")
	if err != nil {
		t.Fatalf("AddChild(home): %v", err)
	}
	trofimenkov, err := ops.AddChild(&home, "trofimenkov")
	if err != nil {
		t.Fatalf("AddChild(trofimenkov): %v", err)
	}

	if err := ops.SetValue(&trofimenkov, StringValue("Handsome"), 0); err != nil {
		t.Fatalf("SetValue(string): %v", err)
	}
	got, err := ops.GetValue(&trofimenkov)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got.Kind != TypeString || got.Str != "Handsome" {
		t.Fatalf("GetValue = %+v, want string \"Handsome\"", got)
	}

	if err := ops.SetValue(&trofimenkov, F32Value(1.46), 0); err != nil {
		t.Fatalf("SetValue(f32 overwrite): %v", err)
	}
	got, err = ops.GetValue(&trofimenkov)
	if err != nil {
		t.Fatalf("GetValue after overwrite: %v", err)
	}
	if got.Kind != TypeF32 || got.F32 != 1.46 {
		t.Fatalf("GetValue after overwrite = %+v, want f32 1.46", got)
	}

	if err := ops.UnsetValue(&trofimenkov); err != nil {
		t.Fatalf("UnsetValue: %v", err)
	}
	got, err = ops.GetValue(&trofimenkov)
	if err != nil {
		t.Fatalf("GetValue after unset: %v", err)
	}
	if !got.IsNone() {
		t.Fatalf("GetValue after unset = %+v, want none", got)
	}

	if err := ops.SetValue(&trofimenkov, U32Value(1987), 0); err != nil {
		t.Fatalf("SetValue after unset: %v", err)
	}
	if err := v.WriteInode(trofimenkov); err != nil {
		t.Fatalf("WriteInode: %v", err)
	}

	reread, err := v.ReadInode(trofimenkov.Id)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}
	got, err = ops.GetValue(&reread)
	if err != nil {
		t.Fatalf("GetValue (reread): %v", err)
	}
	if got.Kind != TypeU32 || got.U32 != 1987 {
		t.Fatalf("GetValue (reread) = %+v, want u32 1987", got)
	}
}

func TestDumpTreeIsSortedAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ops := NewOps(v)

	root, _ := v.GetRoot()
	for _, name := range []string{"sbin", "bin", "etc"} {
		child, err := ops.AddChild(&root, name)
		if err != nil {
			t.Fatalf("AddChild(%q): %v", name, err)
		}
		if name == "sbin" {
			if err := ops.SetValue(&child, U32Value(777), 0); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
		}
	}

	before, err := ops.DumpTree(false)
	if err != nil {
		t.Fatalf("DumpTree: %v", err)
	}
	if !strings.HasPrefix(before, "bin\netc\nsbin = u32 777\n") {
		t.Fatalf("DumpTree not sorted/formatted as expected:\n%s", before)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2, err := Open(dir, DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer v2.Close()

	after, err := NewOps(v2).DumpTree(false)
	if err != nil {
		t.Fatalf("DumpTree after reopen: %v", err)
	}
	if after != before {
		t.Fatalf("DumpTree after reopen = %q, want %q", after, before)
	}
}
