package storage

import (
	"testing"

	"github.com/jkv/jkv/volume"
)

func openVol(t *testing.T) *volume.Volume {
	t.Helper()
	dir := t.TempDir()
	v, err := volume.Open(dir, volume.DefaultSettings(), true, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestSetGetEraseRoundTrip(t *testing.T) {
	root := openVol(t)
	s, err := NewBuilder(root).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := s.Set("/sbin", volume.U32Value(777), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("/sbin")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != volume.TypeU32 || got.U32 != 777 {
		t.Fatalf("Get(/sbin) = %+v, want u32 777", got)
	}

	if err := s.Erase("/sbin"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	got, err = s.Get("/sbin")
	if err != nil {
		t.Fatalf("Get after erase: %v", err)
	}
	if !got.IsNone() {
		t.Fatalf("Get after erase = %+v, want none", got)
	}
}

func TestGetMissingPathReturnsNone(t *testing.T) {
	root := openVol(t)
	s, err := NewBuilder(root).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := s.Get("/no/such/key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsNone() {
		t.Fatalf("Get(/no/such/key) = %+v, want none", got)
	}
}

func TestSetCreatesIntermediateDirectories(t *testing.T) {
	root := openVol(t)
	s, err := NewBuilder(root).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := s.Set("/home/trofimenkov/nickname", volume.StringValue("Handsome"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("/home/trofimenkov/nickname")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Str != "Handsome" {
		t.Fatalf("Get = %+v, want \"Handsome\"", got)
	}

	home, err := s.Get("/home")
	if err != nil {
		t.Fatalf("Get(/home): %v", err)
	}
	if !home.IsNone() {
		t.Fatalf("/home should carry no value of its own, got %+v", home)
	}
}

func TestBuilderMountsOverlaysInOrder(t *testing.T) {
	root := openVol(t)
	homeV0 := openVol(t)
	homeV1 := openVol(t)

	homeV0Ops := volume.NewOps(homeV0)
	v0root, _ := homeV0.GetRoot()
	leva, err := homeV0Ops.AddChild(&v0root, "leva")
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := homeV0Ops.SetValue(&leva, volume.U32Value(1), 0); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	s, err := NewBuilder(root).Mount("/home", homeV0).Mount("/home", homeV1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// home_v1 is newest and lacks leva, so reads fall back to home_v0.
	got, err := s.Get("/home/leva")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.U32 != 1 {
		t.Fatalf("Get(/home/leva) = %+v, want u32 1", got)
	}

	// A brand-new key goes to the newest mount, home_v1.
	if err := s.Set("/home/new-key", volume.U32Value(9), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v1Ops := volume.NewOps(homeV1)
	v1Root, _ := homeV1.GetRoot()
	if _, ok, err := v1Ops.LookupChild(&v1Root, "new-key"); err != nil || !ok {
		t.Fatalf("new-key not found in home_v1: ok=%v err=%v", ok, err)
	}
}
