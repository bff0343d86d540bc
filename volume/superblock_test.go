package volume

import "testing"

func TestCalcSuperBlockDefaults(t *testing.T) {
	sb := CalcSuperBlock(DefaultSettings())

	wantBlockGroupSize := uint32(4096 + 4096 + 2*1024*1024 + 128*1024*1024)
	if sb.BlockGroupSize != wantBlockGroupSize {
		t.Fatalf("BlockGroupSize = %d, want %d", sb.BlockGroupSize, wantBlockGroupSize)
	}
	if sb.MaxBlockGroupCount != 15 {
		t.Fatalf("MaxBlockGroupCount = %d, want 15", sb.MaxBlockGroupCount)
	}
	if sb.BlockGroupDescriptorsBlockCount != 1 {
		t.Fatalf("BlockGroupDescriptorsBlockCount = %d, want 1", sb.BlockGroupDescriptorsBlockCount)
	}
	if sb.ZeroBlockGroupOffset != 4096 {
		t.Fatalf("ZeroBlockGroupOffset = %d, want 4096", sb.ZeroBlockGroupOffset)
	}
	if sb.BlockGroupInodeCount != 32768 {
		t.Fatalf("BlockGroupInodeCount = %d, want 32768", sb.BlockGroupInodeCount)
	}
	if sb.MetaGroupInodeCount != 491520 {
		t.Fatalf("MetaGroupInodeCount = %d, want 491520", sb.MetaGroupInodeCount)
	}
	if InodeOnDiskSize != 64 {
		t.Fatalf("InodeOnDiskSize = %d, want 64", InodeOnDiskSize)
	}
}

func TestSuperBlockSerializeRoundTrip(t *testing.T) {
	sb := CalcSuperBlock(DefaultSettings())
	buf := sb.NewBuffer()
	if err := sb.Serialize(buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var got SuperBlock
	if err := got.Deserialize(buf); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got != sb {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, sb)
	}
}
