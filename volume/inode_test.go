package volume

import (
	"bytes"
	"testing"
)

func TestInodeSerializeRoundTrip(t *testing.T) {
	in := Inode{Id: 42}
	in.CreationTime = 100
	in.ModTime = 200
	in.Val.Type = TypeU32
	in.Val.BlockCount = 1
	in.Val.FirstBlockId = 7
	in.Val.Deadline = 999
	in.Dir.HasChildren = true
	in.Dir.BlockCount = 1
	in.Dir.FirstBlockId = 3
	copy(in.Data[:], "hello")

	buf := make([]byte, InodeOnDiskSize)
	if err := in.Serialize(buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var got Inode
	if err := got.Deserialize(buf); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got.Id = in.Id // Id is not part of the on-disk record

	if got != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TypeBool:
		return a.Bool == b.Bool
	case TypeI32:
		return a.I32 == b.I32
	case TypeU32:
		return a.U32 == b.U32
	case TypeI64:
		return a.I64 == b.I64
	case TypeU64:
		return a.U64 == b.U64
	case TypeF32:
		return a.F32 == b.F32
	case TypeF64:
		return a.F64 == b.F64
	case TypeString:
		return a.Str == b.Str
	case TypeBlob:
		return bytes.Equal(a.Blob, b.Blob)
	default:
		return true
	}
}

func TestValueSerializeRoundTrip(t *testing.T) {
	cases := []Value{
		NoneValue(),
		BoolValue(true),
		I32Value(-5),
		U32Value(777),
		I64Value(-12345),
		U64Value(12345),
		F32Value(1.46),
		F64Value(3.14159),
		StringValue("Handsome"),
		BlobValue([]byte("raw bytes")),
	}

	for _, v := range cases {
		size, err := v.wireSize()
		if v.IsNone() {
			if err == nil {
				t.Fatalf("wireSize(none) should error")
			}
			continue
		}
		if err != nil {
			t.Fatalf("wireSize(%v): %v", v.Kind, err)
		}

		buf := make([]byte, size)
		if err := encodeValue(buf, v); err != nil {
			t.Fatalf("encodeValue(%v): %v", v.Kind, err)
		}
		got, err := decodeValue(buf, v.Kind)
		if err != nil {
			t.Fatalf("decodeValue(%v): %v", v.Kind, err)
		}
		if !valuesEqual(got, v) {
			t.Fatalf("round trip mismatch for %v: got %+v, want %+v", v.Kind, got, v)
		}
	}
}
