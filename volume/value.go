package volume

import "fmt"

// Value is the tagged-union scalar stored in an inode's value slot. Only the
// field named by Kind is meaningful; it is the Go analogue of the original's
// std::variant<std::monostate, bool, i32, ui32, int64_t, uint64_t, float,
// double, std::string, TBlobView>.
type Value struct {
	Kind EType

	Bool bool
	I32  int32
	U32  uint32
	I64  int64
	U64  uint64
	F32  float32
	F64  float64
	Str  string
	Blob []byte
}

// NoneValue is the absence of a value (the variant's monostate case).
func NoneValue() Value { return Value{Kind: TypeUndefined} }

func BoolValue(v bool) Value     { return Value{Kind: TypeBool, Bool: v} }
func I32Value(v int32) Value     { return Value{Kind: TypeI32, I32: v} }
func U32Value(v uint32) Value    { return Value{Kind: TypeU32, U32: v} }
func I64Value(v int64) Value     { return Value{Kind: TypeI64, I64: v} }
func U64Value(v uint64) Value    { return Value{Kind: TypeU64, U64: v} }
func F32Value(v float32) Value   { return Value{Kind: TypeF32, F32: v} }
func F64Value(v float64) Value   { return Value{Kind: TypeF64, F64: v} }
func StringValue(v string) Value { return Value{Kind: TypeString, Str: v} }
func BlobValue(v []byte) Value   { return Value{Kind: TypeBlob, Blob: v} }

// IsNone reports whether this is the monostate/undefined variant.
func (v Value) IsNone() bool { return v.Kind == TypeUndefined }

// wireSize returns the number of bytes value's payload occupies on disk,
// not counting the inode's own Val.Type tag byte.
func (v Value) wireSize() (int, error) {
	switch v.Kind {
	case TypeBool:
		return 1, nil
	case TypeI32, TypeU32, TypeF32:
		return 4, nil
	case TypeI64, TypeU64, TypeF64:
		return 8, nil
	case TypeString:
		return 2 + len(v.Str), nil
	case TypeBlob:
		return 2 + len(v.Blob), nil
	default:
		return 0, fmt.Errorf("%w: unknown value kind %d", ErrCorruption, v.Kind)
	}
}

// encodeValue writes value's payload (without the tag byte, which lives in
// the inode record) into buf, which must be at least wireSize() bytes.
func encodeValue(buf []byte, v Value) error {
	w := newCheckedWriter(buf)
	size, err := v.wireSize()
	if err != nil {
		return err
	}
	switch v.Kind {
	case TypeBool:
		w.u8(boolToU8(v.Bool))
	case TypeI32:
		w.u32(uint32(v.I32))
	case TypeU32:
		w.u32(v.U32)
	case TypeI64:
		w.u64(uint64(v.I64))
	case TypeU64:
		w.u64(v.U64)
	case TypeF32:
		w.f32(v.F32)
	case TypeF64:
		w.f64(v.F64)
	case TypeString:
		w.u16(uint16(len(v.Str)))
		w.bytes([]byte(v.Str))
	case TypeBlob:
		w.u16(uint16(len(v.Blob)))
		w.bytes(v.Blob)
	default:
		return fmt.Errorf("%w: unknown value kind %d", ErrCorruption, v.Kind)
	}
	return w.mustConsume(size)
}

// decodeValue reads a payload of the given kind from the front of buf.
func decodeValue(buf []byte, kind EType) (Value, error) {
	r := newCheckedReader(buf)
	switch kind {
	case TypeUndefined:
		return NoneValue(), nil
	case TypeBool:
		v := r.u8() != 0
		return BoolValue(v), r.mustConsume(1)
	case TypeI32:
		v := int32(r.u32())
		return I32Value(v), r.mustConsume(4)
	case TypeU32:
		v := r.u32()
		return U32Value(v), r.mustConsume(4)
	case TypeI64:
		v := int64(r.u64())
		return I64Value(v), r.mustConsume(8)
	case TypeU64:
		v := r.u64()
		return U64Value(v), r.mustConsume(8)
	case TypeF32:
		v := r.f32()
		return F32Value(v), r.mustConsume(4)
	case TypeF64:
		v := r.f64()
		return F64Value(v), r.mustConsume(8)
	case TypeString:
		n := int(r.u16())
		s := string(r.bytes(n))
		return StringValue(s), r.mustConsume(2 + n)
	case TypeBlob:
		n := int(r.u16())
		b := r.bytes(n)
		return BlobValue(b), r.mustConsume(2 + n)
	default:
		return Value{}, fmt.Errorf("%w: unknown value tag %d", ErrCorruption, kind)
	}
}
