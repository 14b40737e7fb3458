package sproto

import (
	fiterrors "fitcore/internal/errors"
)

// Uint decodes an integer or boolean element. Inline values come from
// the descriptor; out-of-line integers are 4 or 8 bytes little-endian.
func (w *Walker) Uint(el Element) (uint64, error) {
	const op = "sproto.uint"
	switch el.Type() {
	case TypeInteger, TypeBoolean:
	default:
		return 0, fiterrors.New(fiterrors.CodeWireTypeMismatch, op)
	}
	if el.Inline {
		return el.inline, nil
	}
	rng := Range{Base: el.Addr, Length: el.Len}
	switch el.Len {
	case 1:
		if el.Type() != TypeBoolean {
			break
		}
		v, err := ReadU8Safe(w.src, el.Addr, rng)
		return uint64(v), err
	case 4:
		v, err := ReadU32Safe(w.src, el.Addr, rng)
		return uint64(v), err
	case 8:
		return ReadU64Safe(w.src, el.Addr, rng)
	}
	return 0, fiterrors.New(fiterrors.CodeInvalidFormat, op)
}

// Uint32 decodes an integer that must fit in 32 bits.
func (w *Walker) Uint32(el Element) (uint32, error) {
	v, err := w.Uint(el)
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, fiterrors.New(fiterrors.CodeInvalidFormat, "sproto.uint32")
	}
	return uint32(v), nil
}

// Bool decodes a boolean element.
func (w *Walker) Bool(el Element) (bool, error) {
	if el.Type() != TypeBoolean {
		return false, fiterrors.New(fiterrors.CodeWireTypeMismatch, "sproto.bool")
	}
	v, err := w.Uint(el)
	return v != 0, err
}

// Bytes copies the value bytes of a string, binary or container element.
func (w *Walker) Bytes(el Element) ([]byte, error) {
	if el.Inline {
		return nil, fiterrors.New(fiterrors.CodeWireTypeMismatch, "sproto.bytes")
	}
	return CopyOut(w.src, el.Addr, el.Len, w.rng)
}

// String copies a string element.
func (w *Walker) String(el Element) (string, error) {
	if el.Type() != TypeString {
		return "", fiterrors.New(fiterrors.CodeWireTypeMismatch, "sproto.string")
	}
	b, err := w.Bytes(el)
	return string(b), err
}

// Matches compares the element value with want. Strings and binaries are
// compared byte by byte after the lengths agree.
func (w *Walker) Matches(el Element, want Value) (bool, error) {
	switch el.Type() {
	case TypeInteger, TypeBoolean:
		v, err := w.Uint(el)
		if err != nil {
			return false, err
		}
		return v == want.Int, nil
	case TypeString, TypeBinary:
		if el.Inline {
			return false, fiterrors.New(fiterrors.CodeInvalidFormat, "sproto.match")
		}
		if int(el.Len) != len(want.Bytes) {
			return false, nil
		}
		return Equal(w.src, el.Addr, want.Bytes, w.rng)
	default:
		return false, fiterrors.New(fiterrors.CodeInvalidWireType, "sproto.match")
	}
}

// Value is a decoded scalar used for matching and for callers that do not
// want to deal with locations.
type Value struct {
	Type  WireType
	Int   uint64
	Bytes []byte
}

// IntValue returns an integer match value.
func IntValue(v uint64) Value { return Value{Type: TypeInteger, Int: v} }

// StringValue returns a string match value.
func StringValue(s string) Value { return Value{Type: TypeString, Bytes: []byte(s)} }

// Decode returns the scalar value of el. Containers return their raw bytes.
func (w *Walker) Decode(el Element) (Value, error) {
	switch el.Type() {
	case TypeInteger, TypeBoolean:
		v, err := w.Uint(el)
		return Value{Type: el.Type(), Int: v}, err
	default:
		b, err := w.Bytes(el)
		return Value{Type: el.Type(), Bytes: b}, err
	}
}
