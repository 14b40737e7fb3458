package sproto

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Item is a value that can be encoded against a schema node.
type Item interface {
	wireType() WireType
}

type (
	// Int is an integer, stored inline in the descriptor when small.
	Int uint64
	// Wide is an integer always stored in the data region.
	Wide uint64
	// Bool is a boolean, always stored inline.
	Bool bool
	// Str is a string value.
	Str string
	// Bin is a binary value.
	Bin []byte
	// Obj maps schema field indices to values. Absent indices are skipped.
	Obj map[int]Item
	// Arr is a list of element values.
	Arr []Item
)

func (Int) wireType() WireType  { return TypeInteger }
func (Wide) wireType() WireType { return TypeInteger }
func (Bool) wireType() WireType { return TypeBoolean }
func (Str) wireType() WireType  { return TypeString }
func (Bin) wireType() WireType  { return TypeBinary }
func (Obj) wireType() WireType  { return TypeObject }
func (Arr) wireType() WireType  { return TypeArray }

// largest value d/2-1 for an even 16-bit descriptor d
const maxInline = math.MaxUint16/2 - 1

// Encode serializes item as a value of node.
func Encode(node *Node, item Item) ([]byte, error) {
	if item.wireType() != node.Type {
		return nil, fmt.Errorf("sproto: %s: cannot encode %s as %s", node.Name, item.wireType(), node.Type)
	}
	switch v := item.(type) {
	case Int:
		return encodeUint(uint64(v)), nil
	case Wide:
		return encodeUint(uint64(v)), nil
	case Bool:
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Str:
		return []byte(v), nil
	case Bin:
		return append([]byte(nil), v...), nil
	case Obj:
		return encodeObject(node, v)
	case Arr:
		var out []byte
		for i, e := range v {
			b, err := Encode(node.Element(), e)
			if err != nil {
				return nil, fmt.Errorf("sproto: %s[%d]: %w", node.Name, i, err)
			}
			out = appendEntry(out, b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("sproto: %s: unsupported item %T", node.Name, item)
}

func encodeObject(node *Node, obj Obj) ([]byte, error) {
	idxs := make([]int, 0, len(obj))
	for i := range obj {
		if i < 0 || i >= len(node.Children) {
			return nil, fmt.Errorf("sproto: %s has no field %d", node.Name, i)
		}
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	var desc []uint16
	var data []byte
	next := 0
	for _, i := range idxs {
		for gap := i - next; gap > 0; {
			g := min(gap, (math.MaxUint16+1)/2)
			desc = append(desc, uint16(2*g-1))
			gap -= g
		}
		next = i + 1

		child := node.Children[i]
		switch v := obj[i].(type) {
		case Int:
			if uint64(v) <= maxInline && child.Type == TypeInteger {
				desc = append(desc, uint16(2*(uint64(v)+1)))
				continue
			}
		case Bool:
			if child.Type == TypeBoolean {
				n := uint16(0)
				if v {
					n = 1
				}
				desc = append(desc, 2*(n+1))
				continue
			}
		}
		b, err := Encode(child, obj[i])
		if err != nil {
			return nil, err
		}
		desc = append(desc, 0)
		data = appendEntry(data, b)
	}

	out := make([]byte, 0, 2+2*len(desc)+len(data))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(desc)))
	for _, d := range desc {
		out = binary.LittleEndian.AppendUint16(out, d)
	}
	return append(out, data...), nil
}

func encodeUint(v uint64) []byte {
	if v <= math.MaxUint32 {
		return binary.LittleEndian.AppendUint32(nil, uint32(v))
	}
	return binary.LittleEndian.AppendUint64(nil, v)
}

func appendEntry(dst, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// EncodeLicense returns a complete license buffer: the version header
// followed by the root object.
func EncodeLicense(h Header, root Obj) ([]byte, error) {
	body, err := Encode(Root, root)
	if err != nil {
		return nil, err
	}
	out := []byte{0, 0, h.Major, h.Minor}
	return append(out, body...), nil
}

// Assemble builds a root object from an already encoded license object
// and the signature entries computed over it.
func Assemble(h Header, license []byte, signatures Arr) ([]byte, error) {
	sigs, err := Encode(NodeOf(TagSignatures), signatures)
	if err != nil {
		return nil, err
	}
	root := []byte{}
	root = binary.LittleEndian.AppendUint16(root, 2)
	root = binary.LittleEndian.AppendUint16(root, 0)
	root = binary.LittleEndian.AppendUint16(root, 0)
	root = appendEntry(root, license)
	root = appendEntry(root, sigs)
	return append([]byte{0, 0, h.Major, h.Minor}, root...), nil
}
