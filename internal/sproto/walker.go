package sproto

import (
	fiterrors "fitcore/internal/errors"
)

// HeaderSize is the length of the version header in front of the root
// object.
const HeaderSize = 4

// Header is the version prefix of a license buffer.
type Header struct {
	Major uint8
	Minor uint8
}

// Element is one field or array element produced by the walker.
type Element struct {
	Tag   Tag
	Node  *Node
	Field int // schema index inside the parent object; -1 for array elements

	// Addr and Len locate the value bytes when the value is out of line.
	Addr uint32
	Len  uint32

	Inline bool
	inline uint64
}

// Type returns the schema wire type of the element.
func (e Element) Type() WireType {
	if e.Node == nil {
		return TypeInvalid
	}
	return e.Node.Type
}

// Walker decodes a license buffer held in src within rng.
type Walker struct {
	src ByteSource
	rng Range
}

// NewWalker returns a walker over rng in src.
func NewWalker(src ByteSource, rng Range) *Walker {
	return &Walker{src: src, rng: rng}
}

// Source returns the byte source being walked.
func (w *Walker) Source() ByteSource { return w.src }

// Range returns the license extent being walked.
func (w *Walker) Range() Range { return w.rng }

// Header decodes the 4-byte version header. The first two bytes must be
// zero.
func (w *Walker) Header() (Header, error) {
	const op = "sproto.header"
	if err := Probe(w.rng.Base, HeaderSize, w.rng); err != nil {
		return Header{}, err
	}
	if ReadU16(w.src, w.rng.Base) != 0 {
		return Header{}, fiterrors.New(fiterrors.CodeInvalidVersion, op)
	}
	return Header{
		Major: ReadU8(w.src, w.rng.Base+2),
		Minor: ReadU8(w.src, w.rng.Base+3),
	}, nil
}

// RootElement returns the root object as an element.
func (w *Walker) RootElement() (Element, error) {
	if w.rng.Length < HeaderSize {
		return Element{}, fiterrors.New(fiterrors.CodeInvalidFormat, "sproto.root")
	}
	return Element{
		Tag:   TagRoot,
		Node:  Root,
		Field: -1,
		Addr:  w.rng.Base + HeaderSize,
		Len:   w.rng.Length - HeaderSize,
	}, nil
}

// Start resets s so that it points at the beginning of the root object.
func (w *Walker) Start(s *Scope) error {
	root, err := w.RootElement()
	if err != nil {
		return err
	}
	s.Reset()
	f, err := w.open(root.Node, root.Addr, root.Len)
	if err != nil {
		return err
	}
	s.push(f)
	s.initialized = true
	return nil
}

// StartWithin resets s to the beginning of the innermost frame of ref and
// confines every later walk on s to that subtree.
func (w *Walker) StartWithin(s, ref *Scope) error {
	if !ref.Initialized() || ref.depth < 0 {
		return fiterrors.New(fiterrors.CodeScopeNotInitialized, "sproto.start")
	}
	top := ref.frames[ref.depth]
	f, err := w.open(top.Node, top.Addr, top.Length)
	if err != nil {
		return err
	}
	s.Reset()
	copy(s.frames[:ref.depth], ref.frames[:ref.depth])
	s.frames[ref.depth] = f
	s.depth = ref.depth
	s.floor = ref.depth
	s.initialized = true
	return nil
}

// Push descends into a container element so that the next walk steps
// visit its contents.
func (w *Walker) Push(s *Scope, el Element) error {
	const op = "sproto.push"
	if !s.initialized {
		return fiterrors.New(fiterrors.CodeScopeNotInitialized, op)
	}
	if !el.Type().Container() || el.Inline {
		return fiterrors.New(fiterrors.CodeInvalidWireType, op)
	}
	f, err := w.open(el.Node, el.Addr, el.Len)
	if err != nil {
		return err
	}
	if !s.push(f) {
		return fiterrors.New(fiterrors.CodeMaxLevelExceeded, op)
	}
	return nil
}

// Next advances s by one step and returns the element found there.
// Finished frames are popped on the way. An element that the schema does
// not describe yields SkipElementData; callers continue past it. Walking
// off the end yields ItemNotFound, or StopParse when s is confined to a
// reference subtree.
func (w *Walker) Next(s *Scope) (Element, error) {
	const op = "sproto.next"
	if !s.initialized {
		return Element{}, fiterrors.New(fiterrors.CodeScopeNotInitialized, op)
	}
	for {
		if s.exhausted || s.depth < 0 {
			s.exhausted = true
			return Element{}, fiterrors.New(fiterrors.CodeItemNotFound, op)
		}
		f := &s.frames[s.depth]
		if f.done() {
			if s.depth == s.floor {
				s.exhausted = true
				return Element{}, fiterrors.New(fiterrors.CodeStopParse, op)
			}
			s.depth--
			continue
		}
		if f.Kind == FrameArray {
			return w.nextElement(f)
		}
		return w.nextField(f)
	}
}

func (w *Walker) open(node *Node, addr, length uint32) (Frame, error) {
	const op = "sproto.open"
	if err := Probe(addr, length, w.rng); err != nil {
		return Frame{}, err
	}
	f := Frame{Node: node, Addr: addr, Length: length}
	switch node.Type {
	case TypeArray:
		f.Kind = FrameArray
	case TypeObject:
		f.Kind = FrameObject
		n, err := ReadU16Safe(w.src, addr, Range{Base: addr, Length: length})
		if err != nil {
			return Frame{}, err
		}
		head := 2 + 2*uint64(n)
		if head > uint64(length) {
			return Frame{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
		}
		f.count = n
		f.dataOff = addr + uint32(head)
	default:
		return Frame{}, fiterrors.New(fiterrors.CodeInvalidWireType, op)
	}
	return f, nil
}

func (w *Walker) nextField(f *Frame) (Element, error) {
	const op = "sproto.field"
	rng := Range{Base: f.Addr, Length: f.Length}
	for f.cursor < f.count {
		d, err := ReadU16Safe(w.src, f.Addr+2+2*uint32(f.cursor), rng)
		if err != nil {
			return Element{}, err
		}
		f.cursor++
		if d&1 == 1 {
			// absent fields must be declared ones
			skip := (int(d) + 1) / 2
			if f.field+skip > len(f.Node.Children) {
				return Element{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
			}
			f.field += skip
			continue
		}

		idx := f.field
		f.field++
		el := Element{Field: idx}
		if d == 0 {
			size, err := ReadU32Safe(w.src, f.dataOff, rng)
			if err != nil {
				return Element{}, err
			}
			start := uint64(f.dataOff) + 4
			if start+uint64(size) > f.end() {
				return Element{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
			}
			el.Addr = uint32(start)
			el.Len = size
			f.dataOff = uint32(start + uint64(size))
		} else {
			el.Inline = true
			el.inline = uint64(d/2 - 1)
		}

		if idx >= len(f.Node.Children) {
			return el, fiterrors.New(fiterrors.CodeSkipElementData, op)
		}
		el.Node = f.Node.Children[idx]
		el.Tag = el.Node.Tag
		if el.Inline && el.Node.Type != TypeInteger && el.Node.Type != TypeBoolean {
			return Element{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
		}
		return el, nil
	}
	// Only skip descriptors were left.
	return Element{}, fiterrors.New(fiterrors.CodeSkipElementData, op)
}

func (w *Walker) nextElement(f *Frame) (Element, error) {
	const op = "sproto.element"
	rng := Range{Base: f.Addr, Length: f.Length}
	at := f.Addr + f.consumed
	size, err := ReadU32Safe(w.src, at, rng)
	if err != nil {
		return Element{}, err
	}
	if uint64(f.consumed)+4+uint64(size) > uint64(f.Length) {
		return Element{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
	}
	f.consumed += 4 + size
	elem := f.Node.Element()
	return Element{
		Tag:   elem.Tag,
		Node:  elem,
		Field: -1,
		Addr:  at + 4,
		Len:   size,
	}, nil
}

// Field decodes the field with schema index idx of the object in f.
// found is false when the object does not carry the field.
func (w *Walker) Field(f Frame, idx int) (el Element, found bool, err error) {
	if f.Kind != FrameObject {
		return Element{}, false, fiterrors.New(fiterrors.CodeInvalidWireType, "sproto.field")
	}
	fr, err := w.open(f.Node, f.Addr, f.Length)
	if err != nil {
		return Element{}, false, err
	}
	for !fr.done() {
		el, err := w.nextField(&fr)
		if err != nil {
			if fiterrors.CodeOf(err) == fiterrors.CodeSkipElementData {
				continue
			}
			return Element{}, false, err
		}
		switch {
		case el.Field == idx:
			return el, true, nil
		case el.Field > idx:
			return Element{}, false, nil
		}
	}
	return Element{}, false, nil
}

// ObjectFrame opens el as an object so that its fields can be read with
// Field.
func (w *Walker) ObjectFrame(el Element) (Frame, error) {
	if el.Type() != TypeObject || el.Inline {
		return Frame{}, fiterrors.New(fiterrors.CodeInvalidWireType, "sproto.object")
	}
	return w.open(el.Node, el.Addr, el.Len)
}
