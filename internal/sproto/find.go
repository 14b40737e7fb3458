package sproto

import (
	fiterrors "fitcore/internal/errors"
)

// Flags select how Find continues.
type Flags uint8

const (
	// First starts a new search.
	First Flags = 1 << iota
	// Next resumes after the previous match stored in the item scope.
	Next
	// Match only accepts fields whose value equals Request.Match.
	Match
)

// Request describes one item search.
type Request struct {
	Tag   Tag
	Type  WireType
	Flags Flags
	Match Value
}

// Find searches for the next field carrying req.Tag. item holds the walk
// position between calls. When ref is non-nil a First search is confined
// to the subtree of ref's innermost frame and never leaves it.
//
// Containers are entered only when the schema says the target can occur
// below them. A matched container is entered too, so that item can serve
// as a reference for narrower searches.
func (w *Walker) Find(ref, item *Scope, req Request) (Element, error) {
	const op = "sproto.find"
	if !req.Tag.Valid() {
		return Element{}, fiterrors.New(fiterrors.CodeInvalidTagID, op)
	}
	if req.Type != req.Tag.Type() {
		return Element{}, fiterrors.New(fiterrors.CodeWireTypeMismatch, op)
	}
	if item == nil {
		return Element{}, fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}

	switch {
	case req.Flags&First != 0:
		var err error
		if ref != nil {
			err = w.StartWithin(item, ref)
		} else {
			err = w.Start(item)
		}
		if err != nil {
			return Element{}, err
		}
		if req.Tag == TagRoot {
			top, _ := item.Top()
			return Element{Tag: TagRoot, Node: Root, Field: -1, Addr: top.Addr, Len: top.Length}, nil
		}
	case req.Flags&Next != 0:
		if !item.Initialized() {
			return Element{}, fiterrors.New(fiterrors.CodeScopeNotInitialized, op)
		}
	default:
		return Element{}, fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}

	for {
		el, err := w.Next(item)
		if err != nil {
			switch fiterrors.CodeOf(err) {
			case fiterrors.CodeSkipElementData:
				continue
			case fiterrors.CodeStopParse:
				return Element{}, fiterrors.Wrap(fiterrors.CodeItemNotFound, op, err)
			}
			return Element{}, err
		}

		if el.Tag != req.Tag {
			if el.Type().Container() && el.Node.Contains(req.Tag) {
				if err := w.Push(item, el); err != nil {
					return Element{}, err
				}
			}
			continue
		}

		if req.Flags&Match != 0 && !el.Type().Container() {
			ok, err := w.Matches(el, req.Match)
			if err != nil {
				return Element{}, err
			}
			if !ok {
				continue
			}
		}
		if el.Type().Container() {
			if err := w.Push(item, el); err != nil {
				return Element{}, err
			}
		}
		item.last = el.Tag
		return el, nil
	}
}

// FindFirst is Find with the First flag and no reference.
func (w *Walker) FindFirst(item *Scope, tag Tag) (Element, error) {
	return w.Find(nil, item, Request{Tag: tag, Type: tag.Type(), Flags: First})
}

// FindNext is Find with the Next flag.
func (w *Walker) FindNext(item *Scope, tag Tag) (Element, error) {
	return w.Find(nil, item, Request{Tag: tag, Type: tag.Type(), Flags: Next})
}
