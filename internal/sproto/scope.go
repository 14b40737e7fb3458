package sproto

// FrameKind tells object frames from array frames.
type FrameKind uint8

const (
	FrameObject FrameKind = iota + 1
	FrameArray
)

// Frame is the walk position inside one object or array value.
type Frame struct {
	Kind   FrameKind
	Node   *Node
	Addr   uint32
	Length uint32

	// object state
	count   uint16 // field descriptors present
	cursor  uint16 // descriptors consumed
	field   int    // schema index of the next descriptor
	dataOff uint32 // next entry in the data region

	// array state
	consumed uint32
}

func (f *Frame) done() bool {
	if f.Kind == FrameArray {
		return f.consumed >= f.Length
	}
	return f.cursor >= f.count
}

func (f *Frame) end() uint64 {
	return uint64(f.Addr) + uint64(f.Length)
}

// Scope is a saved walk position: a bounded stack of frames. The zero
// value is an uninitialized scope; it becomes usable after a First search.
//
// A scope confined by a reference never walks above the frame the
// reference pointed at: floor records that depth.
type Scope struct {
	frames      [MaxLevel]Frame
	depth       int
	floor       int
	initialized bool
	exhausted   bool
	last        Tag
}

// NewScope returns an empty, uninitialized scope.
func NewScope() *Scope {
	s := &Scope{}
	s.Reset()
	return s
}

// Reset returns s to the uninitialized state.
func (s *Scope) Reset() {
	*s = Scope{depth: -1, floor: -1}
}

// Initialized reports whether s was produced by a search.
func (s *Scope) Initialized() bool {
	return s != nil && s.initialized
}

// Exhausted reports whether the last walk ran off the end of the scope.
func (s *Scope) Exhausted() bool {
	return s.exhausted
}

// Depth returns the index of the top frame, or -1 when the stack is empty.
func (s *Scope) Depth() int {
	if !s.initialized {
		return -1
	}
	return s.depth
}

// LastTag returns the tag of the most recent successful match.
func (s *Scope) LastTag() Tag {
	return s.last
}

// Top returns the innermost frame.
func (s *Scope) Top() (Frame, bool) {
	if !s.initialized || s.depth < 0 {
		return Frame{}, false
	}
	return s.frames[s.depth], true
}

// FrameOf returns the innermost frame whose schema node carries tag.
func (s *Scope) FrameOf(tag Tag) (Frame, bool) {
	if !s.initialized {
		return Frame{}, false
	}
	for i := s.depth; i >= 0; i-- {
		if s.frames[i].Node.Tag == tag {
			return s.frames[i], true
		}
	}
	return Frame{}, false
}

// Clone returns an independent copy of s.
func (s *Scope) Clone() *Scope {
	c := *s
	return &c
}

func (s *Scope) push(f Frame) bool {
	if s.depth+1 >= MaxLevel {
		return false
	}
	s.depth++
	s.frames[s.depth] = f
	return true
}
