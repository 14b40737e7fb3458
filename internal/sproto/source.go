package sproto

import (
	"io"
	"sync"
)

// ByteSource reads single bytes from the medium holding a license.
// Implementations exist per storage type; the core never reads a byte
// without first checking its address against the license Range.
type ByteSource interface {
	ByteAt(addr uint32) byte
}

// Range is the address extent of a license: [Base, Base+Length).
type Range struct {
	Base   uint32
	Length uint32
}

// End returns the first address past the range, widened to avoid overflow.
func (r Range) End() uint64 {
	return uint64(r.Base) + uint64(r.Length)
}

// Contains reports whether size bytes starting at addr lie inside r.
func (r Range) Contains(addr uint32, size uint32) bool {
	if addr < r.Base {
		return false
	}
	return uint64(addr)+uint64(size) <= r.End()
}

// Memory is a RAM resident license mapped at Base.
type Memory struct {
	Base uint32
	Data []byte
}

// NewMemory maps data at address zero.
func NewMemory(data []byte) *Memory {
	return &Memory{Data: data}
}

// ByteAt returns the byte at addr. Addresses outside Data read as 0xFF,
// which is what erased flash returns.
func (m *Memory) ByteAt(addr uint32) byte {
	if addr < m.Base {
		return 0xFF
	}
	i := uint64(addr - m.Base)
	if i >= uint64(len(m.Data)) {
		return 0xFF
	}
	return m.Data[i]
}

// Range returns the extent covered by Data.
func (m *Memory) Range() Range {
	return Range{Base: m.Base, Length: uint32(len(m.Data))}
}

// Slice returns the bytes in [addr, addr+n) without copying. ok is false
// when the span is not fully backed by Data.
func (m *Memory) Slice(addr, n uint32) ([]byte, bool) {
	if addr < m.Base {
		return nil, false
	}
	start := uint64(addr - m.Base)
	end := start + uint64(n)
	if end > uint64(len(m.Data)) {
		return nil, false
	}
	return m.Data[start:end], true
}

// Slicer is implemented by sources that can hand out zero-copy views.
type Slicer interface {
	Slice(addr, n uint32) ([]byte, bool)
}

// ReaderAtSource adapts an io.ReaderAt (a flash image file, an EEPROM
// device node) into a ByteSource. A small page buffer keeps sequential
// reads from issuing one syscall per byte. The first read failure is
// remembered and reported by Err; failed bytes read as 0xFF.
type ReaderAtSource struct {
	r        io.ReaderAt
	base     uint32
	pageSize uint32

	mu       sync.Mutex
	page     []byte
	pageAddr uint32
	pageLen  int
	err      error
}

// NewReaderAtSource maps r so that offset 0 appears at address base.
func NewReaderAtSource(r io.ReaderAt, base uint32, pageSize int) *ReaderAtSource {
	if pageSize <= 0 {
		pageSize = 256
	}
	return &ReaderAtSource{
		r:        r,
		base:     base,
		pageSize: uint32(pageSize),
		page:     make([]byte, pageSize),
		pageLen:  -1,
	}
}

// ByteAt implements ByteSource.
func (s *ReaderAtSource) ByteAt(addr uint32) byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr < s.base {
		return 0xFF
	}
	off := addr - s.base
	pageAddr := off - off%s.pageSize
	if s.pageLen < 0 || pageAddr != s.pageAddr {
		n, err := s.r.ReadAt(s.page, int64(pageAddr))
		if err != nil && err != io.EOF && s.err == nil {
			s.err = err
		}
		s.pageAddr = pageAddr
		s.pageLen = n
	}
	i := int(off - pageAddr)
	if i >= s.pageLen {
		return 0xFF
	}
	return s.page[i]
}

// Err returns the first read error seen, if any.
func (s *ReaderAtSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
