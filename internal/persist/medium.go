package persist

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Medium is raw storage for a LogStore: flash, EEPROM or a file. Erased
// bytes read as 0xFF.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Erase(off, n int64) error
}

// MemMedium is a RAM backed medium that behaves like freshly erased flash.
type MemMedium struct {
	mu   sync.Mutex
	data []byte

	// Writes counts WriteAt calls.
	Writes int
}

// NewMemMedium returns an erased medium of size bytes.
func NewMemMedium(size int) *MemMedium {
	return &MemMedium{data: bytes.Repeat([]byte{0xFF}, size)}
}

func (m *MemMedium) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemMedium) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write of %d bytes at %d outside medium", len(p), off)
	}
	m.Writes++
	return copy(m.data[off:], p), nil
}

func (m *MemMedium) Size() int64 {
	return int64(len(m.data))
}

func (m *MemMedium) Erase(off, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+n > int64(len(m.data)) {
		return fmt.Errorf("erase of %d bytes at %d outside medium", n, off)
	}
	for i := off; i < off+n; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

// Bytes returns a copy of the medium contents.
func (m *MemMedium) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// FileMedium stores the medium image in a regular file.
type FileMedium struct {
	f    *os.File
	size int64
}

// OpenFileMedium opens or creates path as a medium of size bytes. A new or
// short file is padded with erased bytes.
func OpenFileMedium(path string, size int64) (*FileMedium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	}
	fm := &FileMedium{f: f, size: size}
	if info.Size() < size {
		if err := fm.Erase(info.Size(), size-info.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return fm, nil
}

func (fm *FileMedium) ReadAt(p []byte, off int64) (int, error) {
	return fm.f.ReadAt(p, off)
}

func (fm *FileMedium) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > fm.size {
		return 0, fmt.Errorf("write of %d bytes at %d outside medium", len(p), off)
	}
	return fm.f.WriteAt(p, off)
}

func (fm *FileMedium) Size() int64 {
	return fm.size
}

func (fm *FileMedium) Erase(off, n int64) error {
	if _, err := fm.f.WriteAt(bytes.Repeat([]byte{0xFF}, int(n)), off); err != nil {
		return fmt.Errorf("failed to erase store file: %w", err)
	}
	return fm.f.Sync()
}

// Close releases the file.
func (fm *FileMedium) Close() error {
	return fm.f.Close()
}
