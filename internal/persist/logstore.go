package persist

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"log/slog"
	"math"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
)

const (
	pageMagic      = "FITP"
	pageHeaderSize = 12 // magic, generation, crc
	recHeaderSize  = 8  // type, reserved, length, id
	recTrailerSize = 4  // crc

	recValue     byte = 0x01
	recTombstone byte = 0x02
	recDir       byte = 0x03
	recErased    byte = 0xFF

	maxContainers = 256

	// MinPageSize is the smallest usable page.
	MinPageSize = 128
)

// LogStore is an append-only record log split across two equal pages of a
// Medium. Updates append to the active page; when it fills up, the live
// records are copied to the other page under a higher generation number
// and the old page is erased. A torn compaction leaves the old page valid,
// so the store survives power loss between the two steps.
//
// Each container UUID is assigned an 8-bit index by a directory record;
// value records are keyed by index<<24 | key.
type LogStore struct {
	mu       deadlock.Mutex
	medium   Medium
	pageSize int64
	logger   *slog.Logger

	active     int
	generation uint32
	tail       int64 // next free offset inside the active page

	dir    map[uuid.UUID]uint8
	values map[uint32][]byte
}

// OpenLogStore mounts the log on m, formatting it when both pages are
// erased.
func OpenLogStore(m Medium, logger *slog.Logger) (*LogStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LogStore{
		medium:   m,
		pageSize: m.Size() / 2,
		logger:   logger.With(slog.String("component", "persist")),
	}
	if s.pageSize < MinPageSize {
		return nil, fiterrors.New(fiterrors.CodeInvalidParameter, "persist.open")
	}
	if err := s.mount(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LogStore) pageOffset(page int) int64 {
	return int64(page) * s.pageSize
}

type pageState int

const (
	pageErased pageState = iota
	pageValid
	pageInvalid
)

func (s *LogStore) readHeader(page int) (pageState, uint32, error) {
	var hdr [pageHeaderSize]byte
	if _, err := s.medium.ReadAt(hdr[:], s.pageOffset(page)); err != nil {
		return pageInvalid, 0, fiterrors.Wrap(fiterrors.CodeStorageIO, "persist.header", err)
	}
	erased := true
	for _, b := range hdr {
		if b != 0xFF {
			erased = false
			break
		}
	}
	if erased {
		return pageErased, 0, nil
	}
	if string(hdr[:4]) != pageMagic || crc32.ChecksumIEEE(hdr[:8]) != binary.LittleEndian.Uint32(hdr[8:]) {
		return pageInvalid, 0, nil
	}
	return pageValid, binary.LittleEndian.Uint32(hdr[4:8]), nil
}

func (s *LogStore) mount() error {
	var states [2]pageState
	var gens [2]uint32
	for p := 0; p < 2; p++ {
		st, gen, err := s.readHeader(p)
		if err != nil {
			return err
		}
		states[p], gens[p] = st, gen
	}

	switch {
	case states[0] == pageValid && states[1] == pageValid:
		s.active = 0
		if gens[1] > gens[0] {
			s.active = 1
		}
	case states[0] == pageValid:
		s.active = 0
	case states[1] == pageValid:
		s.active = 1
	case states[0] == pageErased && states[1] == pageErased:
		return s.format()
	default:
		return fiterrors.New(fiterrors.CodeStorageCorrupt, "persist.mount")
	}
	s.generation = gens[s.active]
	return s.replay()
}

func (s *LogStore) format() error {
	s.active = 0
	s.generation = 1
	s.dir = make(map[uuid.UUID]uint8)
	s.values = make(map[uint32][]byte)
	if err := s.writeHeader(0, 1); err != nil {
		return err
	}
	s.tail = pageHeaderSize
	s.logger.Info("Formatted persistent store", slog.Int64("page_size", s.pageSize))
	return nil
}

func (s *LogStore) writeHeader(page int, gen uint32) error {
	hdr := make([]byte, 0, pageHeaderSize)
	hdr = append(hdr, pageMagic...)
	hdr = binary.LittleEndian.AppendUint32(hdr, gen)
	hdr = binary.LittleEndian.AppendUint32(hdr, crc32.ChecksumIEEE(hdr))
	if _, err := s.medium.WriteAt(hdr, s.pageOffset(page)); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, "persist.header", err)
	}
	return nil
}

func (s *LogStore) replay() error {
	const op = "persist.replay"
	s.dir = make(map[uuid.UUID]uint8)
	s.values = make(map[uint32][]byte)
	byIndex := make(map[uint8]uuid.UUID)

	base := s.pageOffset(s.active)
	off := int64(pageHeaderSize)
	for off+recHeaderSize <= s.pageSize {
		var hdr [recHeaderSize]byte
		if _, err := s.medium.ReadAt(hdr[:], base+off); err != nil {
			return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
		}
		if hdr[0] == recErased {
			break
		}
		size := int64(binary.LittleEndian.Uint16(hdr[2:4]))
		end := off + recHeaderSize + size + recTrailerSize
		if end > s.pageSize {
			return fiterrors.New(fiterrors.CodeStorageCorrupt, op)
		}
		rec := make([]byte, recHeaderSize+size+recTrailerSize)
		if _, err := s.medium.ReadAt(rec, base+off); err != nil {
			return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
		}
		body := rec[:recHeaderSize+size]
		if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(rec[len(body):]) {
			return fiterrors.New(fiterrors.CodeStorageCorrupt, op)
		}

		id := binary.LittleEndian.Uint32(hdr[4:8])
		data := body[recHeaderSize:]
		switch hdr[0] {
		case recValue:
			s.values[id] = append([]byte(nil), data...)
		case recTombstone:
			delete(s.values, id)
		case recDir:
			if id >= maxContainers || len(data) != 16 {
				return fiterrors.New(fiterrors.CodeStorageCorrupt, op)
			}
			u, _ := uuid.FromBytes(data)
			if old, ok := byIndex[uint8(id)]; ok {
				delete(s.dir, old)
			}
			byIndex[uint8(id)] = u
			s.dir[u] = uint8(id)
		default:
			return fiterrors.New(fiterrors.CodeStorageCorrupt, op)
		}
		off = end
	}
	s.tail = off
	return nil
}

func encodeRecord(typ byte, id uint32, data []byte) []byte {
	rec := make([]byte, 0, recHeaderSize+len(data)+recTrailerSize)
	rec = append(rec, typ, 0)
	rec = binary.LittleEndian.AppendUint16(rec, uint16(len(data)))
	rec = binary.LittleEndian.AppendUint32(rec, id)
	rec = append(rec, data...)
	return binary.LittleEndian.AppendUint32(rec, crc32.ChecksumIEEE(rec))
}

func packID(index uint8, key KeyID) uint32 {
	return uint32(index)<<24 | uint32(key)
}

// write appends buf at the tail of the active page.
func (s *LogStore) write(buf []byte) error {
	if _, err := s.medium.WriteAt(buf, s.pageOffset(s.active)+s.tail); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, "persist.write", err)
	}
	s.tail += int64(len(buf))
	return nil
}

// compact copies live records to the other page and switches to it.
// Directory entries of containers without values are dropped.
func (s *LogStore) compact() error {
	const op = "persist.compact"
	next := 1 - s.active
	base := s.pageOffset(next)
	if err := s.medium.Erase(base, s.pageSize); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}

	used := make(map[uint8]bool)
	for id := range s.values {
		used[uint8(id>>24)] = true
	}
	dir := make(map[uuid.UUID]uint8)
	var buf []byte
	for u, idx := range s.dir {
		if !used[idx] {
			continue
		}
		dir[u] = idx
		buf = append(buf, encodeRecord(recDir, uint32(idx), u[:])...)
	}
	for id, v := range s.values {
		buf = append(buf, encodeRecord(recValue, id, v)...)
	}
	if pageHeaderSize+int64(len(buf)) > s.pageSize {
		return fiterrors.New(fiterrors.CodeStorageFull, op)
	}
	if _, err := s.medium.WriteAt(buf, base+pageHeaderSize); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	if err := s.writeHeader(next, s.generation+1); err != nil {
		return err
	}
	if err := s.medium.Erase(s.pageOffset(s.active), s.pageSize); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}

	s.logger.Info("Compacted persistent store",
		slog.Int("from_page", s.active),
		slog.Int("to_page", next),
		slog.Int("records", len(s.values)),
		slog.Int("containers", len(dir)),
	)
	s.active = next
	s.generation++
	s.dir = dir
	s.tail = pageHeaderSize + int64(len(buf))
	return nil
}

func (s *LogStore) freeIndex() (uint8, bool) {
	taken := make([]bool, maxContainers)
	for _, idx := range s.dir {
		taken[idx] = true
	}
	for i, t := range taken {
		if !t {
			return uint8(i), true
		}
	}
	return 0, false
}

func (s *LogStore) Get(_ context.Context, container uuid.UUID, key KeyID) ([]byte, error) {
	const op = "persist.log.get"
	if err := checkKey(op, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.dir[container]
	if !ok {
		return nil, fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	v, ok := s.values[packID(idx, key)]
	if !ok {
		return nil, fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	return append([]byte(nil), v...), nil
}

func (s *LogStore) Put(_ context.Context, container uuid.UUID, key KeyID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(container, key, value)
}

func (s *LogStore) put(container uuid.UUID, key KeyID, value []byte) error {
	const op = "persist.log.put"
	if err := checkKey(op, key); err != nil {
		return err
	}
	if len(value) > math.MaxUint16 {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}

	// A second pass runs after compaction, which may have dropped unused
	// directory entries.
	for pass := 0; pass < 2; pass++ {
		idx, known := s.dir[container]
		if !known {
			var ok bool
			if idx, ok = s.freeIndex(); !ok {
				if pass == 0 {
					if err := s.compact(); err != nil {
						return err
					}
					continue
				}
				return fiterrors.New(fiterrors.CodeStorageFull, op)
			}
		}

		var buf []byte
		if !known {
			buf = encodeRecord(recDir, uint32(idx), container[:])
		}
		buf = append(buf, encodeRecord(recValue, packID(idx, key), value)...)
		if s.tail+int64(len(buf)) > s.pageSize {
			if pass == 0 {
				if err := s.compact(); err != nil {
					return err
				}
				continue
			}
			return fiterrors.New(fiterrors.CodeStorageFull, op)
		}
		if err := s.write(buf); err != nil {
			return err
		}
		s.dir[container] = idx
		s.values[packID(idx, key)] = append([]byte(nil), value...)
		return nil
	}
	return fiterrors.New(fiterrors.CodeStorageFull, op)
}

func (s *LogStore) Create(_ context.Context, container uuid.UUID, key KeyID, size int) error {
	const op = "persist.log.create"
	if err := checkKey(op, key); err != nil {
		return err
	}
	if size < 0 || size > math.MaxUint16 {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.dir[container]; ok {
		if v, ok := s.values[packID(idx, key)]; ok {
			if len(v) != size {
				return fiterrors.New(fiterrors.CodeInvalidParameter, op)
			}
			return nil
		}
	}
	return s.put(container, key, make([]byte, size))
}

func (s *LogStore) Delete(_ context.Context, container uuid.UUID, key KeyID) error {
	const op = "persist.log.delete"
	if err := checkKey(op, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.dir[container]
	if !ok {
		return fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	id := packID(idx, key)
	if _, ok := s.values[id]; !ok {
		return fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	// Dropping the value first lets compaction skip it entirely.
	old := s.values[id]
	delete(s.values, id)
	rec := encodeRecord(recTombstone, id, nil)
	if s.tail+int64(len(rec)) > s.pageSize {
		if err := s.compact(); err != nil {
			s.values[id] = old
			return err
		}
		return nil
	}
	if err := s.write(rec); err != nil {
		s.values[id] = old
		return err
	}
	return nil
}

// Generation returns the generation of the active page.
func (s *LogStore) Generation() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
