// Package persist stores small per-license records that must survive a
// restart, such as the license update counter.
//
// Records are addressed by a container id (the UUID carried in a license)
// and a 24-bit key id. Backends:
//
//   - MemoryStore: process memory, for tests and volatile deployments
//   - LogStore: an append-only record log over a two page medium with
//     page-switch compaction, for flash and files
//   - RedisStore: a shared Redis instance
package persist

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
)

// KeyID names one record inside a container. Only the low 24 bits are
// usable.
type KeyID uint32

const (
	// KeyUpdateCounter holds the highest accepted license update counter.
	KeyUpdateCounter KeyID = 1

	// MaxKeyID is the largest valid key id.
	MaxKeyID KeyID = 1<<24 - 1
)

// Valid reports whether k fits in 24 bits and is not zero.
func (k KeyID) Valid() bool {
	return k != 0 && k <= MaxKeyID
}

// Store is the persistent record contract used by the validity pipeline.
// Get returns PersistentIDNotFound for missing records.
type Store interface {
	Get(ctx context.Context, container uuid.UUID, key KeyID) ([]byte, error)
	Put(ctx context.Context, container uuid.UUID, key KeyID, value []byte) error
	Create(ctx context.Context, container uuid.UUID, key KeyID, size int) error
	Delete(ctx context.Context, container uuid.UUID, key KeyID) error
}

func checkKey(op string, key KeyID) error {
	if !key.Valid() {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	return nil
}

// ReadCounter returns the persisted update counter for container. found is
// false when no counter was ever written.
func ReadCounter(ctx context.Context, s Store, container uuid.UUID) (counter uint32, found bool, err error) {
	b, err := s.Get(ctx, container, KeyUpdateCounter)
	if err != nil {
		if fiterrors.CodeOf(err) == fiterrors.CodePersistentIDNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(b) != 4 {
		return 0, false, fiterrors.New(fiterrors.CodeStorageCorrupt, "persist.counter")
	}
	return binary.LittleEndian.Uint32(b), true, nil
}

// WriteCounter persists the update counter for container.
func WriteCounter(ctx context.Context, s Store, container uuid.UUID, counter uint32) error {
	return s.Put(ctx, container, KeyUpdateCounter, binary.LittleEndian.AppendUint32(nil, counter))
}
