package persist

import (
	"context"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
)

type recordKey struct {
	container uuid.UUID
	key       KeyID
}

// MemoryStore keeps records in a map. It loses everything on restart.
type MemoryStore struct {
	mu      deadlock.RWMutex
	records map[recordKey][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, container uuid.UUID, key KeyID) ([]byte, error) {
	const op = "persist.memory.get"
	if err := checkKey(op, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[recordKey{container, key}]
	if !ok {
		return nil, fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(_ context.Context, container uuid.UUID, key KeyID, value []byte) error {
	if err := checkKey("persist.memory.put", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{container, key}] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Create(_ context.Context, container uuid.UUID, key KeyID, size int) error {
	const op = "persist.memory.create"
	if err := checkKey(op, key); err != nil {
		return err
	}
	if size < 0 {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := recordKey{container, key}
	if v, ok := m.records[rk]; ok {
		if len(v) != size {
			return fiterrors.New(fiterrors.CodeInvalidParameter, op)
		}
		return nil
	}
	m.records[rk] = make([]byte, size)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, container uuid.UUID, key KeyID) error {
	const op = "persist.memory.delete"
	if err := checkKey(op, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := recordKey{container, key}
	if _, ok := m.records[rk]; !ok {
		return fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	delete(m.records, rk)
	return nil
}
