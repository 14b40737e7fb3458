package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	fiterrors "fitcore/internal/errors"
)

// StoreContractSuite runs the Store contract against one backend.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreContractSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, uuid.New(), KeyUpdateCounter)
	s.True(errors.Is(err, fiterrors.ErrPersistentIDNotFound))
	s.True(fiterrors.IsNotFound(err))
}

func (s *StoreContractSuite) TestPutGetOverwrite() {
	c := uuid.New()
	s.Require().NoError(s.store.Put(s.ctx, c, 7, []byte("one")))
	s.Require().NoError(s.store.Put(s.ctx, c, 7, []byte("two")))

	v, err := s.store.Get(s.ctx, c, 7)
	s.Require().NoError(err)
	s.Equal([]byte("two"), v)

	_, err = s.store.Get(s.ctx, uuid.New(), 7)
	s.True(errors.Is(err, fiterrors.ErrPersistentIDNotFound))
}

func (s *StoreContractSuite) TestContainersAreIsolated() {
	a, b := uuid.New(), uuid.New()
	s.Require().NoError(s.store.Put(s.ctx, a, KeyUpdateCounter, []byte{1}))
	s.Require().NoError(s.store.Put(s.ctx, b, KeyUpdateCounter, []byte{2}))

	va, err := s.store.Get(s.ctx, a, KeyUpdateCounter)
	s.Require().NoError(err)
	vb, err := s.store.Get(s.ctx, b, KeyUpdateCounter)
	s.Require().NoError(err)
	s.Equal([]byte{1}, va)
	s.Equal([]byte{2}, vb)
}

func (s *StoreContractSuite) TestCreate() {
	c := uuid.New()
	s.Require().NoError(s.store.Create(s.ctx, c, 3, 4))

	v, err := s.store.Get(s.ctx, c, 3)
	s.Require().NoError(err)
	s.Equal(make([]byte, 4), v)

	s.NoError(s.store.Create(s.ctx, c, 3, 4))
	err = s.store.Create(s.ctx, c, 3, 8)
	s.True(errors.Is(err, fiterrors.ErrInvalidParameter))
}

func (s *StoreContractSuite) TestDelete() {
	c := uuid.New()
	s.Require().NoError(s.store.Put(s.ctx, c, 5, []byte("x")))
	s.Require().NoError(s.store.Delete(s.ctx, c, 5))

	_, err := s.store.Get(s.ctx, c, 5)
	s.True(errors.Is(err, fiterrors.ErrPersistentIDNotFound))

	err = s.store.Delete(s.ctx, c, 5)
	s.True(errors.Is(err, fiterrors.ErrPersistentIDNotFound))
}

func (s *StoreContractSuite) TestInvalidKey() {
	c := uuid.New()
	for _, k := range []KeyID{0, MaxKeyID + 1} {
		err := s.store.Put(s.ctx, c, k, []byte("x"))
		s.True(errors.Is(err, fiterrors.ErrInvalidParameter), "key %d", k)
	}
}

func (s *StoreContractSuite) TestCounterHelpers() {
	c := uuid.New()
	_, found, err := ReadCounter(s.ctx, s.store, c)
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(WriteCounter(s.ctx, s.store, c, 42))
	v, found, err := ReadCounter(s.ctx, s.store, c)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(uint32(42), v)

	s.Require().NoError(s.store.Put(s.ctx, c, KeyUpdateCounter, []byte{1, 2}))
	_, _, err = ReadCounter(s.ctx, s.store, c)
	s.True(errors.Is(err, fiterrors.ErrStorageCorrupt))
}

func TestMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) Store {
		return NewMemoryStore()
	}})
}

func TestLogStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		s, err := OpenLogStore(NewMemMedium(4096), nil)
		require.NoError(t, err)
		return s
	}})
}

func TestRedisStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return NewRedisStore(rdb, "test")
	}})
}
