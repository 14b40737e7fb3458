package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	fiterrors "fitcore/internal/errors"
)

// RedisStore keeps records in Redis under "<prefix>:<container>:<key>".
// It suits fleets where several license daemons share one counter state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedisStore connects to addr and checks the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fiterrors.Wrap(fiterrors.CodeStorageIO, "persist.redis.dial", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

func (r *RedisStore) key(container uuid.UUID, key KeyID) string {
	return fmt.Sprintf("%s:%s:%06x", r.prefix, container.String(), uint32(key))
}

func (r *RedisStore) Get(ctx context.Context, container uuid.UUID, key KeyID) ([]byte, error) {
	const op = "persist.redis.get"
	if err := checkKey(op, key); err != nil {
		return nil, err
	}
	v, err := r.client.Get(ctx, r.key(container, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	if err != nil {
		return nil, fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	return v, nil
}

func (r *RedisStore) Put(ctx context.Context, container uuid.UUID, key KeyID, value []byte) error {
	const op = "persist.redis.put"
	if err := checkKey(op, key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(container, key), value, 0).Err(); err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	return nil
}

func (r *RedisStore) Create(ctx context.Context, container uuid.UUID, key KeyID, size int) error {
	const op = "persist.redis.create"
	if err := checkKey(op, key); err != nil {
		return err
	}
	if size < 0 {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	k := r.key(container, key)
	created, err := r.client.SetNX(ctx, k, make([]byte, size), 0).Result()
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	if created {
		return nil
	}
	n, err := r.client.StrLen(ctx, k).Result()
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	if int(n) != size {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, container uuid.UUID, key KeyID) error {
	const op = "persist.redis.delete"
	if err := checkKey(op, key); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.key(container, key)).Result()
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeStorageIO, op, err)
	}
	if n == 0 {
		return fiterrors.New(fiterrors.CodePersistentIDNotFound, op)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
