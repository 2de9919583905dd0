package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("session store unavailable")

// RedisStore keeps sessions in Redis so several server instances can share
// them. Each session is a JSON value under <prefix>:session:<id>.
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, idleTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "vh"
	}
	return &RedisStore{redis: rdb, prefix: prefix, idleTTL: idleTTL}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.redis.Set(ctx, r.key(s.ID), data, r.idleTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Touch(ctx context.Context, id string) error {
	var (
		ok  bool
		err error
	)
	if r.idleTTL > 0 {
		ok, err = r.redis.Expire(ctx, r.key(id), r.idleTTL).Result()
	} else {
		var n int64
		n, err = r.redis.Exists(ctx, r.key(id)).Result()
		ok = n > 0
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Len counts session keys with SCAN. It is meant for metrics, not hot paths.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.redis.Scan(ctx, 0, r.prefix+":session:*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (r *RedisStore) Close() error {
	return r.redis.Close()
}
