package redis

import (
	"context"
	"fmt"
	"time"

	"trading-signal/internal/breaker"

	goredis "github.com/go-redis/redis/v8"
)

// CacheStore keeps signal cache entries as Redis hashes with a key-level
// expiry.
type CacheStore struct {
	base
}

// NewCacheStore creates a cache store. cb may be nil.
func NewCacheStore(client *goredis.Client, timeout time.Duration, cb *breaker.Breaker) *CacheStore {
	return &CacheStore{base: newBase(client, timeout, cb)}
}

// Get returns all hash fields under key, or nil on a miss.
func (s *CacheStore) Get(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		fields, err = s.client.HGetAll(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Put replaces the hash under key and sets its expiry in one MULTI/EXEC.
func (s *CacheStore) Put(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, values...)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis cache put %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key. A missing key is not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, func(ctx context.Context) error {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis cache delete %s: %w", key, err)
		}
		return nil
	})
}
