package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore shares attempt counters between server instances. Each failure
// re-arms the counter's expiry, so the count only resets after a full window
// without failures.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rsvp:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) attemptsKey(key string) string { return s.prefix + "attempts:" + key }
func (s *RedisStore) lockKey(key string) string     { return s.prefix + "lock:" + key }

// Locked implements Store.
func (s *RedisStore) Locked(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, s.lockKey(key)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read lockout: %w", err)
	}
	// PTTL returns negative values for missing keys or keys without expiry.
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// RecordFailure implements Store.
func (s *RedisStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	k := s.attemptsKey(key)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return int(incr.Val()), nil
}

// Lock implements Store.
func (s *RedisStore) Lock(ctx context.Context, key string, d time.Duration) error {
	if err := s.client.Set(ctx, s.lockKey(key), "1", d).Err(); err != nil {
		return fmt.Errorf("failed to set lockout: %w", err)
	}
	return nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.attemptsKey(key), s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
