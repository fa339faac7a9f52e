package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis-compatible key-value service
// using fixed-window counters with TTL. INCR-then-expire is performed in one
// pipeline round trip; the NX expire means only the first increment of a
// window sets the TTL, so the window never slides.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Bucket, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	count, err := getCmd.Int()
	if err != nil {
		return nil, err
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		return nil, nil
	}
	return &Bucket{Count: count, ResetAt: time.Now().Add(ttl)}, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, b Bucket, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Until(b.ResetAt)
	}
	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	return s.client.Set(ctx, key, b.Count, ttl).Err()
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Bucket, error) {
	pipe := s.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Do(ctx, "PEXPIRE", key, window.Milliseconds(), "NX")
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Bucket{}, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = window
	}
	return Bucket{Count: int(incrCmd.Val()), ResetAt: time.Now().Add(ttl)}, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
