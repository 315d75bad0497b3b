package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an already-configured Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Available(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	values := make([]*string, len(raw))
	for index, entry := range raw {
		if text, ok := entry.(string); ok {
			copied := text
			values[index] = &copied
		}
	}
	return values, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	members := make([]ScoredMember, 0, len(entries))
	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}
		members = append(members, ScoredMember{Member: member, Score: entry.Score})
	}
	return members, nil
}

func (s *RedisStore) Batch() Batch {
	return &redisBatch{pipe: s.client.TxPipeline()}
}

type redisBatch struct {
	pipe redis.Pipeliner
}

func (b *redisBatch) Set(key, value string) {
	b.pipe.Set(context.Background(), key, value, redis.KeepTTL)
}

func (b *redisBatch) SetWithTTL(key, value string, ttl time.Duration) {
	b.pipe.Set(context.Background(), key, value, ttl)
}

func (b *redisBatch) ZAdd(key string, score float64, member string) {
	b.pipe.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member})
}

func (b *redisBatch) Incr(key string) {
	b.pipe.Incr(context.Background(), key)
}

func (b *redisBatch) Expire(key string, ttl time.Duration) {
	b.pipe.Expire(context.Background(), key, ttl)
}

func (b *redisBatch) Exec(ctx context.Context) error {
	_, err := b.pipe.Exec(ctx)
	return err
}
