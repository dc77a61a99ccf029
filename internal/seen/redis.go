package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bullhorn:seen:"

// RedisStore implements Store backed by Redis. SETNX gives the atomic
// check-and-set; keys are written without expiry since unbounded growth is an
// accepted trade-off for a low-rate, per-identity stream.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedis connects to the Redis instance at the given URL
// (redis:// or rediss://) and fails fast if it is unreachable.
func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) TryMarkSeen(ctx context.Context, id string) (bool, error) {
	first, err := s.rdb.SetNX(ctx, redisKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return first, nil
}

func (s *RedisStore) Dump(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("dump seen events: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
