package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the window counter and starts the window on first use.
// It returns {count, pttl_ms}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares windows across gateway instances through Redis.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore creates a store using client. prefix namespaces the keys.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Connect initializes a Redis client from URL or host:port input and checks
// connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, d time.Duration, now time.Time) (int, time.Time, error) {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, ms).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected reply length %d", ErrStoreUnavailable, len(res))
	}

	return int(res[0]), now.Add(time.Duration(res[1]) * time.Millisecond), nil
}
