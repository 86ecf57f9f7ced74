package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "pagepack:ratelimit:"

// incrementScript sets the expiry only on the first hit of a window
var incrementScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisStore keeps counters in Redis or a compatible server (Dragonfly, Valkey, KeyDB)
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to url (redis://[user:password@]host:port[/db])
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for rate limiting")

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the current count for key
func (s *RedisStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	prefixedKey := redisKeyPrefix + key

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, prefixedKey)
	ttlCmd := pipe.PTTL(ctx, prefixedKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, err
	}

	countStr, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}

	ttl, _ := ttlCmd.Result()
	return count, time.Now().Add(ttl), nil
}

// Increment bumps the counter for key
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	result, err := incrementScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment rate limit counter in Redis")
		return 0, err
	}
	return result, nil
}

// Reset drops the counter for key
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
