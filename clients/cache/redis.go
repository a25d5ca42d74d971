package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinklegames/tinkle-proxy-service/logging"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisCache is an implementation of Cache that uses Redis as the caching backend.
type RedisCache struct {
	client *redis.Client
	*logging.ServiceLogger
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(
	cfg *RedisConfig,
	logger *logging.ServiceLogger,
) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client:        client,
		ServiceLogger: logger,
	}, nil
}

// Set sets the value for the given key in the cache with the given expiration.
func (rc *RedisCache) Set(
	ctx context.Context,
	key string,
	value []byte,
	expiration time.Duration,
) error {
	rc.Logger.Trace().
		Str("key", key).
		Int("size", len(value)).
		Dur("expiration", expiration).
		Msg("setting value in redis")

	// NoExpiration means cache indefinitely.
	if expiration == NoExpiration {
		// In redis zero expiration means the key has no expiration time.
		expiration = 0
	}

	return rc.client.Set(ctx, key, value, expiration).Err()
}

// Get gets the value for the given key in the cache.
func (rc *RedisCache) Get(
	ctx context.Context,
	key string,
) ([]byte, error) {
	rc.Logger.Trace().
		Str("key", key).
		Msg("getting value from redis")

	val, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		rc.Logger.Trace().
			Str("key", key).
			Msgf("value not found in redis")
		return nil, ErrNotFound
	}
	if err != nil {
		rc.Logger.Error().
			Str("key", key).
			Err(err).
			Msg("error during getting value from redis")
		return nil, err
	}

	rc.Logger.Trace().
		Str("key", key).
		Int("size", len(val)).
		Msg("successfully got value from redis")

	return val, nil
}

// Delete deletes the value for the given key in the cache.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	rc.Logger.Trace().
		Str("key", key).
		Msg("deleting value from redis")

	return rc.client.Del(ctx, key).Err()
}

// Keys walks the keyspace with SCAN collecting every key starting with prefix.
func (rc *RedisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	rc.Logger.Trace().
		Str("prefix", prefix).
		Msg("scanning keys in redis")

	var keys []string
	iter := rc.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		rc.Logger.Error().
			Str("prefix", prefix).
			Err(err).
			Msg("error during scanning keys in redis")
		return nil, err
	}

	return keys, nil
}

// SCAN MATCH treats these as pattern characters
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// Close releases the underlying redis connection pool
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) Healthcheck(ctx context.Context) error {
	rc.Logger.Trace().Msg("redis healthcheck was called")

	// Check if we can connect to Redis
	_, err := rc.client.Ping(ctx).Result()
	if err != nil {
		rc.Logger.Error().
			Err(err).
			Msg("can't ping redis")
		return fmt.Errorf("error connecting to Redis: %v", err)
	}

	rc.Logger.Trace().Msg("redis healthcheck was successful")

	return nil
}
