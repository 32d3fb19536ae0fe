// Package cache puts a Redis read-through cache in front of metals price
// lookups, which batch runs repeat for every lot valued on the same day.
package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	TLSEnabled bool   `mapstructure:"tls"`
}

// NewClient creates a Redis client and pings it.
func NewClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "cache: redis ping")
	}
	return rdb, nil
}

// HashStore is the subset of Redis the cache uses.
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
}

// RedisHashStore implements HashStore on a go-redis client.
type RedisHashStore struct {
	rdb *redis.Client
}

// NewRedisHashStore wraps rdb.
func NewRedisHashStore(rdb *redis.Client) *RedisHashStore {
	return &RedisHashStore{rdb: rdb}
}

func (s *RedisHashStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "cache: hgetall %s", key)
	}
	return vals, nil
}

// HSetWithTTL writes the hash and its expiry in one transaction.
func (s *RedisHashStore) HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "cache: hset %s", key)
	}
	return nil
}
