package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syssam/persist"
)

// client captures the subset of go-redis commands the cache relies on.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisConfig describes how the Redis cache connects.
type RedisConfig struct {
	// Client is used when set, otherwise a client is created from Addr.
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key, "persist:" by default.
	Prefix string
	// ScanCount is the COUNT hint of the SCAN calls issued by DeletePrefix.
	ScanCount int64
}

// Redis is a persist.Cache backed by Redis.
type Redis struct {
	client    client
	prefix    string
	scanCount int64
}

// NewRedis returns a Redis cache.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "persist:"
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	var cl client
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("cache: redis address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	}
	return &Redis{client: cl, prefix: cfg.Prefix, scanCount: cfg.ScanCount}, nil
}

// Get implements persist.Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	return b, nil
}

// Set implements persist.Cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements persist.Cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis del %q: %w", key, err)
	}
	return nil
}

// DeletePrefix implements persist.Cache with SCAN and DEL.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	return r.deleteMatch(ctx, r.prefix+prefix+"*")
}

// Clear implements persist.Cache. Only the keys under the configured
// prefix are removed.
func (r *Redis) Clear(ctx context.Context) error {
	return r.deleteMatch(ctx, r.prefix+"*")
}

func (r *Redis) deleteMatch(ctx context.Context, match string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, r.scanCount).Result()
		if err != nil {
			return fmt.Errorf("cache: redis scan %q: %w", match, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var _ persist.Cache = (*Redis)(nil)
