package persist

import (
	"context"
	"time"
)

// Cache stores the encoded rows read by the fetch executor, keyed by
// CacheKey strings. The cache package has a memory and a Redis version.
type Cache interface {
	// Get returns nil and no error for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set keeps value for ttl, or until deleted when ttl is 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix evicts every shape of a row, see CacheKey.Prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

// CacheKey identifies a cached row.
type CacheKey struct {
	Table string
	// Shape is the signature of the fetched columns.
	Shape string
	ID    string
}

// String formats the key as TABLE:ID:SHAPE.
func (k CacheKey) String() string {
	return k.Table + ":" + k.ID + ":" + k.Shape
}

// Prefix returns the prefix shared by every cached shape of the row.
func (k CacheKey) Prefix() string {
	return k.Table + ":" + k.ID + ":"
}

type cacheBypassKey struct{}

// WithoutCache returns a context under which fetches read the database
// directly. The save engine uses it when re-fetching saved rows.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

// CacheBypassed reports whether ctx was derived from WithoutCache.
func CacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(cacheBypassKey{}).(bool)
	return v
}
