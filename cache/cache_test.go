package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist/schema"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	v, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, m.Set(ctx, "BOOK:1:id,name", []byte("a"), time.Minute))
	require.NoError(t, m.Set(ctx, "BOOK:1:id", []byte("b"), 0))
	require.NoError(t, m.Set(ctx, "BOOK:2:id", []byte("c"), 0))

	v, err = m.Get(ctx, "BOOK:1:id,name")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	now = now.Add(2 * time.Minute)
	v, err = m.Get(ctx, "BOOK:1:id,name")
	require.NoError(t, err)
	assert.Nil(t, v, "expired")

	require.NoError(t, m.DeletePrefix(ctx, "BOOK:1:"))
	v, _ = m.Get(ctx, "BOOK:1:id")
	assert.Nil(t, v)
	v, _ = m.Get(ctx, "BOOK:2:id")
	assert.Equal(t, []byte("c"), v)

	require.NoError(t, m.Delete(ctx, "BOOK:2:id"))
	assert.Zero(t, m.Len())
	require.NoError(t, m.Set(ctx, "x", nil, 0))
	require.NoError(t, m.Clear(ctx))
	assert.Zero(t, m.Len())
}

type fakeClient struct {
	data  map[string]string
	scans [][]string
	err   error
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Scan(_ context.Context, cursor uint64, match string, _ int64) *redis.ScanCmd {
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.scans = append(f.scans, keys)
	// Return the matches in two pages to exercise the cursor loop.
	if cursor == 0 && len(keys) > 1 {
		return redis.NewScanCmdResult(keys[:1], 7, nil)
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func TestRedis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fc := &fakeClient{data: map[string]string{"other": "x"}}
	r := &Redis{client: fc, prefix: "persist:", scanCount: 10}

	v, err := r.Get(ctx, "BOOK:1:id")
	require.NoError(t, err)
	assert.Nil(t, v, "redis.Nil is a miss")

	require.NoError(t, r.Set(ctx, "BOOK:1:id", []byte("a"), time.Minute))
	require.NoError(t, r.Set(ctx, "BOOK:1:id,name", []byte("b"), time.Minute))
	require.NoError(t, r.Set(ctx, "BOOK:2:id", []byte("c"), time.Minute))
	assert.Equal(t, "a", fc.data["persist:BOOK:1:id"])

	v, err = r.Get(ctx, "BOOK:1:id")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	require.NoError(t, r.DeletePrefix(ctx, "BOOK:1:"))
	assert.NotContains(t, fc.data, "persist:BOOK:1:id")
	assert.NotContains(t, fc.data, "persist:BOOK:1:id,name")
	assert.Contains(t, fc.data, "persist:BOOK:2:id")

	require.NoError(t, r.Delete(ctx, "BOOK:2:id"))
	require.NoError(t, r.Set(ctx, "BOOK:3:id", []byte("d"), 0))
	require.NoError(t, r.Clear(ctx))
	assert.Equal(t, map[string]string{"other": "x"}, fc.data, "keys outside the prefix survive")

	fc.err = errors.New("connection refused")
	_, err = r.Get(ctx, "BOOK:1:id")
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewRedis(t *testing.T) {
	t.Parallel()
	_, err := NewRedis(RedisConfig{})
	assert.Error(t, err)

	r, err := NewRedis(RedisConfig{Addr: "localhost:6379"})
	require.NoError(t, err)
	assert.Equal(t, "persist:", r.prefix)
	assert.EqualValues(t, 100, r.scanCount)
}

func TestRowCodec(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	b, err := EncodeRow(Row{"id": id, "edition": int64(3), "name": "GraphQL in Action", "createdAt": at, "store": nil})
	require.NoError(t, err)

	row, err := DecodeRow(b)
	require.NoError(t, err)
	for prop, kind := range map[string]schema.Kind{"id": schema.KindUUID, "edition": schema.KindInt, "createdAt": schema.KindTime} {
		row[prop], err = kind.Normalize(row[prop])
		require.NoError(t, err)
	}
	assert.Equal(t, id, row["id"])
	assert.Equal(t, int64(3), row["edition"])
	assert.Equal(t, "GraphQL in Action", row["name"])
	assert.True(t, at.Equal(row["createdAt"].(time.Time)))
	assert.Nil(t, row["store"])

	_, err = DecodeRow([]byte{0xc1})
	assert.Error(t, err)
}
