package quota

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

func newMiniRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:quota:"), mr
}

func TestRedisStoreConsume(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	ctx := t.Context()
	now := time.Now()
	reset := now.Add(24 * time.Hour).Truncate(time.Millisecond)

	for i := 1; i <= 2; i++ {
		rec, ok, err := store.Consume(ctx, "group:-7", 2, now, reset)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, rec.Count)
		assert.True(t, rec.ResetAt.Equal(reset))
	}
	rec, ok, err := store.Consume(ctx, "group:-7", 2, now, reset)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, rec.Count)

	assert.True(t, mr.Exists("test:quota:group:-7"))
	assert.Positive(t, mr.TTL("test:quota:group:-7"))

	peeked, found, err := store.Peek(ctx, "group:-7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, peeked.Count)
	assert.True(t, peeked.ResetAt.Equal(reset))
}

func TestRedisStoreRollover(t *testing.T) {
	store, _ := newMiniRedisStore(t)
	ctx := t.Context()
	now := time.Now()
	first := now.Add(time.Hour).Truncate(time.Millisecond)
	second := now.Add(8 * 24 * time.Hour).Truncate(time.Millisecond)

	_, _, err := store.Consume(ctx, "user:5", 1, now, first)
	require.NoError(t, err)
	_, ok, err := store.Consume(ctx, "user:5", 1, now, first)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err := store.Consume(ctx, "user:5", 1, first.Add(time.Second), second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.ResetAt.Equal(second))
}

func TestRedisStoreReset(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	ctx := t.Context()
	now := time.Now()

	_, _, err := store.Consume(ctx, "user:9", 3, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "user:9"))
	assert.False(t, mr.Exists("test:quota:user:9"))

	_, found, err := store.Peek(ctx, "user:9")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, store.Close())
}

func TestRedisStoreErrorsAreCacheCategory(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	mr.Close()

	_, _, err := store.Consume(t.Context(), "user:3", 1, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCache))

	err = store.Reset(t.Context(), "user:3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCache))
}
