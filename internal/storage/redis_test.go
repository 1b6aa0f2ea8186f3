package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedis(t)

	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.SaveSession(ctx, "s1", "encrypted-payload", time.Hour))
	assert.True(t, mr.Exists("docsite:session:s1"))
	assert.Equal(t, time.Hour, mr.TTL("docsite:session:s1"))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "encrypted-payload", got)

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	assert.False(t, mr.Exists("docsite:session:s1"))
	assert.NoError(t, store.DeleteSession(ctx, "s1"))

	assert.NoError(t, store.Health(ctx))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedis(t)

	require.NoError(t, store.SaveSession(ctx, "s1", "p", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisStore(ctx, "not a url")
	assert.ErrorContains(t, err, "parse redis URL")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client)
	addr := mr.Addr()
	mr.Close()

	_, err = store.GetSession(ctx, "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	_, err = NewRedisStore(ctx, "redis://"+addr)
	assert.ErrorContains(t, err, "redis ping failed")
}
