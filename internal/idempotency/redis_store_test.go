package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url", time.Hour)
	assert.Error(t, err)
}

func TestReserveThenReplay(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	resp, err := store.Reserve(ctx, "user-1:key-1")
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = store.Reserve(ctx, "user-1:key-1")
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, store.Complete(ctx, "user-1:key-1", Response{
		Status: http.StatusCreated,
		Body:   json.RawMessage(`{"thread":{"id":"thr_1"}}`),
	}))

	replay, err := store.Reserve(ctx, "user-1:key-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, http.StatusCreated, replay.Status)
	assert.JSONEq(t, `{"thread":{"id":"thr_1"}}`, string(replay.Body))
	assert.False(t, replay.CreatedAt.IsZero())
}

func TestReleaseAllowsRetry(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k"))

	resp, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestReservationExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.True(t, s.Exists("idem:k"))

	s.FastForward(2 * time.Hour)

	resp, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestReserveCorruptValue(t *testing.T) {
	store, s := setupTestRedis(t)
	require.NoError(t, s.Set("idem:k", "{not json"))

	_, err := store.Reserve(context.Background(), "k")
	assert.Error(t, err)
}
