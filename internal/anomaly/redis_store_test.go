package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisWindowStore_AppendTrims(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRedisWindowStore(client, time.Hour)
	ctx := context.Background()

	var window []Vector
	var err error
	for i := 0; i < 70; i++ {
		window, err = store.Append(ctx, "checkout", Vector{0.01, float64(i), 20}, 64)
		require.NoError(t, err)
	}

	require.Len(t, window, 64)
	assert.Equal(t, 6.0, window[0][1], "oldest entries are evicted first")
	assert.Equal(t, 69.0, window[63][1])
}

func TestRedisWindowStore_Expires(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisWindowStore(client, 10*time.Minute)
	ctx := context.Background()

	_, err := store.Append(ctx, "checkout", Vector{1, 2, 3}, 64)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL(windowKeyPrefix+"checkout"))

	mr.FastForward(11 * time.Minute)

	window, err := store.Append(ctx, "checkout", Vector{4, 5, 6}, 64)
	require.NoError(t, err)
	assert.Equal(t, []Vector{{4, 5, 6}}, window)
}

func TestRedisWindowStore_SharedBetweenDetectors(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	// two workers writing to the same service see one window
	a := NewRedisWindowStore(client, 0)
	b := NewRedisWindowStore(client, 0)

	_, err := a.Append(ctx, "checkout", Vector{1, 1, 1}, 64)
	require.NoError(t, err)
	window, err := b.Append(ctx, "checkout", Vector{2, 2, 2}, 64)
	require.NoError(t, err)

	assert.Equal(t, []Vector{{1, 1, 1}, {2, 2, 2}}, window)
}

func TestRedisWindowStore_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisWindowStore(client, 0)
	mr.Close()

	_, err := store.Append(context.Background(), "checkout", Vector{1, 2, 3}, 64)
	require.Error(t, err)
}

func TestMemoryWindowStore_Bounded(t *testing.T) {
	store := NewMemoryWindowStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, "checkout", Vector{float64(i)}, 3)
		require.NoError(t, err)
	}
	window, err := store.Append(ctx, "checkout", Vector{5}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Vector{{3}, {4}, {5}}, window)
}
