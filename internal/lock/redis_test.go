package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	locker, err := NewRedisLocker(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = locker.Close()
	})
	return locker, server
}

func TestRedisLockerIsExclusiveUntilRelease(t *testing.T) {
	locker, server := setupRedisLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, DefaultKey, "run-a", time.Minute))
	require.ErrorIs(t, locker.Acquire(ctx, DefaultKey, "run-b", time.Minute), ErrLocked)

	require.NoError(t, locker.Release(ctx, DefaultKey, "run-b"))
	require.True(t, server.Exists(redisKeyPrefix+DefaultKey))

	require.NoError(t, locker.Release(ctx, DefaultKey, "run-a"))
	require.False(t, server.Exists(redisKeyPrefix+DefaultKey))

	require.NoError(t, locker.Acquire(ctx, DefaultKey, "run-b", time.Minute))
}

func TestRedisLockerLeaseExpires(t *testing.T) {
	locker, server := setupRedisLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.Acquire(ctx, DefaultKey, "crashed-run", time.Minute))
	server.FastForward(2 * time.Minute)

	require.NoError(t, locker.Acquire(ctx, DefaultKey, "next-run", time.Minute))
	value, err := server.Get(redisKeyPrefix + DefaultKey)
	require.NoError(t, err)
	require.Equal(t, "next-run", value)
}

func TestNewRedisLockerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLocker(context.Background(), "not-a-url")
	require.Error(t, err)
}
