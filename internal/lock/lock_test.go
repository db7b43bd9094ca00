package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	first := NewRedisLocker(client, time.Minute, nil)
	second := NewRedisLocker(client, time.Minute, nil)

	require.NoError(t, first.Acquire(ctx, "bsc"))
	assert.True(t, mr.Exists(KeyPrefix+"bsc"))
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"bsc"))

	assert.ErrorIs(t, second.Acquire(ctx, "bsc"), ErrLocked)
	assert.ErrorIs(t, first.Acquire(ctx, "bsc"), ErrLocked)
	require.NoError(t, second.Acquire(ctx, "mst"), "other networks are independent")

	require.NoError(t, first.Release(ctx, "bsc"))
	assert.False(t, mr.Exists(KeyPrefix+"bsc"))
	require.NoError(t, second.Acquire(ctx, "bsc"))

	require.NoError(t, second.Release(ctx, "bsc"))
	require.NoError(t, second.Release(ctx, "mst"))
}

func TestRedisLocker_ReleaseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	first := NewRedisLocker(client, time.Minute, nil)
	require.NoError(t, first.Acquire(ctx, "bsc"))

	mr.FastForward(2 * time.Minute)
	second := NewRedisLocker(client, time.Minute, nil)
	require.NoError(t, second.Acquire(ctx, "bsc"))

	assert.ErrorIs(t, first.Release(ctx, "bsc"), ErrNotHeld)
	assert.True(t, mr.Exists(KeyPrefix+"bsc"), "a stale holder must not delete the new lock")
	require.NoError(t, second.Release(ctx, "bsc"))
}

func TestRedisLocker_Extend(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	l := NewRedisLocker(client, time.Minute, nil)
	require.NoError(t, l.Acquire(ctx, "bsc"))
	token := l.leases["bsc"].token

	mr.FastForward(40 * time.Second)
	held, err := l.extend(ctx, "bsc", token)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"bsc"))

	held, err = l.extend(ctx, "bsc", "someone-else")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, l.Release(ctx, "bsc"))
}

func TestRedisLocker_LostLeaseCancelsWatch(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	l := NewRedisLocker(client, 60*time.Millisecond, nil)
	require.NoError(t, l.Acquire(ctx, "bsc"))
	runCtx, stop := Watch(ctx, l, "bsc")
	defer stop()

	mr.Del(KeyPrefix + "bsc")

	select {
	case <-runCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run context was not cancelled after the lock was lost")
	}
	assert.ErrorIs(t, context.Cause(runCtx), ErrLockLost)
	assert.ErrorIs(t, l.Release(ctx, "bsc"), ErrNotHeld)
}

func TestWatch_StopDoesNotReportLoss(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	l := NewRedisLocker(client, time.Minute, nil)
	require.NoError(t, l.Acquire(ctx, "bsc"))
	runCtx, stop := Watch(ctx, l, "bsc")
	stop()

	<-runCtx.Done()
	assert.NotErrorIs(t, context.Cause(runCtx), ErrLockLost)
	require.NoError(t, l.Release(ctx, "bsc"))

	select {
	case <-l.Lost("bsc"):
	default:
		t.Fatal("Lost must be closed for a lock that is not held")
	}
}

func TestRedisLocker_ReleaseUnknown(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedisLocker(client, time.Minute, nil)
	assert.ErrorIs(t, l.Release(context.Background(), "bsc"), ErrNotHeld)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewLocalLocker(dir)
	require.NoError(t, err)
	second, err := NewLocalLocker(dir)
	require.NoError(t, err)

	require.NoError(t, first.Acquire(ctx, "bscTestnet"))
	assert.ErrorIs(t, second.Acquire(ctx, "bscTestnet"), ErrLocked)
	assert.ErrorIs(t, first.Acquire(ctx, "bscTestnet"), ErrLocked)
	require.NoError(t, second.Acquire(ctx, "mstTestnet"))

	require.NoError(t, first.Release(ctx, "bscTestnet"))
	require.NoError(t, second.Acquire(ctx, "bscTestnet"))

	assert.ErrorIs(t, first.Release(ctx, "bscTestnet"), ErrNotHeld)
	require.NoError(t, second.Release(ctx, "bscTestnet"))
	require.NoError(t, second.Release(ctx, "mstTestnet"))
}
