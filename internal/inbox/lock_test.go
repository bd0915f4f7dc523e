package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	l, _ := testLocker(t)
	ctx := context.Background()

	release, ok := l.Acquire(ctx, "brightside", time.Minute)
	require.True(t, ok)

	_, ok = l.Acquire(ctx, "brightside", time.Minute)
	assert.False(t, ok, "second acquire must be denied")

	// A different mailbox is an independent lease.
	release2, ok := l.Acquire(ctx, "other-client", time.Minute)
	require.True(t, ok)
	release2()

	release()
	_, ok = l.Acquire(ctx, "brightside", time.Minute)
	assert.True(t, ok, "released lease can be re-acquired")
}

func TestRedisLockerExpires(t *testing.T) {
	l, mr := testLocker(t)
	ctx := context.Background()

	_, ok := l.Acquire(ctx, "brightside", time.Minute)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok = l.Acquire(ctx, "brightside", time.Minute)
	assert.True(t, ok, "lease must expire with its TTL")
}

func TestRedisLockerStaleReleaseIsHarmless(t *testing.T) {
	l, mr := testLocker(t)
	ctx := context.Background()

	staleRelease, ok := l.Acquire(ctx, "brightside", time.Minute)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)

	_, ok = l.Acquire(ctx, "brightside", time.Minute)
	require.True(t, ok)

	// The expired holder's release must not free the new lease.
	staleRelease()
	_, ok = l.Acquire(ctx, "brightside", time.Minute)
	assert.False(t, ok)
}

func TestNoopLockerAlwaysGrants(t *testing.T) {
	l := NoopLocker()
	release, ok := l.Acquire(context.Background(), "anything", time.Second)
	require.True(t, ok)
	release()
	_, ok = l.Acquire(context.Background(), "anything", time.Second)
	assert.True(t, ok)
}
