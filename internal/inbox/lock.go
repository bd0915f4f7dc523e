package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript releases the lease only when the token still matches,
// so an expired holder cannot release a successor's lease.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive leases so overlapping poll
// cycles (two workers, or one slow cycle meeting the next tick) never
// process the same mailbox twice.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool)
}

// RedisLocker implements Locker with a SET NX PX lease.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps a connected redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lease. ok is false when another holder has it or
// redis is unreachable; callers skip the cycle rather than risk a
// double poll.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	token := uuid.NewString()
	fullKey := "leadpilot:poll_lock:" + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, false
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return release, true
}

// noopLocker grants every acquire. Used when redis is not configured;
// single-process deployments get the same behavior without the dep.
type noopLocker struct{}

// NoopLocker returns a Locker that always grants the lease.
func NoopLocker() Locker { return noopLocker{} }

func (noopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	return func() {}, true
}
