package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "roster:lock:"

// Deletes the key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases in Redis using SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(ctx context.Context, redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("lock: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: connect to redis: %w", err)
	}

	return &RedisLocker{client: client}, nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire sets the lease key if it does not exist.
func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return errors.New("lock: redis locker not initialised")
	}
	if err := validate(key, owner); err != nil {
		return err
	}

	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquire %q: %w", key, err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Release removes the lease key when it still belongs to owner.
func (l *RedisLocker) Release(ctx context.Context, key, owner string) error {
	if l == nil || l.client == nil {
		return errors.New("lock: redis locker not initialised")
	}
	if err := validate(key, owner); err != nil {
		return err
	}

	if err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("lock: release %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
