package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLock is a single-key lease shared by every process signing with the
// same identity. The TTL bounds how long a crashed holder blocks the others.
type RedisLock struct {
	client       redisClient
	key          string
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedisLock(client redisClient, key string, ttl, pollInterval time.Duration) *RedisLock {
	return &RedisLock{
		client:       client,
		key:          key,
		ttl:          ttl,
		pollInterval: pollInterval,
	}
}

// Obtain polls SET NX until the key is free or ctx is done.
func (l *RedisLock) Obtain(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redislock: setnx %s: %w", l.key, err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release deletes the key only if it still carries token.
func (l *RedisLock) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redislock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redislock: %s no longer held by this process", l.key)
	}
	return nil
}
