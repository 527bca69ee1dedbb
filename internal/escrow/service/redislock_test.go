package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the SET NX and script calls against a map.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	setErr  error
	setnxes int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setnxes++
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) compareAndDelete(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisLockObtainAndRelease(t *testing.T) {
	client := newFakeRedis()
	lock := NewRedisLock(client, "escrowd:signer", time.Minute, time.Millisecond)

	token, err := lock.Obtain(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, client.values["escrowd:signer"])

	require.NoError(t, lock.Release(context.Background(), token))
	require.NotContains(t, client.values, "escrowd:signer")
}

func TestRedisLockWaitsForHolder(t *testing.T) {
	client := newFakeRedis()
	first := NewRedisLock(client, "k", time.Minute, time.Millisecond)
	second := NewRedisLock(client, "k", time.Minute, time.Millisecond)

	token, err := first.Obtain(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Obtain(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Release(context.Background(), token))
	_, err = second.Obtain(context.Background())
	require.NoError(t, err)
}

func TestRedisLockReleaseKeepsForeignLease(t *testing.T) {
	client := newFakeRedis()
	lock := NewRedisLock(client, "k", time.Minute, time.Millisecond)
	client.values["k"] = "someone-else"

	require.Error(t, lock.Release(context.Background(), "mine"))
	require.Equal(t, "someone-else", client.values["k"])
}

func TestRedisLockSurfacesErrors(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("dial tcp: connection refused")
	lock := NewRedisLock(client, "k", time.Minute, time.Millisecond)

	_, err := lock.Obtain(context.Background())
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, client.setnxes)
}
