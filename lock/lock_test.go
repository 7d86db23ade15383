package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// exerciseMutualExclusion runs n goroutines on one key and fails if two are
// ever inside the critical section together
func exerciseMutualExclusion(t *testing.T, l Locker, n int) {
	t.Helper()
	var inside, maxInside, total int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := l.Lock(ctx, "learner/exercise")
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inside, 1)
			for {
				prev := atomic.LoadInt32(&maxInside)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(n), total)
}

func TestMemoryLocker(t *testing.T) {
	t.Run("MutualExclusion", func(t *testing.T) {
		l := NewMemoryLocker()
		exerciseMutualExclusion(t, l, 20)
		assert.Zero(t, l.size(), "idle keys are dropped")
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		l := NewMemoryLocker()
		releaseA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer releaseA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		releaseB, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		releaseB()
	})

	t.Run("ContextExpires", func(t *testing.T) {
		l := NewMemoryLocker()
		release, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		require.ErrorIs(t, err, ErrNotAcquired)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		release()
		release() // second call is a no-op
		assert.Zero(t, l.size())
	})
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	t.Run("MutualExclusion", func(t *testing.T) {
		_, client := newTestRedis(t)
		l := NewRedisLocker(client, zaptest.NewLogger(t), 10*time.Second, WithRetryBackoff(time.Millisecond))
		exerciseMutualExclusion(t, l, 10)
	})

	t.Run("ReleaseDeletesKey", func(t *testing.T) {
		mr, client := newTestRedis(t)
		l := NewRedisLocker(client, zaptest.NewLogger(t), 10*time.Second)

		release, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, mr.Exists(keyPrefix+"k"))
		assert.Equal(t, 10*time.Second, mr.TTL(keyPrefix+"k"))

		release()
		assert.False(t, mr.Exists(keyPrefix+"k"))
	})

	t.Run("ReleaseKeepsForeignLease", func(t *testing.T) {
		mr, client := newTestRedis(t)
		l := NewRedisLocker(client, zaptest.NewLogger(t), time.Second)

		release, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)

		// our lease expired and another replica took the key
		mr.FastForward(2 * time.Second)
		require.NoError(t, mr.Set(keyPrefix+"k", "other-token"))

		release()
		got, err := mr.Get(keyPrefix + "k")
		require.NoError(t, err)
		assert.Equal(t, "other-token", got)
	})

	t.Run("ContextExpires", func(t *testing.T) {
		_, client := newTestRedis(t)
		l := NewRedisLocker(client, zaptest.NewLogger(t), 10*time.Second, WithRetryBackoff(5*time.Millisecond))

		release, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "k")
		require.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("ServerDown", func(t *testing.T) {
		mr, client := newTestRedis(t)
		l := NewRedisLocker(client, zaptest.NewLogger(t), time.Second)
		mr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := l.Lock(ctx, "k")
		require.Error(t, err)
		require.Error(t, l.Ping(ctx))
	})
}
