package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keyPrefix           = "codegrade:lock:"
	defaultRetryBackoff = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a lock taken by another replica
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease based Locker shared by every replica that points
// at the same Redis
type RedisLocker struct {
	client  *redis.Client
	logger  *zap.Logger
	ttl     time.Duration
	backoff time.Duration
}

// RedisLockerOption defines a functional option for RedisLocker
type RedisLockerOption func(*RedisLocker)

// WithRetryBackoff sets the delay between acquisition attempts
func WithRetryBackoff(d time.Duration) RedisLockerOption {
	return func(r *RedisLocker) {
		r.backoff = d
	}
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block a key.
func NewRedisLocker(client *redis.Client, logger *zap.Logger, ttl time.Duration, opts ...RedisLockerOption) *RedisLocker {
	r := &RedisLocker{
		client:  client,
		logger:  logger,
		ttl:     ttl,
		backoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock polls SET NX PX until the key is taken or ctx is done
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(r.backoff):
		}
	}

	return func() {
		// release must run even when the caller's ctx is already done
		releaseCtx, cancel := context.WithTimeout(context.Background(), r.ttl)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			r.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Ping checks the Redis connection
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
