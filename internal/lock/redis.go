package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loadline/internal/apperrors"
)

// RedisLocker backs the lock with a Redis key carrying a TTL, for deployments
// running several engine processes. Waiters poll, so arrival order is not
// strictly preserved across processes.
type RedisLocker struct {
	client *redislock.Client
	retry  time.Duration
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: redislock.New(rdb), retry: 50 * time.Millisecond, logger: logger.Named("lock.redis")}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	start := time.Now()
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
			return nil, &apperrors.LockTimeoutError{Key: key, Waited: time.Since(start), Err: err}
		}
		l.logger.Error("redis lock obtain failed", zap.String("key", key), zap.Error(err))
		return nil, &apperrors.StorageError{Op: "obtain redis lock", Err: err}
	}
	return &redisLease{lock: lk, key: key}, nil
}

type redisLease struct {
	lock *redislock.Lock
	key  string
}

func (r *redisLease) Key() string { return r.key }

func (r *redisLease) Valid(ctx context.Context) (bool, error) {
	ttl, err := r.lock.TTL(ctx)
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

func (r *redisLease) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return apperrors.ErrLockLost
	}
	return err
}
