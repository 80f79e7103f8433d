package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loadline/internal/apperrors"
	"loadline/internal/testhelpers"
)

// exerciseLocker checks the shared contract against any backend.
func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()
	key := ResourceKey(uuid.NewString())

	first, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	ok, err := first.Valid(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	_, err = l.Acquire(waitCtx, key, 5*time.Second)
	cancel()
	var timeout *apperrors.LockTimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)

	require.NoError(t, first.Release(ctx))

	short, err := l.Acquire(ctx, key, 300*time.Millisecond)
	require.NoError(t, err)
	waitCtx, cancel = context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	next, err := l.Acquire(waitCtx, key, 5*time.Second)
	require.NoError(t, err, "lapsed lease must be taken over")
	ok, err = short.Valid(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, next.Release(ctx))
}

// exerciseArrivalOrder checks that waiters on one key are served in the
// order they started waiting.
func exerciseArrivalOrder(t *testing.T, l Locker) {
	ctx := context.Background()
	key := ResourceKey(uuid.NewString())

	holder, err := l.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	order := make(chan string, 2)
	errs := make(chan error, 2)
	wait := func(name string) {
		lease, err := l.Acquire(ctx, key, 10*time.Second)
		if err != nil {
			errs <- err
			return
		}
		order <- name
		time.Sleep(50 * time.Millisecond)
		errs <- lease.Release(ctx)
	}
	go wait("first")
	time.Sleep(150 * time.Millisecond)
	go wait("second")
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, holder.Release(ctx))
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, "first", <-order)
	assert.Equal(t, "second", <-order)
}

func TestRedisLockerContract(t *testing.T) {
	r := testhelpers.GetRedis(t)
	exerciseLocker(t, NewRedisLocker(r.Client, zap.NewNop()))
}

func TestPostgresLockerContract(t *testing.T) {
	pg := testhelpers.GetPostgres(t)
	exerciseLocker(t, NewPostgresLocker(pg.Pool, zap.NewNop()))
	exerciseArrivalOrder(t, NewPostgresLocker(pg.Pool, zap.NewNop()))
}

func TestMemoryLockerContract(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker(zap.NewNop()))
	exerciseArrivalOrder(t, NewMemoryLocker(zap.NewNop()))
}
