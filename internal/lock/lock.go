// Package lock provides the per-resource exclusive lock that serializes
// recomputation. Every backend honours the same contract: Acquire blocks until
// the lock is held or ctx ends, and a held lock lapses after its TTL so a
// crashed holder cannot wedge a resource.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock.
type Lease interface {
	Key() string
	// Valid reports whether the lease is still held. It turns false once the
	// TTL elapses or the lease is released.
	Valid(ctx context.Context) (bool, error)
	// Release gives the lock up. Releasing a lapsed lease returns
	// apperrors.ErrLockLost.
	Release(ctx context.Context) error
}

type Locker interface {
	// Acquire returns *apperrors.LockTimeoutError when ctx ends first.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ResourceKey is the lock key guarding one resource's conflict state.
func ResourceKey(resourceID string) string {
	return "loadline:resource:" + resourceID
}
