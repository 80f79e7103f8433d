package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"loadline/internal/apperrors"
)

// PostgresLocker uses session-level advisory locks. Each lease pins one pool
// connection; the TTL is enforced locally by unlocking and returning the
// connection when it lapses. Waiters block in pg_advisory_lock, so the
// server's lock queue grants them in arrival order.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresLocker(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLocker{pool: pool, logger: logger.Named("lock.postgres")}
}

var _ Locker = (*PostgresLocker)(nil)

func (l *PostgresLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	start := time.Now()
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &apperrors.LockTimeoutError{Key: key, Waited: time.Since(start), Err: err}
		}
		return nil, &apperrors.StorageError{Op: "acquire postgres connection", Err: err}
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		// The lock may have been granted just as the wait was cancelled;
		// closing the session drops it either way.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		if ctx.Err() != nil {
			return nil, &apperrors.LockTimeoutError{Key: key, Waited: time.Since(start), Err: err}
		}
		return nil, &apperrors.StorageError{Op: "advisory lock", Err: err}
	}
	lease := &pgLease{conn: conn, key: key, logger: l.logger}
	lease.timer = time.AfterFunc(ttl, lease.expire)
	return lease, nil
}

type pgLease struct {
	mu      sync.Mutex
	conn    *pgxpool.Conn
	key     string
	timer   *time.Timer
	done    bool
	expired bool
	logger  *zap.Logger
}

func (p *pgLease) Key() string { return p.key }

func (p *pgLease) Valid(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done, nil
}

func (p *pgLease) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		if p.expired {
			return apperrors.ErrLockLost
		}
		return nil
	}
	p.timer.Stop()
	return p.unlockLocked(ctx)
}

func (p *pgLease) expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.logger.Warn("advisory lock ttl elapsed; releasing", zap.String("key", p.key))
	p.expired = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.unlockLocked(ctx)
}

func (p *pgLease) unlockLocked(ctx context.Context) error {
	p.done = true
	_, err := p.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, p.key)
	if err != nil {
		// Closing the session drops every advisory lock it holds.
		_ = p.conn.Conn().Close(ctx)
	}
	p.conn.Release()
	return err
}
