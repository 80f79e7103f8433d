package lock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"loadline/internal/apperrors"
)

// MemoryLocker is an in-process lock table. Waiters on a key are granted in
// arrival order; when the holder's TTL lapses the next waiter takes over.
type MemoryLocker struct {
	mu     sync.Mutex
	keys   map[string]*keyState
	seq    uint64
	logger *zap.Logger
}

type keyState struct {
	holder  uint64
	expires time.Time
	queue   []*waiter
}

type waiter struct {
	token   uint64
	ttl     time.Duration
	granted chan struct{}
}

func NewMemoryLocker(logger *zap.Logger) *MemoryLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLocker{keys: map[string]*keyState{}, logger: logger.Named("lock")}
}

var _ Locker = (*MemoryLocker)(nil)

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	start := time.Now()
	l.mu.Lock()
	st, ok := l.keys[key]
	if !ok {
		st = &keyState{}
		l.keys[key] = st
	}
	l.seq++
	w := &waiter{token: l.seq, ttl: ttl, granted: make(chan struct{})}
	st.queue = append(st.queue, w)
	l.promoteLocked(key, st)
	l.mu.Unlock()

	for {
		l.mu.Lock()
		wait := time.Millisecond
		if st.holder != 0 {
			if d := time.Until(st.expires); d > wait {
				wait = d
			}
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-w.granted:
			timer.Stop()
			return &memoryLease{locker: l, key: key, token: w.token}, nil
		case <-timer.C:
			l.mu.Lock()
			l.promoteLocked(key, st)
			l.mu.Unlock()
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			select {
			case <-w.granted:
				// Granted while we were giving up; hand it straight on.
				l.releaseLocked(key, w.token)
			default:
				l.dropWaiterLocked(key, st, w)
			}
			l.mu.Unlock()
			return nil, &apperrors.LockTimeoutError{Key: key, Waited: time.Since(start), Err: ctx.Err()}
		}
	}
}

// promoteLocked grants the head waiter if the key is free or its holder's TTL
// has lapsed.
func (l *MemoryLocker) promoteLocked(key string, st *keyState) {
	now := time.Now()
	if st.holder != 0 {
		if now.Before(st.expires) {
			return
		}
		l.logger.Warn("lock ttl elapsed; taking over", zap.String("key", key), zap.Uint64("token", st.holder))
		st.holder = 0
	}
	if len(st.queue) == 0 {
		delete(l.keys, key)
		return
	}
	w := st.queue[0]
	st.queue = st.queue[1:]
	st.holder = w.token
	st.expires = now.Add(w.ttl)
	close(w.granted)
}

func (l *MemoryLocker) releaseLocked(key string, token uint64) error {
	st, ok := l.keys[key]
	if !ok || st.holder != token {
		return apperrors.ErrLockLost
	}
	lapsed := !time.Now().Before(st.expires)
	st.holder = 0
	l.promoteLocked(key, st)
	if lapsed {
		return apperrors.ErrLockLost
	}
	return nil
}

func (l *MemoryLocker) dropWaiterLocked(key string, st *keyState, w *waiter) {
	for i, q := range st.queue {
		if q == w {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			break
		}
	}
	if st.holder == 0 && len(st.queue) == 0 {
		delete(l.keys, key)
	}
}

func (l *MemoryLocker) valid(key string, token uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.keys[key]
	return ok && st.holder == token && time.Now().Before(st.expires)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  uint64
	once   sync.Once
	err    error
}

func (m *memoryLease) Key() string { return m.key }

func (m *memoryLease) Valid(context.Context) (bool, error) {
	return m.locker.valid(m.key, m.token), nil
}

func (m *memoryLease) Release(context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		defer m.locker.mu.Unlock()
		m.err = m.locker.releaseLocked(m.key, m.token)
	})
	return m.err
}
