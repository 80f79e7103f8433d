package lock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loadline/internal/config"
)

// Open builds the configured backend. The returned close func releases any
// client connections.
func Open(ctx context.Context, cfg config.LockConfig, logger *zap.Logger) (Locker, func(), error) {
	switch cfg.Backend {
	case "", config.LockBackendMemory:
		return NewMemoryLocker(logger), func() {}, nil
	case config.LockBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisLocker(rdb, logger), func() { _ = rdb.Close() }, nil
	case config.LockBackendPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse postgres url: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return NewPostgresLocker(pool, logger), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
