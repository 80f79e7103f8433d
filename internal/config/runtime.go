package config

import (
	"fmt"
	"time"
)

// Runtime holds process-level settings resolved from flags, LOADLINE_* env
// vars and .env. Policy lives in Config; this is how the process runs.
type Runtime struct {
	Workspace    string
	Organization string
	Actor        string
	Lock         LockConfig
	Logging      LoggingConfig
}

type LockConfig struct {
	Backend string // memory | redis | postgres
	TTL     time.Duration
	Wait    time.Duration
	Redis   RedisConfig
	// PostgresURL is a pgx connection string used for advisory locks.
	PostgresURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level string
	File  string
	JSON  bool
}

const (
	LockBackendMemory   = "memory"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

func DefaultRuntime() Runtime {
	return Runtime{
		Workspace: ".",
		Actor:     "local-user",
		Lock: LockConfig{
			Backend: LockBackendMemory,
			TTL:     30 * time.Second,
			Wait:    10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (r Runtime) Validate() error {
	switch r.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if r.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock backend redis requires redis address")
		}
	case LockBackendPostgres:
		if r.Lock.PostgresURL == "" {
			return fmt.Errorf("lock backend postgres requires a postgres url")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", r.Lock.Backend)
	}
	if r.Lock.TTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	if r.Lock.Wait <= 0 {
		return fmt.Errorf("lock wait must be positive")
	}
	return nil
}
