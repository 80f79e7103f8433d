// Package testhelpers starts throwaway Redis and PostgreSQL containers for
// the distributed lock backends. Tests using it run only when
// LOADLINE_INTEGRATION=1 and not in -short mode, since they need Docker.
package testhelpers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func requireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	if os.Getenv("LOADLINE_INTEGRATION") != "1" {
		t.Skip("Skipping integration test; set LOADLINE_INTEGRATION=1 to run against Docker")
	}
}

type Redis struct {
	Container testcontainers.Container
	Client    *redis.Client
	Addr      string
}

type Postgres struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedRedis     *Redis
	sharedRedisOnce sync.Once
	sharedRedisErr  error

	sharedPG     *Postgres
	sharedPGOnce sync.Once
	sharedPGErr  error
)

// GetRedis returns a Redis container shared across the test run.
func GetRedis(t *testing.T) *Redis {
	t.Helper()
	requireIntegration(t)
	sharedRedisOnce.Do(func() {
		sharedRedis, sharedRedisErr = setupRedis()
	})
	if sharedRedisErr != nil {
		t.Fatalf("Failed to setup redis: %v", sharedRedisErr)
	}
	return sharedRedis
}

// GetPostgres returns a PostgreSQL container shared across the test run.
func GetPostgres(t *testing.T) *Postgres {
	t.Helper()
	requireIntegration(t)
	sharedPGOnce.Do(func() {
		sharedPG, sharedPGErr = setupPostgres()
	})
	if sharedPGErr != nil {
		t.Fatalf("Failed to setup postgres: %v", sharedPGErr)
	}
	return sharedPG
}

func setupRedis() (*Redis, error) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	addr := fmt.Sprintf("%s:%s", host, port.Port())
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{Container: container, Client: client, Addr: addr}, nil
}

func setupPostgres() (*Postgres, error) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "loadline",
				"POSTGRES_USER":     "loadline",
				"POSTGRES_PASSWORD": "test_password",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	connStr := fmt.Sprintf("postgres://loadline:test_password@%s:%s/loadline?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{Container: container, Pool: pool, ConnStr: connStr}, nil
}
