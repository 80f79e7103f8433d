package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"loadline/internal/capacity"
	"loadline/internal/config"
	"loadline/internal/domain"
	"loadline/internal/events"
	"loadline/internal/lifecycle"
	"loadline/internal/lock"
	"loadline/internal/repo"
	"loadline/internal/retry"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 10 * time.Second
)

// Engine records allocations for one organization and keeps its conflict
// rows consistent with them.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Locker   lock.Locker
	LockTTL  time.Duration
	LockWait time.Duration
	Retry    *retry.Config
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
	NewID    func() string

	validate *validator.Validate
}

type Option func(*Engine)

func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.Locker = l } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.Logger = l } }

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.Now = now
		e.Events.Now = now
	}
}

// WithLockTiming sets how long a lock is held at most and how long callers
// wait for it.
func WithLockTiming(ttl, wait time.Duration) Option {
	return func(e *Engine) {
		e.LockTTL = ttl
		e.LockWait = wait
	}
}

func WithRetry(cfg *retry.Config) Option { return func(e *Engine) { e.Retry = cfg } }

func New(db *sql.DB, cfg *config.Config, opts ...Option) Engine {
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{Now: time.Now},
		Config:   cfg,
		LockTTL:  defaultLockTTL,
		LockWait: defaultLockWait,
		Retry:    retry.DefaultConfig(),
		Logger:   zap.NewNop(),
		Tracer:   otel.Tracer("loadline/engine"),
		Now:      time.Now,
		NewID:    uuid.NewString,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.Locker == nil {
		e.Locker = lock.NewMemoryLocker(e.Logger)
	}
	e.Logger = e.Logger.Named("engine")
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return otel.Tracer("loadline/engine")
	}
	return e.Tracer
}

func (e Engine) orgID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Organization.ID
}

func (e Engine) lifecycle() lifecycle.Manager {
	name := ""
	if e.Config != nil {
		name = e.Config.Conflicts.Recurrence
	}
	m := lifecycle.NewManager(e.Repo, e.Events, lifecycle.PolicyFor(name), e.logger())
	m.Now = e.Now
	m.NewID = e.NewID
	return m
}

// calendar reads capacity entries through tx so a recomputation sees one
// consistent snapshot.
func (e Engine) calendar(tx *sql.Tx) capacity.Calendar {
	hours := 8.0
	if e.Config != nil && e.Config.Capacity.DefaultHours > 0 {
		hours = e.Config.Capacity.DefaultHours
	}
	return capacity.New(capacity.SourceFunc(func(ctx context.Context, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
		return e.Repo.CapacityHoursTx(ctx, tx, workspaceID, userID, rng)
	}), hours)
}

// InitOrganization creates the organization and seeds its default policy.
func (e Engine) InitOrganization(ctx context.Context, orgID, name string) (domain.Organization, error) {
	if orgID == "" {
		return domain.Organization{}, fmt.Errorf("organization id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	org := domain.Organization{ID: orgID, Name: name, CreatedAt: e.timestamp()}
	if org.Name == "" {
		org.Name = orgID
	}
	if err := e.Repo.EnsureOrg(ctx, tx, org.ID, org.Name, org.CreatedAt); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	cfg := e.Config
	if cfg == nil || cfg.Organization.ID != orgID {
		cfg = config.Default(orgID)
	}
	if err := e.Repo.UpsertOrgConfigTx(ctx, tx, orgID, cfg); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return org, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
