package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"loadline/internal/apperrors"
	"loadline/internal/domain"
	"loadline/internal/lock"
	"loadline/internal/repo"
)

// ConflictQuery narrows ListConflicts. Nil fields do not filter.
type ConflictQuery struct {
	Resolved *bool
	Range    *domain.DateRange
	Severity domain.Severity
	Limit    int
}

// ListConflicts returns the resource's conflicts ordered by day. An empty
// resourceID lists the whole organization.
func (e Engine) ListConflicts(ctx context.Context, resourceID string, q ConflictQuery) ([]domain.ResourceConflict, error) {
	if q.Range != nil && !q.Range.Valid() {
		return nil, apperrors.NewValidation(apperrors.InvalidDateRange, "range", "end %s precedes start %s", q.Range.End, q.Range.Start)
	}
	return e.Repo.ListConflicts(ctx, repo.ConflictFilters{
		OrganizationID: e.orgID(),
		ResourceID:     resourceID,
		Resolved:       q.Resolved,
		Range:          q.Range,
		Severity:       q.Severity,
		Limit:          q.Limit,
	})
}

func (e Engine) GetConflict(ctx context.Context, id string) (domain.ResourceConflict, error) {
	return e.Repo.GetConflict(ctx, id)
}

// ResolveConflict marks an open conflict resolved by userID. It takes the
// same per-resource lock as recomputation so it cannot interleave with one.
// Resolving an already resolved row returns apperrors.ErrAlreadyResolved and
// changes nothing.
func (e Engine) ResolveConflict(ctx context.Context, conflictID, userID, note string) (domain.ResourceConflict, error) {
	ctx, span := e.tracer().Start(ctx, "loadline.resolve_conflict", trace.WithAttributes(
		attribute.String("loadline.conflict_id", conflictID),
	))
	defer span.End()

	c, err := e.Repo.GetConflict(ctx, conflictID)
	if err != nil {
		return domain.ResourceConflict{}, err
	}
	if c.Resolved {
		return c, apperrors.ErrAlreadyResolved
	}

	wait := e.LockWait
	if wait <= 0 {
		wait = defaultLockWait
	}
	ttl := e.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	lease, err := e.Locker.Acquire(lockCtx, lock.ResourceKey(c.ResourceID), ttl)
	cancel()
	if err != nil {
		return c, err
	}
	acquired := time.Now()
	work := context.WithoutCancel(ctx)
	defer lease.Release(work)

	tx, err := e.DB.BeginTx(work, nil)
	if err != nil {
		return c, &apperrors.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	resolved, err := e.lifecycle().Resolve(work, tx, conflictID, userID, note)
	if err != nil {
		return resolved, err
	}
	if ok, err := lease.Valid(work); err != nil || !ok {
		return c, apperrors.ErrLockLost
	}
	if err := tx.Commit(); err != nil {
		return c, &apperrors.StorageError{Op: "commit", Err: err}
	}
	e.logger().Info("conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("resource_id", c.ResourceID),
		zap.String("resolved_by", userID),
		zap.Duration("lock_held", time.Since(acquired)))
	return resolved, nil
}
