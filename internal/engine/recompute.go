package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"loadline/internal/aggregate"
	"loadline/internal/apperrors"
	"loadline/internal/classify"
	"loadline/internal/domain"
	"loadline/internal/lifecycle"
	"loadline/internal/lock"
	"loadline/internal/repo"
	"loadline/internal/retry"
)

type RecomputeRequest struct {
	ResourceID string
	Range      domain.DateRange
	// Reason is logged and traced; it has no effect on the result.
	Reason string
}

type RecomputeResult struct {
	ID         string                `json:"id"`
	ResourceID string                `json:"resource_id"`
	Range      domain.DateRange      `json:"range"`
	State      domain.RecomputeState `json:"state"`
	Days       int                   `json:"days"`
	Outcome    lifecycle.Outcome     `json:"outcome"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// run walks one request through the coordinator states.
type run struct {
	result *RecomputeResult
	logger *zap.Logger
	span   trace.Span
}

func (r *run) advance(to domain.RecomputeState) {
	if !r.result.State.CanTransition(to) {
		panic(fmt.Sprintf("recompute %s: illegal transition %s -> %s", r.result.ID, r.result.State, to))
	}
	r.result.State = to
	r.span.AddEvent(string(to))
	r.logger.Debug("recompute state", zap.String("state", string(to)))
}

func (r *run) fail(err error) error {
	r.result.State = domain.RecomputeFailed
	r.result.Error = err.Error()
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.logger.Warn("recompute failed", zap.Bool("retryable", apperrors.IsRetryable(err)), zap.Error(err))
	return err
}

// Recompute re-derives every day of req.Range for one resource under the
// resource's exclusive lock, inside a single transaction. It returns
// *apperrors.LockTimeoutError when the lock is not obtained in LockWait. Once
// the lock is held the work runs to commit or rollback even if ctx is
// cancelled, so callers that stop waiting never leave partial writes.
func (e Engine) Recompute(ctx context.Context, req RecomputeRequest) (RecomputeResult, error) {
	result := RecomputeResult{
		ID:         e.newID(),
		ResourceID: req.ResourceID,
		Range:      req.Range,
		State:      domain.RecomputeQueued,
		Days:       req.Range.Days(),
		StartedAt:  e.now(),
	}
	ctx, span := e.tracer().Start(ctx, "loadline.recompute", trace.WithAttributes(
		attribute.String("loadline.resource_id", req.ResourceID),
		attribute.String("loadline.range", req.Range.String()),
		attribute.String("loadline.reason", req.Reason),
	))
	defer func() {
		span.SetAttributes(attribute.String("loadline.state", string(result.State)))
		span.End()
	}()
	r := &run{
		result: &result,
		span:   span,
		logger: e.logger().With(
			zap.String("recompute_id", result.ID),
			zap.String("resource_id", req.ResourceID),
			zap.Stringer("range_start", req.Range.Start),
			zap.Stringer("range_end", req.Range.End),
		),
	}
	finish := func(err error) (RecomputeResult, error) {
		result.FinishedAt = e.now()
		if err != nil {
			return result, r.fail(err)
		}
		return result, nil
	}

	if req.ResourceID == "" {
		return finish(apperrors.NewValidation(apperrors.InvalidField, "resource_id", "resource is required"))
	}
	if !req.Range.Valid() {
		return finish(apperrors.NewValidation(apperrors.InvalidDateRange, "range", "end %s precedes start %s", req.Range.End, req.Range.Start))
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
	lease, err := e.Locker.Acquire(lockCtx, lock.ResourceKey(req.ResourceID), ttl)
	cancel()
	if err != nil {
		return finish(err)
	}
	work := context.WithoutCancel(ctx)
	defer func() {
		if err := lease.Release(work); err != nil && result.State == domain.RecomputeDone {
			r.logger.Warn("lock release after commit", zap.Error(err))
		}
	}()
	r.advance(domain.RecomputeLocked)

	outcome, err := e.recomputeLocked(work, r, lease, req)
	result.Outcome = outcome
	if err != nil {
		return finish(err)
	}
	r.advance(domain.RecomputeDone)
	r.logger.Info("recompute done",
		zap.String("reason", req.Reason),
		zap.Int("created", outcome.Created),
		zap.Int("updated", outcome.Updated),
		zap.Int("resolved", outcome.Resolved),
		zap.Int("reopened", outcome.Reopened),
		zap.Int("suppressed", outcome.Suppressed))
	return finish(nil)
}

func (e Engine) recomputeLocked(ctx context.Context, r *run, lease lock.Lease, req RecomputeRequest) (lifecycle.Outcome, error) {
	var none lifecycle.Outcome
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return none, &apperrors.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := e.Repo.GetResourceTx(ctx, tx, req.ResourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return none, apperrors.NewValidation(apperrors.ResourceNotFound, "resource_id", "resource %s does not exist", req.ResourceID)
	}
	if err != nil {
		return none, &apperrors.StorageError{Op: "load resource", Err: err}
	}

	r.advance(domain.RecomputeAggregating)
	loads, err := e.aggregator(tx).Aggregate(ctx, res.ID, req.Range)
	if err != nil {
		return none, &apperrors.StorageError{Op: "aggregate", Err: err}
	}
	caps, err := e.calendar(tx).CapacityForRange(ctx, res, req.Range)
	if err != nil {
		return none, &apperrors.StorageError{Op: "capacity", Err: err}
	}

	r.advance(domain.RecomputeClassifying)
	evals, err := e.classify(loads, caps)
	if err != nil {
		return none, err
	}

	r.advance(domain.RecomputeReconciling)
	outcome, err := e.lifecycle().Reconcile(ctx, tx, res, req.Range, evals)
	if err != nil {
		return outcome, err
	}
	if ok, err := lease.Valid(ctx); err != nil || !ok {
		if err == nil {
			err = apperrors.ErrLockLost
		}
		return outcome, fmt.Errorf("check lease before commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return outcome, &apperrors.StorageError{Op: "commit", Err: err}
	}
	return outcome, nil
}

func (e Engine) aggregator(tx *sql.Tx) aggregate.Aggregator {
	weight := aggregate.DefaultWeights
	if e.Config != nil {
		weight = e.Config.Weight
	}
	return aggregate.Aggregator{
		Source: aggregate.AllocationSourceFunc(func(ctx context.Context, resourceID string, rng domain.DateRange) ([]domain.ResourceAllocation, error) {
			return e.Repo.AllocationsInRangeTx(ctx, tx, resourceID, rng)
		}),
		Weight: weight,
	}
}

func (e Engine) classifier() (classify.Classifier, error) {
	return classify.FromConfig(e.Config)
}

func (e Engine) classify(loads aggregate.Loads, caps map[domain.Date]decimal.Decimal) (map[domain.Date]lifecycle.Evaluation, error) {
	c, err := e.classifier()
	if err != nil {
		return nil, err
	}
	evals := make(map[domain.Date]lifecycle.Evaluation, len(loads))
	for day, load := range loads {
		capacity, ok := caps[day]
		if !ok {
			capacity = hundred
		}
		evals[day] = lifecycle.Evaluation{
			Load:     load,
			Capacity: capacity,
			Severity: c.Classify(load.Total, capacity),
		}
	}
	return evals, nil
}

// RecomputeWithRetry retries Recompute on retryable failures using e.Retry.
func (e Engine) RecomputeWithRetry(ctx context.Context, req RecomputeRequest) (RecomputeResult, error) {
	return retry.DoWithResult(ctx, e.Retry, func() (RecomputeResult, error) {
		return e.Recompute(ctx, req)
	})
}

// DayView is a read-only projection of one day's load for operators.
type DayView struct {
	Date         domain.Date          `json:"date"`
	Total        decimal.Decimal      `json:"total"`
	Capacity     decimal.Decimal      `json:"capacity"`
	Hours        decimal.Decimal      `json:"hours"`
	Severity     domain.Severity      `json:"severity,omitempty"`
	Contributors []domain.Contributor `json:"contributors"`
}

// Load computes the current per-day load without taking the lock or writing.
func (e Engine) Load(ctx context.Context, resourceID string, rng domain.DateRange) ([]DayView, error) {
	if !rng.Valid() {
		return nil, apperrors.NewValidation(apperrors.InvalidDateRange, "range", "end %s precedes start %s", rng.End, rng.Start)
	}
	res, err := e.checkResource(ctx, resourceID, false)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	loads, err := e.aggregator(tx).Aggregate(ctx, res.ID, rng)
	if err != nil {
		return nil, err
	}
	caps, err := e.calendar(tx).CapacityForRange(ctx, res, rng)
	if err != nil {
		return nil, err
	}
	evals, err := e.classify(loads, caps)
	if err != nil {
		return nil, err
	}
	out := make([]DayView, 0, len(evals))
	for _, day := range loads.Days() {
		ev := evals[day]
		out = append(out, DayView{
			Date:         day,
			Total:        ev.Load.Total,
			Capacity:     ev.Capacity,
			Hours:        ev.Load.Hours,
			Severity:     ev.Severity,
			Contributors: ev.Load.Contributors,
		})
	}
	return out, nil
}
