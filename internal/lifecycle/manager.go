// Package lifecycle reconciles persisted conflicts with freshly classified
// day loads and handles manual resolution.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"loadline/internal/aggregate"
	"loadline/internal/apperrors"
	"loadline/internal/domain"
	"loadline/internal/events"
	"loadline/internal/repo"
)

const AutoResolveNote = "auto-resolved: load reduced below capacity"

// Evaluation is one classified day. Severity is empty when the day fits.
type Evaluation struct {
	Load     aggregate.DayLoad
	Capacity decimal.Decimal
	Severity domain.Severity
}

// Outcome counts what a reconciliation did.
type Outcome struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Resolved   int `json:"resolved"`
	Reopened   int `json:"reopened"`
	Suppressed int `json:"suppressed"`
	Unchanged  int `json:"unchanged"`
}

func (o Outcome) Writes() int {
	return o.Created + o.Updated + o.Resolved + o.Reopened
}

type Manager struct {
	Repo   repo.Repo
	Events events.Writer
	Policy RecurrencePolicy
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

func NewManager(r repo.Repo, w events.Writer, policy RecurrencePolicy, logger *zap.Logger) Manager {
	if policy == nil {
		policy = PreserveHistory{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Manager{Repo: r, Events: w, Policy: policy, Logger: logger.Named("lifecycle")}
}

func (m Manager) now() string {
	if m.Now != nil {
		return m.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (m Manager) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func (m Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// Reconcile applies evals for every day in rng within tx. Resolved rows are
// never modified except by the ReopenAutoResolved policy, which only touches
// rows the system closed.
func (m Manager) Reconcile(ctx context.Context, tx *sql.Tx, res domain.Resource, rng domain.DateRange, evals map[domain.Date]Evaluation) (Outcome, error) {
	var out Outcome
	open, err := m.Repo.OpenConflictsTx(ctx, tx, res.ID, rng)
	if err != nil {
		return out, &apperrors.StorageError{Op: "load open conflicts", Err: err}
	}
	latest, err := m.Repo.LatestResolvedConflictsTx(ctx, tx, res.ID, rng)
	if err != nil {
		return out, &apperrors.StorageError{Op: "load resolved conflicts", Err: err}
	}
	policy := m.Policy
	if policy == nil {
		policy = PreserveHistory{}
	}

	days := make([]domain.Date, 0, len(evals))
	for d := range evals {
		if rng.Contains(d) {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	now := m.now()
	for _, day := range days {
		ev := evals[day]
		current, hasOpen := open[day]

		if ev.Severity == "" {
			if !hasOpen {
				continue
			}
			if err := m.Repo.ResolveConflictTx(ctx, tx, current.ID, now, nil, AutoResolveNote); err != nil {
				return out, &apperrors.StorageError{Op: "auto-resolve conflict", Err: err}
			}
			current.Resolved = true
			current.ResolvedAt = &now
			note := AutoResolveNote
			current.ResolutionNote = &note
			if err := m.emit(ctx, tx, events.ConflictResolved, "", current); err != nil {
				return out, err
			}
			out.Resolved++
			m.logger().Debug("conflict auto-resolved",
				zap.String("conflict_id", current.ID), zap.String("resource_id", res.ID), zap.Stringer("date", day))
			continue
		}

		next := candidate(res, day, ev)
		if hasOpen {
			if SameLoad(current, next) {
				out.Unchanged++
				continue
			}
			current.TotalAllocation = next.TotalAllocation
			current.Capacity = next.Capacity
			current.AffectedProjects = next.AffectedProjects
			current.Contributors = next.Contributors
			current.Severity = next.Severity
			current.UpdatedAt = now
			if err := m.Repo.UpdateConflictLoadTx(ctx, tx, current); err != nil {
				return out, &apperrors.StorageError{Op: "update conflict", Err: err}
			}
			if err := m.emit(ctx, tx, events.ConflictUpdated, "", current); err != nil {
				return out, err
			}
			out.Updated++
			continue
		}

		var prev *domain.ResourceConflict
		if p, ok := latest[day]; ok {
			prev = &p
		}
		switch action := policy.OnRecurrence(prev, next); action {
		case Suppress:
			out.Suppressed++
			m.logger().Debug("overage covered by manual resolution",
				zap.String("conflict_id", prev.ID), zap.String("resource_id", res.ID), zap.Stringer("date", day))
		case Reopen:
			reopened := *prev
			reopened.TotalAllocation = next.TotalAllocation
			reopened.Capacity = next.Capacity
			reopened.AffectedProjects = next.AffectedProjects
			reopened.Contributors = next.Contributors
			reopened.Severity = next.Severity
			reopened.Resolved = false
			reopened.ResolvedAt, reopened.ResolvedByUserID, reopened.ResolutionNote = nil, nil, nil
			reopened.UpdatedAt = now
			if err := m.Repo.ReopenConflictTx(ctx, tx, reopened); err != nil {
				return out, &apperrors.StorageError{Op: "reopen conflict", Err: err}
			}
			if err := m.emit(ctx, tx, events.ConflictCreated, "", reopened); err != nil {
				return out, err
			}
			out.Reopened++
		default:
			next.ID = m.newID()
			next.DetectedAt = now
			next.UpdatedAt = now
			if err := m.Repo.InsertConflictTx(ctx, tx, next); err != nil {
				return out, &apperrors.StorageError{Op: "insert conflict", Err: err}
			}
			if err := m.emit(ctx, tx, events.ConflictCreated, "", next); err != nil {
				return out, err
			}
			out.Created++
			m.logger().Debug("conflict detected",
				zap.String("conflict_id", next.ID), zap.String("resource_id", res.ID),
				zap.Stringer("date", day), zap.String("severity", string(next.Severity)))
		}
	}
	return out, nil
}

// Resolve closes an open conflict on behalf of userID.
func (m Manager) Resolve(ctx context.Context, tx *sql.Tx, conflictID, userID, note string) (domain.ResourceConflict, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ResourceConflict{}, apperrors.NewValidation(apperrors.InvalidField, "user_id", "resolving user is required")
	}
	c, err := m.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return c, err
	}
	if c.Resolved {
		return c, apperrors.ErrAlreadyResolved
	}
	now := m.now()
	if err := m.Repo.ResolveConflictTx(ctx, tx, c.ID, now, &userID, note); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyResolved) {
			return c, err
		}
		return c, &apperrors.StorageError{Op: "resolve conflict", Err: err}
	}
	c.Resolved = true
	c.ResolvedAt = &now
	c.ResolvedByUserID = &userID
	if note != "" {
		c.ResolutionNote = &note
	}
	c.UpdatedAt = now
	if err := m.emit(ctx, tx, events.ConflictResolved, userID, c); err != nil {
		return c, err
	}
	return c, nil
}

func candidate(res domain.Resource, day domain.Date, ev Evaluation) domain.ResourceConflict {
	return domain.ResourceConflict{
		OrganizationID:   res.OrganizationID,
		ResourceID:       res.ID,
		ConflictDate:     day,
		TotalAllocation:  ev.Load.Total,
		Capacity:         ev.Capacity,
		AffectedProjects: ev.Load.AffectedProjects(),
		Contributors:     ev.Load.Contributors,
		Severity:         ev.Severity,
	}
}

func (m Manager) emit(ctx context.Context, tx *sql.Tx, evtType, actorID string, c domain.ResourceConflict) error {
	payload := events.EventPayload{
		"conflict_id":       c.ID,
		"resource_id":       c.ResourceID,
		"conflict_date":     c.ConflictDate.String(),
		"severity":          string(c.Severity),
		"total_allocation":  c.TotalAllocation.String(),
		"capacity":          c.Capacity.String(),
		"affected_projects": c.AffectedProjects,
		"state":             c.State(),
	}
	if c.Resolved {
		payload["resolution"] = "manual"
		if c.AutoResolved() {
			payload["resolution"] = "auto"
		}
		if c.ResolutionNote != nil {
			payload["resolution_note"] = *c.ResolutionNote
		}
	}
	err := m.Events.Append(ctx, tx, events.Entry{
		Type:           evtType,
		OrganizationID: c.OrganizationID,
		EntityKind:     events.KindConflict,
		EntityID:       c.ID,
		ActorID:        actorID,
		Payload:        payload,
	})
	if err != nil {
		return &apperrors.StorageError{Op: "append event", Err: fmt.Errorf("%s %s: %w", evtType, c.ID, err)}
	}
	return nil
}
