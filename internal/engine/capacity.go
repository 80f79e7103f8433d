package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"loadline/internal/apperrors"
	"loadline/internal/domain"
)

// SetCapacity records an explicit working-hours entry for one resource day
// and recomputes that day. Zero hours marks a day off.
func (e Engine) SetCapacity(ctx context.Context, resourceID string, day domain.Date, hours decimal.Decimal) (domain.CapacityEntry, error) {
	if day.IsZero() {
		return domain.CapacityEntry{}, apperrors.NewValidation(apperrors.InvalidField, "date", "date is required")
	}
	if hours.IsNegative() || hours.GreaterThan(maxHours) {
		return domain.CapacityEntry{}, apperrors.NewValidation(apperrors.InvalidField, "capacity_hours", "must be in [0,24], got %s", hours)
	}
	res, err := e.checkResource(ctx, resourceID, false)
	if err != nil {
		return domain.CapacityEntry{}, err
	}
	entry := domain.CapacityEntry{
		OrganizationID: res.OrganizationID,
		WorkspaceID:    res.WorkspaceID,
		UserID:         res.ID,
		Date:           day,
		CapacityHours:  hours,
	}
	if err := e.Repo.UpsertCapacityEntry(ctx, entry); err != nil {
		return domain.CapacityEntry{}, fmt.Errorf("save capacity entry: %w", err)
	}
	if _, err := e.Recompute(ctx, RecomputeRequest{ResourceID: res.ID, Range: domain.DateRange{Start: day, End: day}, Reason: "capacity.set"}); err != nil {
		return entry, fmt.Errorf("capacity saved; conflict recomputation pending: %w", err)
	}
	return entry, nil
}

// ClearCapacity removes an explicit entry so the day falls back to full
// capacity.
func (e Engine) ClearCapacity(ctx context.Context, resourceID string, day domain.Date) error {
	res, err := e.checkResource(ctx, resourceID, false)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteCapacityEntry(ctx, res.WorkspaceID, res.ID, day); err != nil {
		return err
	}
	if _, err := e.Recompute(ctx, RecomputeRequest{ResourceID: res.ID, Range: domain.DateRange{Start: day, End: day}, Reason: "capacity.clear"}); err != nil {
		return fmt.Errorf("capacity cleared; conflict recomputation pending: %w", err)
	}
	return nil
}

// CapacityEntries lists explicit entries for a resource in rng.
func (e Engine) CapacityEntries(ctx context.Context, resourceID string, rng domain.DateRange) ([]domain.CapacityEntry, error) {
	res, err := e.checkResource(ctx, resourceID, false)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListCapacityEntries(ctx, res.WorkspaceID, res.ID, rng)
}
