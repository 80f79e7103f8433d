package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"loadline/internal/apperrors"
	"loadline/internal/domain"
	"loadline/internal/events"
	"loadline/internal/repo"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxHours = decimal.NewFromInt(24)
)

// AllocationInput carries a new booking. Empty BookingSource means MANUAL;
// zero HoursPerDay takes the organization default.
type AllocationInput struct {
	ID                   string
	ResourceID           string
	ProjectID            string `validate:"required"`
	TaskID               string
	StartDate            domain.Date
	EndDate              domain.Date
	AllocationPercentage decimal.Decimal
	HoursPerDay          decimal.Decimal
	Type                 domain.AllocationType `validate:"required,oneof=HARD SOFT GHOST"`
	BookingSource        domain.BookingSource  `validate:"omitempty,oneof=MANUAL JIRA GITHUB AI"`
	Justification        string
	ActorID              string
}

// AllocationChanges lists the fields to overwrite; nil fields are kept.
type AllocationChanges struct {
	ProjectID            *string
	TaskID               *string
	StartDate            *domain.Date
	EndDate              *domain.Date
	AllocationPercentage *decimal.Decimal
	HoursPerDay          *decimal.Decimal
	Type                 *domain.AllocationType
	BookingSource        *domain.BookingSource
	Justification        *string
	ActorID              string
}

type allocationShape struct {
	ProjectID     string                `validate:"required"`
	Type          domain.AllocationType `validate:"required,oneof=HARD SOFT GHOST"`
	BookingSource domain.BookingSource  `validate:"required,oneof=MANUAL JIRA GITHUB AI"`
}

// validateAllocation checks everything that does not need the resource
// directory. Structural checks run first so callers see one precise error.
func (e Engine) validateAllocation(a domain.ResourceAllocation) error {
	if err := e.validator().Struct(allocationShape{ProjectID: a.ProjectID, Type: a.Type, BookingSource: a.BookingSource}); err != nil {
		return structError(err)
	}
	if a.StartDate.IsZero() || a.EndDate.IsZero() {
		return apperrors.NewValidation(apperrors.InvalidDateRange, "start_date", "start and end dates are required")
	}
	if a.EndDate.Before(a.StartDate) {
		return apperrors.NewValidation(apperrors.InvalidDateRange, "end_date", "end %s precedes start %s", a.EndDate, a.StartDate)
	}
	if a.AllocationPercentage.Sign() <= 0 || a.AllocationPercentage.GreaterThan(hundred) {
		return apperrors.NewValidation(apperrors.InvalidPercentage, "allocation_percentage", "must be in (0,100], got %s", a.AllocationPercentage)
	}
	if a.HoursPerDay.Sign() <= 0 || a.HoursPerDay.GreaterThan(maxHours) {
		return apperrors.NewValidation(apperrors.InvalidField, "hours_per_day", "must be in (0,24], got %s", a.HoursPerDay)
	}
	if e.Config != nil && e.Config.RequiresJustification(a.Type) && (a.Justification == nil || strings.TrimSpace(*a.Justification) == "") {
		return apperrors.NewValidation(apperrors.MissingJustification, "justification", "%s allocations require a justification", a.Type)
	}
	return nil
}

func (e Engine) validator() *validator.Validate {
	if e.validate == nil {
		return newValidator()
	}
	return e.validate
}

// newValidator reports fields in snake_case, matching the stored columns.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return snakeCase(f.Name) })
	return v
}

func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func structError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewValidation(apperrors.InvalidField, fe.Field(), "failed %q check (value %v)", fe.Tag(), fe.Value())
	}
	return apperrors.NewValidation(apperrors.InvalidField, "", "%v", err)
}

// checkResource enforces that the resource exists in this organization and,
// when requireActive is set, is active.
func (e Engine) checkResource(ctx context.Context, resourceID string, requireActive bool) (domain.Resource, error) {
	res, err := e.Repo.GetResource(ctx, resourceID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && e.orgID() != "" && res.OrganizationID != e.orgID()) {
		return domain.Resource{}, apperrors.NewValidation(apperrors.ResourceNotFound, "resource_id", "resource %s does not exist", resourceID)
	}
	if err != nil {
		return domain.Resource{}, fmt.Errorf("lookup resource %s: %w", resourceID, err)
	}
	if requireActive && !res.Active {
		return domain.Resource{}, apperrors.NewValidation(apperrors.ResourceInactive, "resource_id", "resource %s is inactive", resourceID)
	}
	return res, nil
}

func (e Engine) defaultHoursPerDay() decimal.Decimal {
	if e.Config != nil && e.Config.Allocations.DefaultHoursPerDay > 0 {
		return decimal.NewFromFloat(e.Config.Allocations.DefaultHoursPerDay)
	}
	return decimal.NewFromInt(8)
}

// RecordAllocation validates and stores a booking, then recomputes conflicts
// for its span. Validation failures persist nothing. If the recomputation
// fails (for example with *apperrors.LockTimeoutError) the allocation is
// still returned, already committed, together with the error.
func (e Engine) RecordAllocation(ctx context.Context, in AllocationInput) (domain.ResourceAllocation, error) {
	if err := e.validator().Struct(in); err != nil {
		return domain.ResourceAllocation{}, structError(err)
	}
	now := e.timestamp()
	a := domain.ResourceAllocation{
		ID:                   in.ID,
		ResourceID:           in.ResourceID,
		ProjectID:            in.ProjectID,
		TaskID:               optionalString(in.TaskID),
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		AllocationPercentage: in.AllocationPercentage,
		HoursPerDay:          in.HoursPerDay,
		Type:                 in.Type,
		BookingSource:        in.BookingSource,
		Justification:        optionalString(strings.TrimSpace(in.Justification)),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if a.ID == "" {
		a.ID = e.newID()
	}
	if a.BookingSource == "" {
		a.BookingSource = domain.BookingManual
	}
	if a.HoursPerDay.IsZero() {
		a.HoursPerDay = e.defaultHoursPerDay()
	}
	if err := e.validateAllocation(a); err != nil {
		return domain.ResourceAllocation{}, err
	}
	res, err := e.checkResource(ctx, a.ResourceID, true)
	if err != nil {
		return domain.ResourceAllocation{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResourceAllocation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAllocationTx(ctx, tx, res.OrganizationID, a); err != nil {
		return domain.ResourceAllocation{}, fmt.Errorf("insert allocation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, allocationEvent(events.AllocationCreated, res.OrganizationID, in.ActorID, a, nil)); err != nil {
		return domain.ResourceAllocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResourceAllocation{}, err
	}

	if _, err := e.Recompute(ctx, RecomputeRequest{ResourceID: a.ResourceID, Range: a.Range(), Reason: events.AllocationCreated}); err != nil {
		return a, fmt.Errorf("allocation %s saved; conflict recomputation pending: %w", a.ID, err)
	}
	return a, nil
}

// UpdateAllocation applies changes and recomputes the union of the old and
// new spans. The resource must still exist but may have been deactivated.
func (e Engine) UpdateAllocation(ctx context.Context, id string, ch AllocationChanges) (domain.ResourceAllocation, error) {
	old, err := e.Repo.GetAllocation(ctx, id)
	if err != nil {
		return domain.ResourceAllocation{}, err
	}
	res, err := e.checkResource(ctx, old.ResourceID, false)
	if err != nil {
		return domain.ResourceAllocation{}, err
	}
	next := old
	if ch.ProjectID != nil {
		next.ProjectID = *ch.ProjectID
	}
	if ch.TaskID != nil {
		next.TaskID = optionalString(*ch.TaskID)
	}
	if ch.StartDate != nil {
		next.StartDate = *ch.StartDate
	}
	if ch.EndDate != nil {
		next.EndDate = *ch.EndDate
	}
	if ch.AllocationPercentage != nil {
		next.AllocationPercentage = *ch.AllocationPercentage
	}
	if ch.HoursPerDay != nil {
		next.HoursPerDay = *ch.HoursPerDay
	}
	if ch.Type != nil {
		next.Type = *ch.Type
	}
	if ch.BookingSource != nil {
		next.BookingSource = *ch.BookingSource
	}
	if ch.Justification != nil {
		next.Justification = optionalString(strings.TrimSpace(*ch.Justification))
	}
	next.UpdatedAt = e.timestamp()
	if err := e.validateAllocation(next); err != nil {
		return domain.ResourceAllocation{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResourceAllocation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAllocationTx(ctx, tx, next); err != nil {
		return domain.ResourceAllocation{}, fmt.Errorf("update allocation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, allocationEvent(events.AllocationUpdated, res.OrganizationID, ch.ActorID, next, &old)); err != nil {
		return domain.ResourceAllocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResourceAllocation{}, err
	}

	span := old.Range().Union(next.Range())
	if _, err := e.Recompute(ctx, RecomputeRequest{ResourceID: next.ResourceID, Range: span, Reason: events.AllocationUpdated}); err != nil {
		return next, fmt.Errorf("allocation %s updated; conflict recomputation pending: %w", next.ID, err)
	}
	return next, nil
}

// DeleteAllocation removes a booking and recomputes its former span.
func (e Engine) DeleteAllocation(ctx context.Context, id, actorID string) error {
	old, err := e.Repo.GetAllocation(ctx, id)
	if err != nil {
		return err
	}
	orgID := e.orgID()
	if res, err := e.Repo.GetResource(ctx, old.ResourceID); err == nil {
		orgID = res.OrganizationID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAllocationTx(ctx, tx, id); err != nil {
		return fmt.Errorf("delete allocation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, allocationEvent(events.AllocationDeleted, orgID, actorID, old, nil)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if _, err := e.Recompute(ctx, RecomputeRequest{ResourceID: old.ResourceID, Range: old.Range(), Reason: events.AllocationDeleted}); err != nil {
		return fmt.Errorf("allocation %s deleted; conflict recomputation pending: %w", id, err)
	}
	return nil
}

func (e Engine) GetAllocation(ctx context.Context, id string) (domain.ResourceAllocation, error) {
	return e.Repo.GetAllocation(ctx, id)
}

func (e Engine) ListAllocations(ctx context.Context, f repo.AllocationFilters) ([]domain.ResourceAllocation, error) {
	if f.OrganizationID == "" {
		f.OrganizationID = e.orgID()
	}
	return e.Repo.ListAllocations(ctx, f)
}

func allocationEvent(evtType, orgID, actorID string, a domain.ResourceAllocation, previous *domain.ResourceAllocation) events.Entry {
	payload := events.EventPayload{
		"allocation_id":         a.ID,
		"resource_id":           a.ResourceID,
		"project_id":            a.ProjectID,
		"start_date":            a.StartDate.String(),
		"end_date":              a.EndDate.String(),
		"allocation_percentage": a.AllocationPercentage.String(),
		"type":                  string(a.Type),
		"booking_source":        string(a.BookingSource),
	}
	if previous != nil {
		payload["previous_start_date"] = previous.StartDate.String()
		payload["previous_end_date"] = previous.EndDate.String()
		payload["previous_percentage"] = previous.AllocationPercentage.String()
	}
	return events.Entry{
		Type:           evtType,
		OrganizationID: orgID,
		EntityKind:     events.KindAllocation,
		EntityID:       a.ID,
		ActorID:        actorID,
		Payload:        payload,
	}
}
