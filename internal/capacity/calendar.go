// Package capacity answers how much of a resource's day is available.
// Capacity is a percentage of the organization's standard working day;
// days without an explicit entry are at 100%.
package capacity

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"loadline/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Source supplies explicit capacity hours for a user in a date range.
type Source interface {
	CapacityHours(ctx context.Context, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error)

func (f SourceFunc) CapacityHours(ctx context.Context, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
	return f(ctx, workspaceID, userID, rng)
}

type Calendar struct {
	Source Source
	// BaselineHours equals 100% capacity.
	BaselineHours decimal.Decimal
}

func New(src Source, baselineHours float64) Calendar {
	return Calendar{Source: src, BaselineHours: decimal.NewFromFloat(baselineHours)}
}

// ToPercent converts capacity hours to a percentage of the baseline day.
func (c Calendar) ToPercent(hours decimal.Decimal) decimal.Decimal {
	if c.BaselineHours.Sign() <= 0 {
		return hundred
	}
	return hours.Div(c.BaselineHours).Mul(hundred)
}

// CapacityForDay returns the resource's capacity percent on date.
func (c Calendar) CapacityForDay(ctx context.Context, res domain.Resource, date domain.Date) (decimal.Decimal, error) {
	caps, err := c.CapacityForRange(ctx, res, domain.DateRange{Start: date, End: date})
	if err != nil {
		return decimal.Zero, err
	}
	return caps[date], nil
}

// CapacityForRange returns a percent for every day in rng, defaulting to
// 100 where the source has no entry. Weekends are not special: a zero
// capacity weekend must be an explicit entry.
func (c Calendar) CapacityForRange(ctx context.Context, res domain.Resource, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
	if !rng.Valid() {
		return nil, fmt.Errorf("capacity range %s is inverted", rng)
	}
	explicit := map[domain.Date]decimal.Decimal{}
	if c.Source != nil {
		var err error
		explicit, err = c.Source.CapacityHours(ctx, res.WorkspaceID, res.ID, rng)
		if err != nil {
			return nil, fmt.Errorf("capacity lookup for %s: %w", res.ID, err)
		}
	}
	out := make(map[domain.Date]decimal.Decimal, rng.Days())
	_ = rng.Each(func(d domain.Date) error {
		if hours, ok := explicit[d]; ok {
			out[d] = c.ToPercent(hours)
		} else {
			out[d] = hundred
		}
		return nil
	})
	return out, nil
}
