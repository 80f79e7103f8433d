// Package aggregate folds a resource's allocations into per-day load.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"loadline/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// WeightFunc returns the multiplier applied to an allocation's percentage.
type WeightFunc func(domain.AllocationType) decimal.Decimal

// DefaultWeights counts HARD and SOFT fully and GHOST not at all.
func DefaultWeights(t domain.AllocationType) decimal.Decimal {
	if t == domain.AllocationGhost {
		return decimal.Zero
	}
	return decimal.NewFromInt(1)
}

type DayLoad struct {
	Date  domain.Date     `json:"date"`
	Total decimal.Decimal `json:"total"`
	// Hours is the weighted load in hours (percentage x hours per day).
	Hours        decimal.Decimal      `json:"hours"`
	Contributors []domain.Contributor `json:"contributors"`
}

// AffectedProjects lists, sorted and unique, the projects that add load on
// this day. Zero-weight contributors are excluded.
func (d DayLoad) AffectedProjects() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, c := range d.Contributors {
		if c.Weight.Sign() <= 0 || seen[c.ProjectID] {
			continue
		}
		seen[c.ProjectID] = true
		out = append(out, c.ProjectID)
	}
	sort.Strings(out)
	return out
}

// Loads maps each day of an aggregated range to its load. Days with no
// allocations are present with a zero total.
type Loads map[domain.Date]DayLoad

// Days returns the keys in ascending order.
func (l Loads) Days() []domain.Date {
	out := make([]domain.Date, 0, len(l))
	for d := range l {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Compute is the pure per-day fold. Allocations outside rng contribute only
// to the days they overlap; the result covers every day in rng.
func Compute(allocs []domain.ResourceAllocation, rng domain.DateRange, weight WeightFunc) Loads {
	if weight == nil {
		weight = DefaultWeights
	}
	out := make(Loads, rng.Days())
	_ = rng.Each(func(d domain.Date) error {
		out[d] = DayLoad{Date: d, Total: decimal.Zero, Hours: decimal.Zero}
		return nil
	})
	for _, a := range allocs {
		span := a.Range()
		if !span.Intersects(rng) {
			continue
		}
		if span.Start.Before(rng.Start) {
			span.Start = rng.Start
		}
		if span.End.After(rng.End) {
			span.End = rng.End
		}
		w := weight(a.Type)
		c := domain.Contributor{
			AllocationID: a.ID,
			ProjectID:    a.ProjectID,
			TaskID:       a.TaskID,
			Type:         a.Type,
			Percentage:   a.AllocationPercentage,
			Weight:       w,
		}
		weighted := c.Weighted()
		hours := weighted.Div(hundred).Mul(a.HoursPerDay)
		_ = span.Each(func(d domain.Date) error {
			day := out[d]
			day.Total = day.Total.Add(weighted)
			day.Hours = day.Hours.Add(hours)
			day.Contributors = append(day.Contributors, c)
			out[d] = day
			return nil
		})
	}
	return out
}

// AllocationSource lists a resource's allocations overlapping a range.
type AllocationSource interface {
	AllocationsInRange(ctx context.Context, resourceID string, rng domain.DateRange) ([]domain.ResourceAllocation, error)
}

type AllocationSourceFunc func(ctx context.Context, resourceID string, rng domain.DateRange) ([]domain.ResourceAllocation, error)

func (f AllocationSourceFunc) AllocationsInRange(ctx context.Context, resourceID string, rng domain.DateRange) ([]domain.ResourceAllocation, error) {
	return f(ctx, resourceID, rng)
}

type Aggregator struct {
	Source AllocationSource
	Weight WeightFunc
}

// Aggregate reads the resource's allocations and folds them day by day.
// Repeated calls over unchanged data return identical loads.
func (a Aggregator) Aggregate(ctx context.Context, resourceID string, rng domain.DateRange) (Loads, error) {
	if !rng.Valid() {
		return nil, fmt.Errorf("aggregate range %s is inverted", rng)
	}
	allocs, err := a.Source.AllocationsInRange(ctx, resourceID, rng)
	if err != nil {
		return nil, fmt.Errorf("load allocations for %s: %w", resourceID, err)
	}
	return Compute(allocs, rng, a.Weight), nil
}
