package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadline/internal/domain"
)

func TestDateRangeAcrossYearBoundary(t *testing.T) {
	r, err := domain.NewDateRange(domain.MustParseDate("2025-12-28"), domain.MustParseDate("2026-01-03"))
	require.NoError(t, err)
	assert.Equal(t, 7, r.Days())

	var got []string
	require.NoError(t, r.Each(func(d domain.Date) error {
		got = append(got, d.String())
		return nil
	}))
	assert.Equal(t, []string{
		"2025-12-28", "2025-12-29", "2025-12-30", "2025-12-31",
		"2026-01-01", "2026-01-02", "2026-01-03",
	}, got)
}

func TestDateAddDaysLeapYear(t *testing.T) {
	assert.Equal(t, "2024-02-29", domain.MustParseDate("2024-02-28").AddDays(1).String())
	assert.Equal(t, "2025-03-01", domain.MustParseDate("2025-02-28").AddDays(1).String())
	assert.Equal(t, "2025-12-31", domain.MustParseDate("2026-01-01").AddDays(-1).String())
}

func TestDateCompareAndWeekday(t *testing.T) {
	a := domain.MustParseDate("2025-09-06")
	b := domain.MustParseDate("2025-09-07")
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, time.Saturday, a.Weekday())
	assert.Equal(t, time.Sunday, b.Weekday())
	assert.Equal(t, 1, a.DaysBetween(b))
	assert.Equal(t, -1, b.DaysBetween(a))
}

func TestDaysBetweenLongSpans(t *testing.T) {
	rng := domain.DateRange{Start: domain.MustParseDate("1700-01-01"), End: domain.MustParseDate("2100-12-31")}
	assert.Equal(t, 146462, rng.Days())

	first := domain.MustParseDate("0001-01-01")
	last := domain.MustParseDate("9999-12-31")
	assert.Equal(t, 3652058, first.DaysBetween(last))
	assert.Equal(t, -3652058, last.DaysBetween(first))
}

func TestNewDateRangeRejectsInverted(t *testing.T) {
	_, err := domain.NewDateRange(domain.MustParseDate("2025-01-02"), domain.MustParseDate("2025-01-01"))
	require.Error(t, err)
}

func TestDateRangeUnionAndIntersects(t *testing.T) {
	a := domain.DateRange{Start: domain.MustParseDate("2025-01-01"), End: domain.MustParseDate("2025-01-05")}
	b := domain.DateRange{Start: domain.MustParseDate("2025-01-10"), End: domain.MustParseDate("2025-01-12")}
	assert.False(t, a.Intersects(b))
	u := a.Union(b)
	assert.Equal(t, "2025-01-01..2025-01-12", u.String())
	assert.True(t, u.Intersects(a))
	assert.True(t, u.Contains(domain.MustParseDate("2025-01-07")))
}

func TestDateJSONAndScan(t *testing.T) {
	d := domain.MustParseDate("2026-01-03")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-01-03"`, string(b))

	var back domain.Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	var scanned domain.Date
	require.NoError(t, scanned.Scan([]byte("2026-01-03")))
	assert.Equal(t, d, scanned)

	_, err = domain.ParseDate("2026-13-01")
	require.Error(t, err)
}

func TestRecomputeStateTransitions(t *testing.T) {
	s := domain.RecomputeQueued
	for _, next := range []domain.RecomputeState{
		domain.RecomputeLocked, domain.RecomputeAggregating, domain.RecomputeClassifying,
		domain.RecomputeReconciling, domain.RecomputeDone,
	} {
		require.True(t, s.CanTransition(next), "%s -> %s", s, next)
		s = next
	}
	assert.False(t, domain.RecomputeDone.CanTransition(domain.RecomputeFailed))
	assert.True(t, domain.RecomputeAggregating.CanTransition(domain.RecomputeFailed))
	assert.False(t, domain.RecomputeQueued.CanTransition(domain.RecomputeReconciling))
}
