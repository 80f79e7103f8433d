package capacity

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadline/internal/domain"
)

func staticSource(entries map[domain.Date]decimal.Decimal) Source {
	return SourceFunc(func(ctx context.Context, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
		out := map[domain.Date]decimal.Decimal{}
		for d, h := range entries {
			if rng.Contains(d) {
				out[d] = h
			}
		}
		return out, nil
	})
}

func TestCapacityDefaultsToFullDay(t *testing.T) {
	cal := New(staticSource(nil), 8)
	res := domain.Resource{ID: "u1", WorkspaceID: "ws"}

	got, err := cal.CapacityForDay(context.Background(), res, domain.MustParseDate("2025-09-06"))
	require.NoError(t, err)
	assert.Equal(t, "100", got.String())
}

func TestCapacityFromEntries(t *testing.T) {
	sat := domain.MustParseDate("2025-09-06")
	sun := domain.MustParseDate("2025-09-07")
	mon := domain.MustParseDate("2025-09-08")
	cal := New(staticSource(map[domain.Date]decimal.Decimal{
		sat: decimal.Zero,
		mon: decimal.NewFromInt(4),
	}), 8)
	res := domain.Resource{ID: "u1", WorkspaceID: "ws"}

	caps, err := cal.CapacityForRange(context.Background(), res, domain.DateRange{Start: sat, End: mon})
	require.NoError(t, err)
	require.Len(t, caps, 3)
	assert.True(t, caps[sat].IsZero())
	assert.Equal(t, "100", caps[sun].String())
	assert.Equal(t, "50", caps[mon].String())
}

func TestCapacitySourceErrorIsWrapped(t *testing.T) {
	boom := errors.New("directory down")
	cal := New(SourceFunc(func(context.Context, string, string, domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
		return nil, boom
	}), 8)
	_, err := cal.CapacityForDay(context.Background(), domain.Resource{ID: "u1"}, domain.MustParseDate("2025-01-01"))
	assert.ErrorIs(t, err, boom)
}
