package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadline/internal/apperrors"
	"loadline/internal/config"
	"loadline/internal/db"
	"loadline/internal/domain"
	"loadline/internal/engine"
	"loadline/internal/events"
	"loadline/internal/lifecycle"
	"loadline/internal/lock"
	"loadline/internal/migrate"
	"loadline/internal/repo"
)

const orgID = "org-1"

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	cfg := config.Default(orgID)
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, cfg,
		engine.WithClock(func() time.Time { return fixedNow }),
		engine.WithLockTiming(5*time.Second, 5*time.Second),
	)
	_, err = eng.InitOrganization(ctx, orgID, "Test Org")
	require.NoError(t, err)

	for _, res := range []domain.Resource{
		{ID: "alice", OrganizationID: orgID, WorkspaceID: "ws-1", Name: "Alice", Active: true},
		{ID: "bob", OrganizationID: orgID, WorkspaceID: "ws-1", Name: "Bob", Active: false},
	} {
		require.NoError(t, eng.Repo.UpsertResource(ctx, res))
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func d(s string) domain.Date { return domain.MustParseDate(s) }

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func hard(resource, project, start, end string, percentage int64) engine.AllocationInput {
	return engine.AllocationInput{
		ResourceID:           resource,
		ProjectID:            project,
		StartDate:            d(start),
		EndDate:              d(end),
		AllocationPercentage: pct(percentage),
		Type:                 domain.AllocationHard,
		ActorID:              "planner",
	}
}

func (env testEnv) openConflicts(t *testing.T, resourceID string) []domain.ResourceConflict {
	t.Helper()
	open := false
	out, err := env.Engine.ListConflicts(env.Ctx, resourceID, engine.ConflictQuery{Resolved: &open})
	require.NoError(t, err)
	return out
}

func (env testEnv) allConflicts(t *testing.T, resourceID string) []domain.ResourceConflict {
	t.Helper()
	out, err := env.Engine.ListConflicts(env.Ctx, resourceID, engine.ConflictQuery{})
	require.NoError(t, err)
	return out
}

func TestRecordAllocationRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		in   engine.AllocationInput
		want error
	}{
		{"over 100 percent", hard("alice", "p1", "2024-03-04", "2024-03-04", 101), apperrors.ErrInvalidPercentage},
		{"zero percent", hard("alice", "p1", "2024-03-04", "2024-03-04", 0), apperrors.ErrInvalidPercentage},
		{"inverted range", hard("alice", "p1", "2024-03-05", "2024-03-04", 50), apperrors.ErrInvalidDateRange},
		{"unknown resource", hard("nobody", "p1", "2024-03-04", "2024-03-04", 50), apperrors.ErrResourceNotFound},
		{"empty resource", hard("", "p1", "2024-03-04", "2024-03-04", 50), apperrors.ErrResourceNotFound},
		{"inactive resource", hard("bob", "p1", "2024-03-04", "2024-03-04", 50), apperrors.ErrResourceInactive},
		{"missing project", hard("alice", "", "2024-03-04", "2024-03-04", 50), apperrors.ErrInvalidField},
		{"soft without justification", func() engine.AllocationInput {
			in := hard("alice", "p1", "2024-03-04", "2024-03-04", 50)
			in.Type = domain.AllocationSoft
			return in
		}(), apperrors.ErrMissingJustification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.RecordAllocation(env.Ctx, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}

	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "", "2024-03-04", "2024-03-04", 50))
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "project_id", verr.Field)

	allocs, err := env.Engine.ListAllocations(env.Ctx, repo.AllocationFilters{})
	require.NoError(t, err)
	assert.Empty(t, allocs, "rejected allocations must not be persisted")
	assert.Empty(t, env.allConflicts(t, ""))
}

func TestOverlappingHardAllocationsRaiseOneConflict(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	assert.Empty(t, env.openConflicts(t, "alice"))

	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)

	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	c := open[0]
	assert.Equal(t, d("2024-03-04"), c.ConflictDate)
	assert.True(t, c.TotalAllocation.Equal(pct(120)), "total %s", c.TotalAllocation)
	assert.True(t, c.Capacity.Equal(pct(100)))
	assert.Equal(t, domain.SeverityLow, c.Severity)
	assert.ElementsMatch(t, []string{"p1", "p2"}, c.AffectedProjects)
	assert.Len(t, c.Contributors, 2)
	assert.Equal(t, orgID, c.OrganizationID)
}

func TestSeverityFollowsRatio(t *testing.T) {
	env := newTestEnv(t)
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", p, "2024-03-04", "2024-03-04", 60))
		require.NoError(t, err)
	}
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.Equal(t, domain.SeverityHigh, open[0].Severity, "180%% should be HIGH")
}

func TestDeletingAllocationAutoResolves(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-05", 60))
	require.NoError(t, err)
	second, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-05", 60))
	require.NoError(t, err)
	require.Len(t, env.openConflicts(t, "alice"), 2)

	require.NoError(t, env.Engine.DeleteAllocation(env.Ctx, second.ID, "planner"))

	assert.Empty(t, env.openConflicts(t, "alice"))
	all := env.allConflicts(t, "alice")
	require.Len(t, all, 2)
	for _, c := range all {
		assert.True(t, c.Resolved)
		assert.True(t, c.AutoResolved())
		assert.Nil(t, c.ResolvedByUserID)
		require.NotNil(t, c.ResolutionNote)
		assert.Equal(t, lifecycle.AutoResolveNote, *c.ResolutionNote)
	}
}

func TestManualResolutionSurvivesRecompute(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)

	resolved, err := env.Engine.ResolveConflict(env.Ctx, open[0].ID, "manager-1", "accepted overtime")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedByUserID)
	assert.Equal(t, "manager-1", *resolved.ResolvedByUserID)

	res, err := env.Engine.Recompute(env.Ctx, engine.RecomputeRequest{
		ResourceID: "alice",
		Range:      domain.DateRange{Start: d("2024-03-01"), End: d("2024-03-10")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecomputeDone, res.State)
	assert.Equal(t, 1, res.Outcome.Suppressed)
	assert.Empty(t, env.openConflicts(t, "alice"))

	stored, err := env.Engine.GetConflict(env.Ctx, open[0].ID)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	assert.Equal(t, "accepted overtime", *stored.ResolutionNote)

	// A different load is a new overage and gets its own row.
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p3", "2024-03-04", "2024-03-04", 10))
	require.NoError(t, err)
	now := env.openConflicts(t, "alice")
	require.Len(t, now, 1)
	assert.NotEqual(t, open[0].ID, now[0].ID)
	assert.True(t, now[0].TotalAllocation.Equal(pct(130)))
}

func TestResolveTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 100))
	require.NoError(t, err)
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 50))
	require.NoError(t, err)
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)

	_, err = env.Engine.ResolveConflict(env.Ctx, open[0].ID, "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidField)

	_, err = env.Engine.ResolveConflict(env.Ctx, open[0].ID, "manager-1", "")
	require.NoError(t, err)
	_, err = env.Engine.ResolveConflict(env.Ctx, open[0].ID, "manager-2", "again")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)

	stored, err := env.Engine.GetConflict(env.Ctx, open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "manager-1", *stored.ResolvedByUserID)

	_, err = env.Engine.ResolveConflict(env.Ctx, "missing", "manager-1", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-08", 80))
	require.NoError(t, err)
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-06", "2024-03-12", 80))
	require.NoError(t, err)
	before := env.allConflicts(t, "alice")
	require.Len(t, before, 3)

	req := engine.RecomputeRequest{ResourceID: "alice", Range: domain.DateRange{Start: d("2024-03-01"), End: d("2024-03-31")}}
	for i := 0; i < 3; i++ {
		res, err := env.Engine.Recompute(env.Ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Outcome.Writes())
		assert.Equal(t, 3, res.Outcome.Unchanged)
	}
	assert.Equal(t, before, env.allConflicts(t, "alice"))
}

func TestUpdateRecomputesOldAndNewSpan(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-15", 70))
	require.NoError(t, err)
	moving, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-05", 70))
	require.NoError(t, err)
	require.Len(t, env.openConflicts(t, "alice"), 2)

	start, end := d("2024-03-11"), d("2024-03-12")
	updated, err := env.Engine.UpdateAllocation(env.Ctx, moving.ID, engine.AllocationChanges{StartDate: &start, EndDate: &end, ActorID: "planner"})
	require.NoError(t, err)
	assert.Equal(t, start, updated.StartDate)

	open := env.openConflicts(t, "alice")
	require.Len(t, open, 2)
	assert.Equal(t, d("2024-03-11"), open[0].ConflictDate)
	assert.Equal(t, d("2024-03-12"), open[1].ConflictDate)

	bad := pct(150)
	_, err = env.Engine.UpdateAllocation(env.Ctx, moving.ID, engine.AllocationChanges{AllocationPercentage: &bad})
	assert.ErrorIs(t, err, apperrors.ErrInvalidPercentage)
}

func TestGhostAllocationsDoNotCount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 90))
	require.NoError(t, err)
	ghost := hard("alice", "p2", "2024-03-04", "2024-03-04", 90)
	ghost.Type = domain.AllocationGhost
	ghost.Justification = "pipeline deal"
	_, err = env.Engine.RecordAllocation(env.Ctx, ghost)
	require.NoError(t, err)
	assert.Empty(t, env.openConflicts(t, "alice"))

	soft := hard("alice", "p3", "2024-03-04", "2024-03-04", 20)
	soft.Type = domain.AllocationSoft
	soft.Justification = "tentative"
	_, err = env.Engine.RecordAllocation(env.Ctx, soft)
	require.NoError(t, err)

	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.True(t, open[0].TotalAllocation.Equal(pct(110)))
	assert.Len(t, open[0].Contributors, 3, "ghost bookings are listed")
	assert.ElementsMatch(t, []string{"p1", "p3"}, open[0].AffectedProjects)
}

func TestCapacityEntriesLowerTheBar(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.Repo.UpsertCapacityEntry(env.Ctx, domain.CapacityEntry{
		OrganizationID: orgID, WorkspaceID: "ws-1", UserID: "alice",
		Date: d("2024-03-09"), CapacityHours: decimal.Zero,
	}))
	require.NoError(t, env.Engine.Repo.UpsertCapacityEntry(env.Ctx, domain.CapacityEntry{
		OrganizationID: orgID, WorkspaceID: "ws-1", UserID: "alice",
		Date: d("2024-03-08"), CapacityHours: decimal.NewFromInt(4),
	}))

	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-07", "2024-03-09", 60))
	require.NoError(t, err)

	open := env.openConflicts(t, "alice")
	require.Len(t, open, 2)
	assert.Equal(t, d("2024-03-08"), open[0].ConflictDate)
	assert.True(t, open[0].Capacity.Equal(pct(50)))
	assert.Equal(t, domain.SeverityLow, open[0].Severity)
	assert.Equal(t, d("2024-03-09"), open[1].ConflictDate)
	assert.True(t, open[1].Capacity.IsZero())
	assert.Equal(t, domain.SeverityCritical, open[1].Severity)
}

func TestConcurrentWritesKeepOneOpenRowPerDay(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p"+string(rune('a'+i)), "2024-03-04", "2024-03-04", 30))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.True(t, open[0].TotalAllocation.Equal(pct(180)), "total %s", open[0].TotalAllocation)
	assert.Len(t, open[0].Contributors, 6)
}

func TestLifecycleEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteAllocation(env.Ctx, first.ID, "planner"))

	count := func(evtType string) int {
		evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrganizationID: orgID, Type: evtType})
		require.NoError(t, err)
		return len(evts)
	}
	assert.Equal(t, 2, count(events.AllocationCreated))
	assert.Equal(t, 1, count(events.AllocationDeleted))
	assert.Equal(t, 1, count(events.ConflictCreated))
	assert.Equal(t, 1, count(events.ConflictResolved))

	resolved, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.ConflictResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, events.SystemActor, resolved[0].ActorID)
	assert.Contains(t, resolved[0].Payload, `"state":"auto_resolved"`)
}

func TestReopenPolicyReusesAutoResolvedRow(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Conflicts.Recurrence = config.RecurrenceReopenAuto })
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	second, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	original := env.openConflicts(t, "alice")
	require.Len(t, original, 1)

	require.NoError(t, env.Engine.DeleteAllocation(env.Ctx, second.ID, "planner"))
	require.Empty(t, env.openConflicts(t, "alice"))

	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p3", "2024-03-04", "2024-03-04", 70))
	require.NoError(t, err)
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.Equal(t, original[0].ID, open[0].ID)
	assert.True(t, open[0].TotalAllocation.Equal(pct(130)))
	assert.Len(t, env.allConflicts(t, "alice"), 1)
}

func TestPreserveHistoryCreatesNewRow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	second, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteAllocation(env.Ctx, second.ID, "planner"))
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p3", "2024-03-04", "2024-03-04", 70))
	require.NoError(t, err)

	assert.Len(t, env.openConflicts(t, "alice"), 1)
	assert.Len(t, env.allConflicts(t, "alice"), 2)
}

func TestLoadView(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-05", 60))
	require.NoError(t, err)
	_, err = env.Engine.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-05", "2024-03-05", 60))
	require.NoError(t, err)

	days, err := env.Engine.Load(env.Ctx, "alice", domain.DateRange{Start: d("2024-03-03"), End: d("2024-03-05")})
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.True(t, days[0].Total.IsZero())
	assert.Equal(t, domain.Severity(""), days[0].Severity)
	assert.True(t, days[1].Total.Equal(pct(60)))
	assert.True(t, days[2].Total.Equal(pct(120)))
	assert.Equal(t, domain.SeverityLow, days[2].Severity)

	_, err = env.Engine.Load(env.Ctx, "nobody", domain.DateRange{Start: d("2024-03-03"), End: d("2024-03-05")})
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestRecomputeRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Recompute(env.Ctx, engine.RecomputeRequest{ResourceID: "alice", Range: domain.DateRange{Start: d("2024-03-05"), End: d("2024-03-01")}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDateRange)
	assert.Equal(t, domain.RecomputeFailed, res.State)

	res, err = env.Engine.Recompute(env.Ctx, engine.RecomputeRequest{ResourceID: "nobody", Range: domain.DateRange{Start: d("2024-03-01"), End: d("2024-03-01")}})
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
	assert.Equal(t, domain.RecomputeFailed, res.State)
}

func TestRecomputeTimesOutWhenLockIsHeld(t *testing.T) {
	env := newTestEnv(t)
	eng := env.Engine
	eng.LockWait = 100 * time.Millisecond

	lease, err := eng.Locker.Acquire(env.Ctx, "loadline:resource:alice", time.Minute)
	require.NoError(t, err)
	defer lease.Release(env.Ctx)

	res, err := eng.Recompute(env.Ctx, engine.RecomputeRequest{ResourceID: "alice", Range: domain.DateRange{Start: d("2024-03-01"), End: d("2024-03-01")}})
	var timeout *apperrors.LockTimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, domain.RecomputeFailed, res.State)

	// The allocation is kept even when its recomputation cannot run.
	a, err := eng.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.Error(t, err)
	assert.NotEmpty(t, a.ID)
	stored, err := eng.GetAllocation(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.ProjectID)
}

// lapsedLocker hands out leases that have already expired.
type lapsedLocker struct{}

func (lapsedLocker) Acquire(_ context.Context, key string, _ time.Duration) (lock.Lease, error) {
	return lapsedLease{key: key}, nil
}

type lapsedLease struct{ key string }

func (l lapsedLease) Key() string                       { return l.key }
func (lapsedLease) Valid(context.Context) (bool, error) { return false, nil }
func (lapsedLease) Release(context.Context) error       { return apperrors.ErrLockLost }

func TestLostLockLeavesNoPartialWrites(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 60))
	require.NoError(t, err)

	lapsed := env.Engine
	lapsed.Locker = lapsedLocker{}
	a, err := lapsed.RecordAllocation(env.Ctx, hard("alice", "p2", "2024-03-04", "2024-03-04", 60))
	require.ErrorIs(t, err, apperrors.ErrLockLost)
	assert.True(t, apperrors.IsRetryable(err))
	assert.NotEmpty(t, a.ID, "the allocation itself is committed before recomputation")

	rng := domain.DateRange{Start: d("2024-03-04"), End: d("2024-03-04")}
	res, err := lapsed.Recompute(env.Ctx, engine.RecomputeRequest{ResourceID: "alice", Range: rng})
	require.ErrorIs(t, err, apperrors.ErrLockLost)
	assert.Equal(t, domain.RecomputeFailed, res.State)
	assert.NotEmpty(t, res.Error)

	assert.Empty(t, env.allConflicts(t, "alice"))
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrganizationID: orgID, Type: events.ConflictCreated})
	require.NoError(t, err)
	assert.Empty(t, evts, "rolled back conflicts emit no events")

	res, err = env.Engine.Recompute(env.Ctx, engine.RecomputeRequest{ResourceID: "alice", Range: rng})
	require.NoError(t, err)
	assert.Equal(t, domain.RecomputeDone, res.State)
	assert.Equal(t, 1, res.Outcome.Created)
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.True(t, open[0].TotalAllocation.Equal(pct(120)))
}

func TestSetCapacityRecomputesDay(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordAllocation(env.Ctx, hard("alice", "p1", "2024-03-04", "2024-03-04", 80))
	require.NoError(t, err)
	assert.Empty(t, env.openConflicts(t, "alice"))

	entry, err := env.Engine.SetCapacity(env.Ctx, "alice", d("2024-03-04"), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, "ws-1", entry.WorkspaceID)
	open := env.openConflicts(t, "alice")
	require.Len(t, open, 1)
	assert.Equal(t, domain.SeverityMedium, open[0].Severity, "80%% against 62.5%% capacity")

	require.NoError(t, env.Engine.ClearCapacity(env.Ctx, "alice", d("2024-03-04")))
	assert.Empty(t, env.openConflicts(t, "alice"))

	_, err = env.Engine.SetCapacity(env.Ctx, "alice", d("2024-03-04"), decimal.NewFromInt(25))
	assert.ErrorIs(t, err, apperrors.ErrInvalidField)
}
