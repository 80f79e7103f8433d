package lifecycle

import (
	"sort"

	"loadline/internal/config"
	"loadline/internal/domain"
)

type RecurrenceAction int

const (
	// CreateNew inserts a fresh open row; previous rows stay as history.
	CreateNew RecurrenceAction = iota
	// Reopen flips the previous auto-resolved row back to open.
	Reopen
	// Suppress leaves the day without an open row.
	Suppress
)

func (a RecurrenceAction) String() string {
	switch a {
	case Reopen:
		return "reopen"
	case Suppress:
		return "suppress"
	default:
		return "create"
	}
}

// RecurrencePolicy decides what happens when a day is over capacity and has
// no open conflict. prev is the latest resolved row for that day, or nil.
type RecurrencePolicy interface {
	OnRecurrence(prev *domain.ResourceConflict, next domain.ResourceConflict) RecurrenceAction
}

// PreserveHistory always creates a new row, except that a manual resolution
// stands while the day's load is unchanged.
type PreserveHistory struct{}

func (PreserveHistory) OnRecurrence(prev *domain.ResourceConflict, next domain.ResourceConflict) RecurrenceAction {
	if manualStillApplies(prev, next) {
		return Suppress
	}
	return CreateNew
}

// ReopenAutoResolved reuses the previous row when the system closed it, so a
// day that flaps around capacity keeps one conflict id.
type ReopenAutoResolved struct{}

func (ReopenAutoResolved) OnRecurrence(prev *domain.ResourceConflict, next domain.ResourceConflict) RecurrenceAction {
	switch {
	case prev == nil:
		return CreateNew
	case manualStillApplies(prev, next):
		return Suppress
	case prev.AutoResolved():
		return Reopen
	default:
		return CreateNew
	}
}

// PolicyFor maps conflicts.recurrence to a policy; unknown names get the
// default.
func PolicyFor(name string) RecurrencePolicy {
	if name == config.RecurrenceReopenAuto {
		return ReopenAutoResolved{}
	}
	return PreserveHistory{}
}

func manualStillApplies(prev *domain.ResourceConflict, next domain.ResourceConflict) bool {
	return prev != nil && prev.Resolved && !prev.AutoResolved() && SameLoad(*prev, next)
}

// SameLoad reports whether two rows describe the same overage: equal total,
// capacity and severity, and the same contributing allocations.
func SameLoad(a, b domain.ResourceConflict) bool {
	if !a.TotalAllocation.Equal(b.TotalAllocation) || !a.Capacity.Equal(b.Capacity) || a.Severity != b.Severity {
		return false
	}
	if len(a.Contributors) != len(b.Contributors) {
		return false
	}
	ac, bc := sortedContributors(a.Contributors), sortedContributors(b.Contributors)
	for i := range ac {
		x, y := ac[i], bc[i]
		if x.AllocationID != y.AllocationID || x.Type != y.Type || x.ProjectID != y.ProjectID ||
			!x.Percentage.Equal(y.Percentage) || !x.Weight.Equal(y.Weight) {
			return false
		}
	}
	return true
}

func sortedContributors(in []domain.Contributor) []domain.Contributor {
	out := append([]domain.Contributor(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].AllocationID < out[j].AllocationID })
	return out
}
