package domain

import (
	"github.com/shopspring/decimal"
)

type AllocationType string

const (
	AllocationHard  AllocationType = "HARD"
	AllocationSoft  AllocationType = "SOFT"
	AllocationGhost AllocationType = "GHOST"
)

func (t AllocationType) Valid() bool {
	switch t {
	case AllocationHard, AllocationSoft, AllocationGhost:
		return true
	}
	return false
}

type BookingSource string

const (
	BookingManual BookingSource = "MANUAL"
	BookingJira   BookingSource = "JIRA"
	BookingGitHub BookingSource = "GITHUB"
	BookingAI     BookingSource = "AI"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; NoConflict ranks zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Resource is a person whose time is allocated. Owned by the identity
// directory; the engine only reads it.
type Resource struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	WorkspaceID    string `json:"workspace_id"`
	Name           string `json:"name,omitempty"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
}

type ResourceAllocation struct {
	ID                   string          `json:"id"`
	ResourceID           string          `json:"resource_id"`
	ProjectID            string          `json:"project_id"`
	TaskID               *string         `json:"task_id,omitempty"`
	StartDate            Date            `json:"start_date"`
	EndDate              Date            `json:"end_date"`
	AllocationPercentage decimal.Decimal `json:"allocation_percentage"`
	HoursPerDay          decimal.Decimal `json:"hours_per_day"`
	Type                 AllocationType  `json:"type"`
	BookingSource        BookingSource   `json:"booking_source"`
	Justification        *string         `json:"justification,omitempty"`
	CreatedAt            string          `json:"created_at"`
	UpdatedAt            string          `json:"updated_at"`
}

func (a ResourceAllocation) Range() DateRange {
	return DateRange{Start: a.StartDate, End: a.EndDate}
}

type CapacityEntry struct {
	OrganizationID string          `json:"organization_id"`
	WorkspaceID    string          `json:"workspace_id"`
	UserID         string          `json:"user_id"`
	Date           Date            `json:"date"`
	CapacityHours  decimal.Decimal `json:"capacity_hours"`
}

// Contributor is one allocation's share of a day's load. Weight is the
// policy multiplier applied to Percentage; GHOST contributors appear with
// weight zero.
type Contributor struct {
	AllocationID string          `json:"allocation_id"`
	ProjectID    string          `json:"project_id"`
	TaskID       *string         `json:"task_id,omitempty"`
	Type         AllocationType  `json:"type"`
	Percentage   decimal.Decimal `json:"percentage"`
	Weight       decimal.Decimal `json:"weight"`
}

// Weighted reports the amount this contributor adds to the day's total.
func (c Contributor) Weighted() decimal.Decimal {
	return c.Percentage.Mul(c.Weight)
}

type ResourceConflict struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	ResourceID       string          `json:"resource_id"`
	ConflictDate     Date            `json:"conflict_date"`
	TotalAllocation  decimal.Decimal `json:"total_allocation"`
	Capacity         decimal.Decimal `json:"capacity"`
	AffectedProjects []string        `json:"affected_projects"`
	Contributors     []Contributor   `json:"contributors"`
	Severity         Severity        `json:"severity"`
	Resolved         bool            `json:"resolved"`
	DetectedAt       string          `json:"detected_at"`
	UpdatedAt        string          `json:"updated_at"`
	ResolvedAt       *string         `json:"resolved_at,omitempty"`
	ResolvedByUserID *string         `json:"resolved_by_user_id,omitempty"`
	ResolutionNote   *string         `json:"resolution_note,omitempty"`
}

// AutoResolved is true for rows closed by recomputation rather than a person.
func (c ResourceConflict) AutoResolved() bool {
	return c.Resolved && c.ResolvedByUserID == nil
}

// State is the lifecycle label used for event idempotency keys.
func (c ResourceConflict) State() string {
	if !c.Resolved {
		return "open"
	}
	if c.AutoResolved() {
		return "auto_resolved"
	}
	return "resolved"
}

type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts"`
	Type           string `json:"type"`
	OrganizationID string `json:"organization_id"`
	EntityKind     string `json:"entity_kind"`
	EntityID       string `json:"entity_id"`
	ActorID        string `json:"actor_id"`
	Payload        string `json:"payload"`
}

// RecomputeState tracks a recomputation request through the coordinator.
type RecomputeState string

const (
	RecomputeQueued      RecomputeState = "queued"
	RecomputeLocked      RecomputeState = "locked"
	RecomputeAggregating RecomputeState = "aggregating"
	RecomputeClassifying RecomputeState = "classifying"
	RecomputeReconciling RecomputeState = "reconciling"
	RecomputeDone        RecomputeState = "done"
	RecomputeFailed      RecomputeState = "failed"
)

var recomputeNext = map[RecomputeState]RecomputeState{
	RecomputeQueued:      RecomputeLocked,
	RecomputeLocked:      RecomputeAggregating,
	RecomputeAggregating: RecomputeClassifying,
	RecomputeClassifying: RecomputeReconciling,
	RecomputeReconciling: RecomputeDone,
}

// CanTransition reports whether from -> to is a legal step. Failed is
// reachable from every non-terminal state.
func (s RecomputeState) CanTransition(to RecomputeState) bool {
	if s.Terminal() {
		return false
	}
	if to == RecomputeFailed {
		return true
	}
	return recomputeNext[s] == to
}

func (s RecomputeState) Terminal() bool {
	return s == RecomputeDone || s == RecomputeFailed
}
