package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	AllocationCreated = "allocation.created"
	AllocationUpdated = "allocation.updated"
	AllocationDeleted = "allocation.deleted"
	ConflictCreated   = "conflict.created"
	ConflictUpdated   = "conflict.updated"
	ConflictResolved  = "conflict.resolved"

	KindAllocation = "allocation"
	KindConflict   = "conflict"

	// SystemActor is recorded for changes made by recomputation.
	SystemActor = "system"
)

// Writer appends events in the caller's transaction so an event exists iff
// the state change it describes committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry describes one event row.
type Entry struct {
	Type           string
	OrganizationID string
	EntityKind     string
	EntityID       string
	ActorID        string
	Payload        EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = SystemActor
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,organization_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.OrganizationID), e.EntityKind, nullable(e.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
