package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loadline/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(organization_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrganizationID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type EventFilters struct {
	OrganizationID string
	Type           string
	EntityKind     string
	EntityID       string
	// Before returns only events with a smaller id when > 0.
	Before int64
	Limit  int
}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OrganizationID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, f.OrganizationID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if orgID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, orgID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID for an organization.
func (r Repo) LatestEventID(ctx context.Context, orgID string) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE organization_id=?`, orgID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetCursor returns the last event id a sink delivered for an organization;
// ok is false if it has never delivered there.
func (r Repo) GetCursor(ctx context.Context, orgID, sinkID string) (int64, bool, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM delivery_cursors WHERE organization_id=? AND sink_id=?`, orgID, sinkID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r Repo) SaveCursor(ctx context.Context, orgID, sinkID string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO delivery_cursors(organization_id,sink_id,last_event_id,updated_at) VALUES (?,?,?,?)
ON CONFLICT(organization_id,sink_id) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`, orgID, sinkID, eventID, nowRFC3339())
	return err
}
