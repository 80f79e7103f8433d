package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"loadline/internal/domain"
)

func (r Repo) UpsertCapacityEntry(ctx context.Context, e domain.CapacityEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO capacity_entries(organization_id,workspace_id,user_id,date,capacity_hours) VALUES (?,?,?,?,?)
ON CONFLICT(workspace_id,user_id,date) DO UPDATE SET capacity_hours=excluded.capacity_hours`,
		e.OrganizationID, e.WorkspaceID, e.UserID, e.Date, e.CapacityHours.String())
	return err
}

func (r Repo) DeleteCapacityEntry(ctx context.Context, workspaceID, userID string, date domain.Date) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM capacity_entries WHERE workspace_id=? AND user_id=? AND date=?`, workspaceID, userID, date)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCapacityEntries(ctx context.Context, workspaceID, userID string, rng domain.DateRange) ([]domain.CapacityEntry, error) {
	return r.listCapacityEntries(ctx, r.DB, workspaceID, userID, rng)
}

func (r Repo) listCapacityEntries(ctx context.Context, q querier, workspaceID, userID string, rng domain.DateRange) ([]domain.CapacityEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT organization_id,workspace_id,user_id,date,capacity_hours FROM capacity_entries
WHERE workspace_id=? AND user_id=? AND date>=? AND date<=? ORDER BY date`, workspaceID, userID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CapacityEntry
	for rows.Next() {
		var e domain.CapacityEntry
		if err := rows.Scan(&e.OrganizationID, &e.WorkspaceID, &e.UserID, &e.Date, &e.CapacityHours); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CapacityHoursTx returns explicit capacity hours keyed by date. Dates with
// no entry are absent from the map.
func (r Repo) CapacityHoursTx(ctx context.Context, tx *sql.Tx, workspaceID, userID string, rng domain.DateRange) (map[domain.Date]decimal.Decimal, error) {
	entries, err := r.listCapacityEntries(ctx, r.q(tx), workspaceID, userID, rng)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Date]decimal.Decimal, len(entries))
	for _, e := range entries {
		out[e.Date] = e.CapacityHours
	}
	return out, nil
}
