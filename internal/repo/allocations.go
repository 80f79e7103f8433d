package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loadline/internal/domain"
)

const allocationColumns = `id,resource_id,project_id,task_id,start_date,end_date,allocation_percentage,hours_per_day,type,booking_source,justification,created_at,updated_at`

func scanAllocation(row rowScanner) (domain.ResourceAllocation, error) {
	var (
		a                     domain.ResourceAllocation
		taskID, justification sql.NullString
	)
	err := row.Scan(&a.ID, &a.ResourceID, &a.ProjectID, &taskID, &a.StartDate, &a.EndDate,
		&a.AllocationPercentage, &a.HoursPerDay, &a.Type, &a.BookingSource, &justification, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.TaskID = stringPtr(taskID)
	a.Justification = stringPtr(justification)
	return a, nil
}

func (r Repo) InsertAllocationTx(ctx context.Context, tx *sql.Tx, orgID string, a domain.ResourceAllocation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO allocations(id,organization_id,resource_id,project_id,task_id,start_date,end_date,allocation_percentage,hours_per_day,type,booking_source,justification,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, orgID, a.ResourceID, a.ProjectID, nullableStringPtr(a.TaskID), a.StartDate, a.EndDate,
		a.AllocationPercentage.String(), a.HoursPerDay.String(), string(a.Type), string(a.BookingSource),
		nullableStringPtr(a.Justification), a.CreatedAt, a.UpdatedAt)
	return err
}

// UpdateAllocationTx rewrites the mutable fields. Resource and creation time
// are fixed for the life of an allocation.
func (r Repo) UpdateAllocationTx(ctx context.Context, tx *sql.Tx, a domain.ResourceAllocation) error {
	res, err := tx.ExecContext(ctx, `UPDATE allocations SET project_id=?,task_id=?,start_date=?,end_date=?,allocation_percentage=?,hours_per_day=?,type=?,booking_source=?,justification=?,updated_at=? WHERE id=?`,
		a.ProjectID, nullableStringPtr(a.TaskID), a.StartDate, a.EndDate, a.AllocationPercentage.String(), a.HoursPerDay.String(),
		string(a.Type), string(a.BookingSource), nullableStringPtr(a.Justification), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAllocationTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM allocations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAllocation(ctx context.Context, id string) (domain.ResourceAllocation, error) {
	return r.GetAllocationTx(ctx, nil, id)
}

func (r Repo) GetAllocationTx(ctx context.Context, tx *sql.Tx, id string) (domain.ResourceAllocation, error) {
	return scanAllocation(r.q(tx).QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id=?`, id))
}

type AllocationFilters struct {
	OrganizationID string
	ResourceID     string
	ProjectID      string
	Type           domain.AllocationType
	// Range keeps allocations whose span intersects it.
	Range *domain.DateRange
	Limit int
}

func (r Repo) ListAllocations(ctx context.Context, f AllocationFilters) ([]domain.ResourceAllocation, error) {
	return r.ListAllocationsTx(ctx, nil, f)
}

func (r Repo) ListAllocationsTx(ctx context.Context, tx *sql.Tx, f AllocationFilters) ([]domain.ResourceAllocation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OrganizationID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, f.OrganizationID)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(f.Type))
	}
	if f.Range != nil {
		clauses = append(clauses, "start_date<=? AND end_date>=?")
		args = append(args, f.Range.End, f.Range.Start)
	}
	query := fmt.Sprintf(`SELECT %s FROM allocations WHERE %s ORDER BY start_date, id`, allocationColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AllocationsInRangeTx returns the resource's allocations that overlap rng.
func (r Repo) AllocationsInRangeTx(ctx context.Context, tx *sql.Tx, resourceID string, rng domain.DateRange) ([]domain.ResourceAllocation, error) {
	return r.ListAllocationsTx(ctx, tx, AllocationFilters{ResourceID: resourceID, Range: &rng})
}
