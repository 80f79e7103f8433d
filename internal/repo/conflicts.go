package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"loadline/internal/apperrors"
	"loadline/internal/domain"
)

const conflictColumns = `id,organization_id,resource_id,conflict_date,total_allocation,capacity,affected_projects_json,contributors_json,severity,resolved,detected_at,updated_at,resolved_at,resolved_by_user_id,resolution_note`

func scanConflict(row rowScanner) (domain.ResourceConflict, error) {
	var (
		c                              domain.ResourceConflict
		projectsJSON, contributorsJSON string
		resolved                       int
		resolvedAt, resolvedBy, note   sql.NullString
	)
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ResourceID, &c.ConflictDate, &c.TotalAllocation, &c.Capacity,
		&projectsJSON, &contributorsJSON, &c.Severity, &resolved, &c.DetectedAt, &c.UpdatedAt, &resolvedAt, &resolvedBy, &note)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(projectsJSON), &c.AffectedProjects); err != nil {
		return c, fmt.Errorf("decode affected projects for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(contributorsJSON), &c.Contributors); err != nil {
		return c, fmt.Errorf("decode contributors for %s: %w", c.ID, err)
	}
	c.Resolved = resolved == 1
	c.ResolvedAt = stringPtr(resolvedAt)
	c.ResolvedByUserID = stringPtr(resolvedBy)
	c.ResolutionNote = stringPtr(note)
	return c, nil
}

func encodeLoad(c domain.ResourceConflict) (string, string, error) {
	projects := c.AffectedProjects
	if projects == nil {
		projects = []string{}
	}
	contributors := c.Contributors
	if contributors == nil {
		contributors = []domain.Contributor{}
	}
	p, err := json.Marshal(projects)
	if err != nil {
		return "", "", err
	}
	cb, err := json.Marshal(contributors)
	if err != nil {
		return "", "", err
	}
	return string(p), string(cb), nil
}

func (r Repo) InsertConflictTx(ctx context.Context, tx *sql.Tx, c domain.ResourceConflict) error {
	projects, contributors, err := encodeLoad(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO resource_conflicts(id,organization_id,resource_id,conflict_date,total_allocation,capacity,affected_projects_json,contributors_json,severity,resolved,detected_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,0,?,?)`,
		c.ID, c.OrganizationID, c.ResourceID, c.ConflictDate, c.TotalAllocation.String(), c.Capacity.String(),
		projects, contributors, string(c.Severity), c.DetectedAt, c.UpdatedAt)
	return err
}

// UpdateConflictLoadTx refreshes the load snapshot of an open conflict.
// DetectedAt is never changed.
func (r Repo) UpdateConflictLoadTx(ctx context.Context, tx *sql.Tx, c domain.ResourceConflict) error {
	projects, contributors, err := encodeLoad(c)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE resource_conflicts SET total_allocation=?,capacity=?,affected_projects_json=?,contributors_json=?,severity=?,updated_at=? WHERE id=? AND resolved=0`,
		c.TotalAllocation.String(), c.Capacity.String(), projects, contributors, string(c.Severity), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrAlreadyResolved
	}
	return nil
}

// ResolveConflictTx closes an open conflict. A nil resolvedBy marks a system
// auto-resolution.
func (r Repo) ResolveConflictTx(ctx context.Context, tx *sql.Tx, id, resolvedAt string, resolvedBy *string, note string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resource_conflicts SET resolved=1,resolved_at=?,resolved_by_user_id=?,resolution_note=?,updated_at=? WHERE id=? AND resolved=0`,
		resolvedAt, nullableStringPtr(resolvedBy), nullable(note), resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrAlreadyResolved
	}
	return nil
}

// ReopenConflictTx turns an auto-resolved row back into an open conflict with
// a fresh load snapshot. Manually resolved rows are left alone.
func (r Repo) ReopenConflictTx(ctx context.Context, tx *sql.Tx, c domain.ResourceConflict) error {
	projects, contributors, err := encodeLoad(c)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE resource_conflicts SET resolved=0,resolved_at=NULL,resolved_by_user_id=NULL,resolution_note=NULL,
total_allocation=?,capacity=?,affected_projects_json=?,contributors_json=?,severity=?,updated_at=?
WHERE id=? AND resolved=1 AND resolved_by_user_id IS NULL`,
		c.TotalAllocation.String(), c.Capacity.String(), projects, contributors, string(c.Severity), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reopen conflict %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (r Repo) GetConflict(ctx context.Context, id string) (domain.ResourceConflict, error) {
	return r.GetConflictTx(ctx, nil, id)
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, id string) (domain.ResourceConflict, error) {
	return scanConflict(r.q(tx).QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM resource_conflicts WHERE id=?`, id))
}

type ConflictFilters struct {
	OrganizationID string
	ResourceID     string
	Resolved       *bool
	Range          *domain.DateRange
	Severity       domain.Severity
	Limit          int
}

func (r Repo) ListConflicts(ctx context.Context, f ConflictFilters) ([]domain.ResourceConflict, error) {
	return r.ListConflictsTx(ctx, nil, f)
}

func (r Repo) ListConflictsTx(ctx context.Context, tx *sql.Tx, f ConflictFilters) ([]domain.ResourceConflict, error) {
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
	if f.Resolved != nil {
		clauses = append(clauses, "resolved=?")
		args = append(args, boolInt(*f.Resolved))
	}
	if f.Range != nil {
		clauses = append(clauses, "conflict_date>=? AND conflict_date<=?")
		args = append(args, f.Range.Start, f.Range.End)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, string(f.Severity))
	}
	query := fmt.Sprintf(`SELECT %s FROM resource_conflicts WHERE %s ORDER BY conflict_date, detected_at, id`, conflictColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// OpenConflictsTx indexes the resource's unresolved conflicts in rng by day.
func (r Repo) OpenConflictsTx(ctx context.Context, tx *sql.Tx, resourceID string, rng domain.DateRange) (map[domain.Date]domain.ResourceConflict, error) {
	open := false
	rows, err := r.ListConflictsTx(ctx, tx, ConflictFilters{ResourceID: resourceID, Resolved: &open, Range: &rng})
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Date]domain.ResourceConflict, len(rows))
	for _, c := range rows {
		out[c.ConflictDate] = c
	}
	return out, nil
}

// LatestResolvedConflictsTx returns, per day in rng, the most recently
// resolved conflict row.
func (r Repo) LatestResolvedConflictsTx(ctx context.Context, tx *sql.Tx, resourceID string, rng domain.DateRange) (map[domain.Date]domain.ResourceConflict, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+conflictColumns+` FROM resource_conflicts
WHERE resource_id=? AND resolved=1 AND conflict_date>=? AND conflict_date<=?
ORDER BY conflict_date, resolved_at DESC, detected_at DESC, id DESC`, resourceID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.Date]domain.ResourceConflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := out[c.ConflictDate]; !seen {
			out[c.ConflictDate] = c
		}
	}
	return out, rows.Err()
}
