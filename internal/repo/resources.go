package repo

import (
	"context"
	"database/sql"

	"loadline/internal/domain"
)

const resourceColumns = `id,organization_id,workspace_id,COALESCE(name,''),active,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (domain.Resource, error) {
	var res domain.Resource
	var active int
	err := row.Scan(&res.ID, &res.OrganizationID, &res.WorkspaceID, &res.Name, &active, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	res.Active = active == 1
	return res, err
}

// UpsertResource mirrors a directory record locally. CreatedAt is kept on
// update.
func (r Repo) UpsertResource(ctx context.Context, res domain.Resource) error {
	if res.CreatedAt == "" {
		res.CreatedAt = nowRFC3339()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO resources(id,organization_id,workspace_id,name,active,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET workspace_id=excluded.workspace_id, name=excluded.name, active=excluded.active`,
		res.ID, res.OrganizationID, res.WorkspaceID, nullable(res.Name), boolInt(res.Active), res.CreatedAt)
	return err
}

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return r.GetResourceTx(ctx, nil, id)
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(r.q(tx).QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) SetResourceActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE resources SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListResources(ctx context.Context, orgID string) ([]domain.Resource, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE organization_id=? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		item, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
