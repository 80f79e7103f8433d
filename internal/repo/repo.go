package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"loadline/internal/apperrors"
	"loadline/internal/config"
	"loadline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = apperrors.ErrNotFound

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EnsureOrg inserts the organization if it does not exist.
func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, createdAt string) error {
	if name == "" {
		name = id
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO organizations(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, createdAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM organizations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// SingleOrganization returns the only organization, for workspaces that do
// not name one explicitly.
func (r Repo) SingleOrganization(ctx context.Context) (domain.Organization, error) {
	orgs, err := r.ListOrganizations(ctx)
	if err != nil {
		return domain.Organization{}, err
	}
	if len(orgs) == 0 {
		return domain.Organization{}, ErrNotFound
	}
	if len(orgs) > 1 {
		return domain.Organization{}, fmt.Errorf("multiple organizations exist; specify --org")
	}
	return orgs[0], nil
}

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return r.UpsertOrgConfigTx(ctx, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Organization.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO org_configs(organization_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(organization_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE organization_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Organization.ID == "" {
		cfg.Organization.ID = orgID
	}
	return &cfg, cfg.Validate()
}
