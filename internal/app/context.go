package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loadline/internal/config"
	"loadline/internal/repo"
)

// ResolveOrgAndConfig picks the active organization and ensures it and its
// config exist in the DB, seeding defaults if missing. It prefers the
// override, then a single-organization DB. A loadline.yml in the workspace,
// when present, seeds the config of a new organization.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	orgID := orgOverride
	if orgID == "" {
		if o, err := r.SingleOrganization(ctx); err == nil {
			orgID = o.ID
		} else if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("no organization yet; run `loadline org init --org <id>`")
		} else {
			return "", nil, err
		}
	}
	seedCfg, err := seedConfig(workspace, orgID)
	if err != nil {
		return "", nil, err
	}

	if _, err := r.GetOrganization(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOrganization(ctx, r, orgID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed organization config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Organization.ID = orgID
	return orgID, cfg, nil
}

func seedConfig(workspace, orgID string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", config.Path(workspace), err)
	}
	if cfg == nil || (cfg.Organization.ID != "" && cfg.Organization.ID != orgID) {
		return config.Default(orgID), nil
	}
	cfg.Organization.ID = orgID
	return cfg, nil
}

// createOrganization inserts the organization row and its seed config.
func createOrganization(ctx context.Context, r repo.Repo, orgID string, seedCfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Organization.Name
	if err := r.EnsureOrg(ctx, tx, orgID, name, now); err != nil {
		return fmt.Errorf("ensure organization: %w", err)
	}
	if err := r.UpsertOrgConfigTx(ctx, tx, orgID, seedCfg); err != nil {
		return fmt.Errorf("insert organization config: %w", err)
	}
	return tx.Commit()
}
