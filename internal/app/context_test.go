package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadline/internal/config"
	"loadline/internal/db"
	"loadline/internal/migrate"
	"loadline/internal/repo"
)

func newRepo(t *testing.T, workspace string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func TestResolveRequiresOrganization(t *testing.T) {
	ws := t.TempDir()
	r := newRepo(t, ws)
	_, _, err := ResolveOrgAndConfig(context.Background(), ws, "", r)
	assert.ErrorContains(t, err, "org init")
}

func TestResolveSeedsFromWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	r := newRepo(t, ws)

	cfg := config.Default("acme")
	cfg.Conflicts.Recurrence = config.RecurrenceReopenAuto
	data, err := cfg.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config.Path(ws), data, 0o644))

	orgID, got, err := ResolveOrgAndConfig(ctx, ws, "acme", r)
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID)
	assert.Equal(t, config.RecurrenceReopenAuto, got.Conflicts.Recurrence)

	orgID, got, err = ResolveOrgAndConfig(ctx, ws, "", r)
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID, "single organization is picked implicitly")
	assert.Equal(t, config.RecurrenceReopenAuto, got.Conflicts.Recurrence)
}
