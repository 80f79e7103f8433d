package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesWorkspaceAndPragmas(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping())
	_, err = os.Stat(Path(ws))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ".loadline", "loadline.db"), Path(ws))

	var mode string
	require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestPathDefaultsToCurrentDir(t *testing.T) {
	assert.Equal(t, filepath.Join(".", ".loadline", "loadline.db"), Path(""))
}
