// Package db opens the workspace's SQLite store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".loadline"
	fileName     = "loadline.db"
	busyTimeout  = 5000
)

type Config struct {
	Workspace string
}

func workspaceOrCwd(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// EnsureWorkspace creates the .loadline directory under workspace.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspaceOrCwd(workspace), workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Path is where Open keeps the database for workspace.
func Path(workspace string) string {
	return filepath.Join(workspaceOrCwd(workspace), workspaceDir, fileName)
}

// Open returns a handle with foreign keys, WAL and a busy timeout. The pool
// holds one connection; never use the *sql.DB while a *sql.Tx is open on it.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		Path(cfg.Workspace), busyTimeout)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
