// Package registry persists session and terminal-tab records in SQLite.
// It is the single durable source of truth for which sessions exist; the
// filesystem state they describe is validated separately by the lifecycle
// manager.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Session is a durable session record. Field semantics follow the lifecycle
// manager: BranchName is the isolation branch derived from the session id,
// BaseRevision the commit the branch forked from.
type Session struct {
	SessionID      string
	RepositoryID   string
	DisplayName    string
	BranchName     string
	WorktreePath   string
	BaseBranch     string
	BaseRevision   string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Tab is a durable terminal-tab record, foreign-keyed to its session.
// WorktreePath/BranchName are empty when the tab shares the parent
// session's worktree.
type Tab struct {
	RepositoryID  string
	SessionID     string
	TabID         string
	WorktreePath  string
	BranchName    string
	BaseBranch    string
	Index         int
	LastFocusedAt time.Time
}

// Registry wraps the SQLite database holding session records.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if necessary) the registry database at dbPath.
// Pass ":memory:" for an ephemeral registry in tests.
func Open(dbPath string) (*Registry, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL,
		worktree_path TEXT NOT NULL,
		base_branch TEXT NOT NULL,
		base_revision TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS terminal_tabs (
		repository_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		tab_id TEXT NOT NULL,
		worktree_path TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		base_branch TEXT NOT NULL DEFAULT '',
		tab_index INTEGER NOT NULL DEFAULT 0,
		last_focused_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, tab_id),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_repository ON sessions(repository_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Put inserts or replaces a session record.
func (r *Registry) Put(s *Session) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO sessions
		(session_id, repository_id, display_name, branch_name, worktree_path,
		 base_branch, base_revision, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.RepositoryID, s.DisplayName, s.BranchName, s.WorktreePath,
		s.BaseBranch, s.BaseRevision, s.CreatedAt, s.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.SessionID, err)
	}
	return nil
}

// Get returns the session record for sessionID, or ErrNotFound.
func (r *Registry) Get(sessionID string) (*Session, error) {
	row := r.db.QueryRow(`
		SELECT session_id, repository_id, display_name, branch_name, worktree_path,
		       base_branch, base_revision, created_at, last_accessed_at
		FROM sessions WHERE session_id = ?`, sessionID)

	var s Session
	err := row.Scan(&s.SessionID, &s.RepositoryID, &s.DisplayName, &s.BranchName,
		&s.WorktreePath, &s.BaseBranch, &s.BaseRevision, &s.CreatedAt, &s.LastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return &s, nil
}

// List returns all sessions for a repository, most recently accessed first.
func (r *Registry) List(repositoryID string) ([]*Session, error) {
	rows, err := r.db.Query(`
		SELECT session_id, repository_id, display_name, branch_name, worktree_path,
		       base_branch, base_revision, created_at, last_accessed_at
		FROM sessions WHERE repository_id = ?
		ORDER BY last_accessed_at DESC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.RepositoryID, &s.DisplayName, &s.BranchName,
			&s.WorktreePath, &s.BaseBranch, &s.BaseRevision, &s.CreatedAt, &s.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// Delete removes a session record (and, via cascade, its tabs). Returns
// whether a record existed.
func (r *Registry) Delete(sessionID string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Touch bumps last_accessed_at for a session.
func (r *Registry) Touch(sessionID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE sessions SET last_accessed_at = ? WHERE session_id = ?`, at, sessionID)
	return err
}

// Rename updates the display name of a session.
func (r *Registry) Rename(sessionID, displayName string) error {
	res, err := r.db.Exec(`UPDATE sessions SET display_name = ? WHERE session_id = ?`, displayName, sessionID)
	if err != nil {
		return fmt.Errorf("failed to rename session %s: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutTab inserts or replaces a tab record.
func (r *Registry) PutTab(t *Tab) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO terminal_tabs
		(repository_id, session_id, tab_id, worktree_path, branch_name,
		 base_branch, tab_index, last_focused_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RepositoryID, t.SessionID, t.TabID, t.WorktreePath, t.BranchName,
		t.BaseBranch, t.Index, t.LastFocusedAt)
	if err != nil {
		return fmt.Errorf("failed to store tab %s/%s: %w", t.SessionID, t.TabID, err)
	}
	return nil
}

// GetTab returns the tab record, or ErrNotFound.
func (r *Registry) GetTab(sessionID, tabID string) (*Tab, error) {
	row := r.db.QueryRow(`
		SELECT repository_id, session_id, tab_id, worktree_path, branch_name,
		       base_branch, tab_index, last_focused_at
		FROM terminal_tabs WHERE session_id = ? AND tab_id = ?`, sessionID, tabID)

	var t Tab
	err := row.Scan(&t.RepositoryID, &t.SessionID, &t.TabID, &t.WorktreePath,
		&t.BranchName, &t.BaseBranch, &t.Index, &t.LastFocusedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tab %s/%s: %w", sessionID, tabID, err)
	}
	return &t, nil
}

// ListTabs returns all tabs of a session ordered by index.
func (r *Registry) ListTabs(sessionID string) ([]*Tab, error) {
	rows, err := r.db.Query(`
		SELECT repository_id, session_id, tab_id, worktree_path, branch_name,
		       base_branch, tab_index, last_focused_at
		FROM terminal_tabs WHERE session_id = ?
		ORDER BY tab_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	defer rows.Close()

	var tabs []*Tab
	for rows.Next() {
		var t Tab
		if err := rows.Scan(&t.RepositoryID, &t.SessionID, &t.TabID, &t.WorktreePath,
			&t.BranchName, &t.BaseBranch, &t.Index, &t.LastFocusedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tab row: %w", err)
		}
		tabs = append(tabs, &t)
	}
	return tabs, rows.Err()
}

// DeleteTab removes a tab record. Returns whether a record existed.
func (r *Registry) DeleteTab(sessionID, tabID string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM terminal_tabs WHERE session_id = ? AND tab_id = ?`, sessionID, tabID)
	if err != nil {
		return false, fmt.Errorf("failed to delete tab %s/%s: %w", sessionID, tabID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FocusTab bumps last_focused_at for a tab.
func (r *Registry) FocusTab(sessionID, tabID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE terminal_tabs SET last_focused_at = ? WHERE session_id = ? AND tab_id = ?`,
		at, sessionID, tabID)
	return err
}
