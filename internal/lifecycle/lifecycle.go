// Package lifecycle creates, validates and tears down per-session isolated
// working copies. It is the only component allowed to mutate worktrees and
// isolation branches; everything else observes them through the registry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/perchbox/perch/internal/logger"
	"github.com/perchbox/perch/internal/registry"
	"github.com/perchbox/perch/internal/repostore"
	"github.com/perchbox/perch/internal/vcs"
)

// ErrSessionNotFound is returned when an operation references a session that
// has no registry record.
var ErrSessionNotFound = errors.New("session not found")

// Hook runs after a session's worktree has been created and its record
// persisted. Hook errors are logged and never fail the create.
type Hook func(ctx context.Context, s *registry.Session) error

// TabHook runs after a tab's worktree has been created (only for tabs with
// their own isolated worktree). Errors are logged and never fail the create.
type TabHook func(ctx context.Context, t *registry.Tab) error

// Registrar is the slice of the session registry the lifecycle manager
// needs. *registry.Registry satisfies it.
type Registrar interface {
	Put(s *registry.Session) error
	Get(sessionID string) (*registry.Session, error)
	List(repositoryID string) ([]*registry.Session, error)
	Delete(sessionID string) (bool, error)
	Touch(sessionID string, at time.Time) error
	Rename(sessionID, displayName string) error
	PutTab(t *registry.Tab) error
	GetTab(sessionID, tabID string) (*registry.Tab, error)
	ListTabs(sessionID string) ([]*registry.Tab, error)
	DeleteTab(sessionID, tabID string) (bool, error)
	FocusTab(sessionID, tabID string, at time.Time) error
}

// TerminalReaper kills the multiplexer sessions backing a session or tab.
// The lifecycle manager invokes it during deletion so no terminal process
// keeps the worktree directory busy.
type TerminalReaper interface {
	DropSession(sessionID string)
	DropTab(sessionID, tabID string)
}

// CreateRequest carries the parameters of a session create.
type CreateRequest struct {
	RepositoryID string
	SessionID    string
	DisplayName  string
	BaseBranch   string // empty means the repository's default branch
}

// Session is a lifecycle view of a registry record.
type Session struct {
	registry.Session
	IsExisting bool
	IsValid    bool
}

// CreateTabRequest carries the parameters of a tab create. When Isolated is
// set the tab gets its own nested worktree and branch forked from the parent
// session's branch; otherwise it shares the parent worktree.
type CreateTabRequest struct {
	RepositoryID string
	SessionID    string
	TabID        string
	Isolated     bool
	Index        int
}

// Manager owns session and tab lifecycle. Creation and deletion for the same
// sessionId are mutually exclusive; different sessions proceed in parallel.
type Manager struct {
	reg   Registrar
	store *repostore.Store
	git   vcs.VCS

	reaper   TerminalReaper
	hooks    []Hook
	tabHooks []TabHook

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Manager. The reaper and hooks are optional and attached via
// SetReaper / AddHook / AddTabHook before serving requests.
func New(reg Registrar, store *repostore.Store, git vcs.VCS) *Manager {
	return &Manager{
		reg:   reg,
		store: store,
		git:   git,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetReaper attaches the terminal reaper consulted during deletion.
func (m *Manager) SetReaper(r TerminalReaper) {
	m.reaper = r
}

// AddHook registers a post-create hook for sessions.
func (m *Manager) AddHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

// AddTabHook registers a post-create hook for isolated tabs.
func (m *Manager) AddTabHook(h TabHook) {
	m.tabHooks = append(m.tabHooks, h)
}

// IdentityHook returns a Hook that seeds the worktree's local git identity
// so the agent can commit without global configuration.
func IdentityHook(git vcs.VCS, name, email string) Hook {
	return func(ctx context.Context, s *registry.Session) error {
		return git.SetLocalIdentity(ctx, s.WorktreePath, name, email)
	}
}

// BranchName returns the deterministic isolation branch for a session.
func BranchName(sessionID string) string {
	return "perch/" + sessionID
}

// TabBranchName returns the deterministic isolation branch for a tab.
func TabBranchName(sessionID, tabID string) string {
	return fmt.Sprintf("perch/%s/tab-%s", sessionID, tabID)
}

// lockFor returns the per-session mutex, creating it on first use. Mutexes
// are never evicted; the map grows with the set of session ids ever seen,
// which is bounded in practice.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Create materializes a session. It is idempotent: an existing record with a
// valid worktree is returned unchanged with IsExisting set; a record whose
// worktree has gone missing is reconciled by discarding the stale record and
// branch before creating fresh state under the same id.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.SessionID == "" {
		return nil, errors.New("session id must not be empty")
	}

	l := m.lockFor(req.SessionID)
	l.Lock()
	defer l.Unlock()

	repoDir, err := m.store.Resolve(ctx, req.RepositoryID)
	if err != nil {
		return nil, err
	}

	existing, err := m.reg.Get(req.SessionID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if m.git.IsWorkingCopy(ctx, existing.WorktreePath) {
			if err := m.reg.Touch(req.SessionID, time.Now().UTC()); err != nil {
				logger.Warn("failed to touch session %s: %v", req.SessionID, err)
			}
			return &Session{Session: *existing, IsExisting: true, IsValid: true}, nil
		}
		logger.Info("session %s has stale worktree %s, reconciling", req.SessionID, existing.WorktreePath)
		// Keep the stale record's metadata when the caller didn't supply any.
		if req.DisplayName == "" {
			req.DisplayName = existing.DisplayName
		}
		if req.BaseBranch == "" {
			req.BaseBranch = existing.BaseBranch
		}
		m.reconcile(ctx, repoDir, existing)
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = m.git.DefaultBranch(ctx, repoDir)
	}

	baseRevision, err := m.git.RevParse(ctx, repoDir, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base branch %q: %w", baseBranch, err)
	}

	branch := BranchName(req.SessionID)
	worktreePath := m.store.WorktreePath(req.RepositoryID, req.SessionID)

	// A leftover branch from an earlier failed create would make
	// worktree add -b fail; clear it first.
	if m.git.BranchExists(ctx, repoDir, branch) {
		if err := m.git.DeleteBranch(ctx, repoDir, branch); err != nil {
			logger.Warn("failed to delete stale branch %s: %v", branch, err)
		}
	}

	if err := m.git.WorktreeAdd(ctx, repoDir, worktreePath, branch, baseRevision); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	now := time.Now().UTC()
	rec := &registry.Session{
		SessionID:      req.SessionID,
		RepositoryID:   req.RepositoryID,
		DisplayName:    req.DisplayName,
		BranchName:     branch,
		WorktreePath:   worktreePath,
		BaseBranch:     baseBranch,
		BaseRevision:   baseRevision,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := m.reg.Put(rec); err != nil {
		// Roll back so a failed create leaves no orphan worktree.
		if rmErr := m.git.WorktreeRemove(ctx, repoDir, worktreePath); rmErr != nil {
			logger.Warn("rollback: failed to remove worktree %s: %v", worktreePath, rmErr)
			os.RemoveAll(worktreePath)
		}
		if brErr := m.git.DeleteBranch(ctx, repoDir, branch); brErr != nil {
			logger.Warn("rollback: failed to delete branch %s: %v", branch, brErr)
		}
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	for _, h := range m.hooks {
		if err := h(ctx, rec); err != nil {
			logger.Warn("post-create hook failed for session %s: %v", req.SessionID, err)
		}
	}

	logger.Info("created session %s on %s (branch %s at %s)", req.SessionID, req.RepositoryID, branch, baseRevision)
	return &Session{Session: *rec, IsValid: true}, nil
}

// reconcile removes the remnants of a session whose worktree disappeared
// out-of-band. Every step is best-effort.
func (m *Manager) reconcile(ctx context.Context, repoDir string, stale *registry.Session) {
	if err := m.git.WorktreeRemove(ctx, repoDir, stale.WorktreePath); err != nil {
		logger.Debug("reconcile: worktree remove %s: %v", stale.WorktreePath, err)
	}
	if err := m.git.WorktreePrune(ctx, repoDir); err != nil {
		logger.Debug("reconcile: worktree prune: %v", err)
	}
	if err := m.git.DeleteBranch(ctx, repoDir, stale.BranchName); err != nil {
		logger.Debug("reconcile: branch delete %s: %v", stale.BranchName, err)
	}
	if _, err := m.reg.Delete(stale.SessionID); err != nil {
		logger.Warn("reconcile: failed to delete stale record %s: %v", stale.SessionID, err)
	}
}

// Delete tears down a session. It returns false when no record exists. Every
// cleanup step is tolerant of partial prior failure so deletion converges
// even after crashes or manual intervention.
func (m *Manager) Delete(ctx context.Context, repositoryID, sessionID string) (bool, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.reg.Get(sessionID)
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if m.reaper != nil {
		m.reaper.DropSession(sessionID)
	}

	repoDir, err := m.store.Resolve(ctx, repositoryID)
	if err != nil {
		// Canonical clone gone; fall back to plain filesystem removal.
		logger.Warn("delete: repository %s unavailable: %v", repositoryID, err)
		repoDir = ""
	}

	tabs, err := m.reg.ListTabs(sessionID)
	if err != nil {
		logger.Warn("delete: failed to list tabs for %s: %v", sessionID, err)
	}
	for _, t := range tabs {
		if t.WorktreePath != "" {
			m.removeWorktree(ctx, repoDir, t.WorktreePath, t.BranchName)
		}
	}

	m.removeWorktree(ctx, repoDir, rec.WorktreePath, rec.BranchName)

	if repoDir != "" {
		if err := m.git.WorktreePrune(ctx, repoDir); err != nil {
			logger.Debug("delete: worktree prune: %v", err)
		}
	}

	if _, err := m.reg.Delete(sessionID); err != nil {
		return false, fmt.Errorf("failed to delete session record: %w", err)
	}

	logger.Info("deleted session %s on %s", sessionID, repositoryID)
	return true, nil
}

func (m *Manager) removeWorktree(ctx context.Context, repoDir, path, branch string) {
	removed := false
	if repoDir != "" {
		if err := m.git.WorktreeRemove(ctx, repoDir, path); err != nil {
			logger.Debug("worktree remove %s: %v", path, err)
		} else {
			removed = true
		}
	}
	if !removed {
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove %s: %v", path, err)
		}
	}
	if repoDir != "" && branch != "" {
		if err := m.git.DeleteBranch(ctx, repoDir, branch); err != nil {
			logger.Debug("branch delete %s: %v", branch, err)
		}
	}
}

// Validate reports whether the session's worktree exists on disk and is a
// recognizable working copy. Unknown sessions are invalid.
func (m *Manager) Validate(ctx context.Context, sessionID string) bool {
	rec, err := m.reg.Get(sessionID)
	if err != nil {
		return false
	}
	return m.git.IsWorkingCopy(ctx, rec.WorktreePath)
}

// Touch bumps the session's last-access timestamp. Best-effort: errors are
// logged and never surfaced to the caller.
func (m *Manager) Touch(sessionID string) {
	if err := m.reg.Touch(sessionID, time.Now().UTC()); err != nil {
		logger.Warn("failed to touch session %s: %v", sessionID, err)
	}
}

// Rename updates a session's display name.
func (m *Manager) Rename(sessionID, displayName string) error {
	err := m.reg.Rename(sessionID, displayName)
	if errors.Is(err, registry.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// Get returns the lifecycle view of a single session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	rec, err := m.reg.Get(sessionID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Session{
		Session: *rec,
		IsValid: m.git.IsWorkingCopy(ctx, rec.WorktreePath),
	}, nil
}

// List returns all sessions of a repository with their computed validity.
func (m *Manager) List(ctx context.Context, repositoryID string) ([]*Session, error) {
	recs, err := m.reg.List(repositoryID)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, &Session{
			Session: *rec,
			IsValid: m.git.IsWorkingCopy(ctx, rec.WorktreePath),
		})
	}
	return sessions, nil
}

// CreateTab materializes a terminal tab under an existing session. Isolated
// tabs get their own nested worktree and branch forked from the parent
// session's branch; shared tabs record empty worktree fields and use the
// parent worktree.
func (m *Manager) CreateTab(ctx context.Context, req CreateTabRequest) (*registry.Tab, error) {
	if req.TabID == "" {
		return nil, errors.New("tab id must not be empty")
	}

	l := m.lockFor(req.SessionID)
	l.Lock()
	defer l.Unlock()

	parent, err := m.reg.Get(req.SessionID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if existing, err := m.reg.GetTab(req.SessionID, req.TabID); err == nil {
		if existing.WorktreePath == "" || m.git.IsWorkingCopy(ctx, existing.WorktreePath) {
			return existing, nil
		}
		// Stale isolated tab: drop record and branch, recreate below.
		if repoDir, rerr := m.store.Resolve(ctx, req.RepositoryID); rerr == nil {
			m.removeWorktree(ctx, repoDir, existing.WorktreePath, existing.BranchName)
		}
		if _, derr := m.reg.DeleteTab(req.SessionID, req.TabID); derr != nil {
			logger.Warn("failed to delete stale tab record %s/%s: %v", req.SessionID, req.TabID, derr)
		}
	}

	tab := &registry.Tab{
		RepositoryID:  req.RepositoryID,
		SessionID:     req.SessionID,
		TabID:         req.TabID,
		Index:         req.Index,
		LastFocusedAt: time.Now().UTC(),
	}

	if req.Isolated {
		repoDir, err := m.store.Resolve(ctx, req.RepositoryID)
		if err != nil {
			return nil, err
		}
		branch := TabBranchName(req.SessionID, req.TabID)
		path := m.store.TabWorktreePath(req.RepositoryID, req.SessionID, req.TabID)

		if m.git.BranchExists(ctx, repoDir, branch) {
			if err := m.git.DeleteBranch(ctx, repoDir, branch); err != nil {
				logger.Warn("failed to delete stale tab branch %s: %v", branch, err)
			}
		}
		if err := m.git.WorktreeAdd(ctx, repoDir, path, branch, parent.BranchName); err != nil {
			return nil, fmt.Errorf("failed to create tab worktree: %w", err)
		}
		tab.WorktreePath = path
		tab.BranchName = branch
		tab.BaseBranch = parent.BranchName
	}

	if err := m.reg.PutTab(tab); err != nil {
		if tab.WorktreePath != "" {
			if repoDir, rerr := m.store.Resolve(ctx, req.RepositoryID); rerr == nil {
				m.removeWorktree(ctx, repoDir, tab.WorktreePath, tab.BranchName)
			}
		}
		return nil, fmt.Errorf("failed to persist tab: %w", err)
	}

	if tab.WorktreePath != "" {
		for _, h := range m.tabHooks {
			if err := h(ctx, tab); err != nil {
				logger.Warn("tab hook failed for %s/%s: %v", req.SessionID, req.TabID, err)
			}
		}
	}

	return tab, nil
}

// DeleteTab tears down a tab. Returns false when no record exists.
func (m *Manager) DeleteTab(ctx context.Context, repositoryID, sessionID, tabID string) (bool, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	tab, err := m.reg.GetTab(sessionID, tabID)
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if m.reaper != nil {
		m.reaper.DropTab(sessionID, tabID)
	}

	if tab.WorktreePath != "" {
		repoDir, rerr := m.store.Resolve(ctx, repositoryID)
		if rerr != nil {
			logger.Warn("delete tab: repository %s unavailable: %v", repositoryID, rerr)
			repoDir = ""
		}
		m.removeWorktree(ctx, repoDir, tab.WorktreePath, tab.BranchName)
		if repoDir != "" {
			if err := m.git.WorktreePrune(ctx, repoDir); err != nil {
				logger.Debug("delete tab: worktree prune: %v", err)
			}
		}
	}

	if _, err := m.reg.DeleteTab(sessionID, tabID); err != nil {
		return false, fmt.Errorf("failed to delete tab record: %w", err)
	}
	return true, nil
}

// Tabs returns all tab records of a session.
func (m *Manager) Tabs(sessionID string) ([]*registry.Tab, error) {
	return m.reg.ListTabs(sessionID)
}

// FocusTab bumps a tab's last-focus timestamp. Best-effort.
func (m *Manager) FocusTab(sessionID, tabID string) {
	if err := m.reg.FocusTab(sessionID, tabID, time.Now().UTC()); err != nil {
		logger.Warn("failed to focus tab %s/%s: %v", sessionID, tabID, err)
	}
}

// WorktreeFor resolves the directory a terminal or agent process for
// (sessionID, tabID) should run in: the tab's own worktree when it has one,
// otherwise the parent session's.
func (m *Manager) WorktreeFor(ctx context.Context, sessionID, tabID string) (string, *Session, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	if tabID != "" {
		if tab, err := m.reg.GetTab(sessionID, tabID); err == nil && tab.WorktreePath != "" {
			return tab.WorktreePath, s, nil
		}
	}
	return s.WorktreePath, s, nil
}
