// Package repostore owns the on-disk arrangement of repositories: one
// canonical clone per repository plus a directory of per-session worktrees.
// The canonical clone is never mutated by session machinery; all writes go
// through worktrees handed out by the lifecycle manager.
package repostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/perchbox/perch/internal/vcs"
)

// ErrRepoMissing is returned when a repository's canonical clone does not
// exist locally. Cloning is not this component's job; callers report the
// precondition failure.
var ErrRepoMissing = errors.New("repository clone not found")

// Store maps repository identifiers to canonical clone and worktree paths.
type Store struct {
	reposRoot     string
	worktreesRoot string
	git           vcs.VCS
}

// New creates a Store over the given roots.
func New(reposRoot, worktreesRoot string, git vcs.VCS) *Store {
	return &Store{
		reposRoot:     reposRoot,
		worktreesRoot: worktreesRoot,
		git:           git,
	}
}

// Resolve returns the canonical clone path for repositoryID, verifying the
// clone exists and is a recognizable working copy.
func (s *Store) Resolve(ctx context.Context, repositoryID string) (string, error) {
	if repositoryID == "" || repositoryID != filepath.Base(repositoryID) {
		return "", fmt.Errorf("invalid repository id %q", repositoryID)
	}

	path := filepath.Join(s.reposRoot, repositoryID)
	if !s.git.IsWorkingCopy(ctx, path) {
		return "", fmt.Errorf("%w: %s", ErrRepoMissing, path)
	}
	return path, nil
}

// WorktreePath returns the session-scoped worktree location for a session.
// Pure path derivation; nothing is created.
func (s *Store) WorktreePath(repositoryID, sessionID string) string {
	return filepath.Join(s.worktreesRoot, repositoryID, sessionID)
}

// TabWorktreePath returns the location of a tab's own nested worktree.
func (s *Store) TabWorktreePath(repositoryID, sessionID, tabID string) string {
	return filepath.Join(s.worktreesRoot, repositoryID, sessionID+"-tab-"+tabID)
}

// ListRepositories returns the ids of all canonical clones under the repos
// root. Non-repository directories are skipped.
func (s *Store) ListRepositories(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.reposRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read repos root: %w", err)
	}

	var repos []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.git.IsWorkingCopy(ctx, filepath.Join(s.reposRoot, entry.Name())) {
			repos = append(repos, entry.Name())
		}
	}
	return repos, nil
}
