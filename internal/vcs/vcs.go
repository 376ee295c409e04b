// Package vcs provides a version control system abstraction layer.
// It defines interfaces for the repository operations the session machinery
// needs, allowing for pluggable implementations.
package vcs

import (
	"context"
)

// VCS represents a version control system scoped to a repository.
// All paths are absolute. Directory arguments select the working copy a
// command runs in; branch and revision arguments are passed through to the
// underlying tool.
type VCS interface {
	// RevParse resolves a revision expression (branch name, HEAD, sha)
	// to a full commit hash in the working copy at dir.
	RevParse(ctx context.Context, dir, rev string) (string, error)

	// CurrentBranch returns the name of the branch checked out at dir.
	// Returns an empty string on a detached HEAD.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// DefaultBranch returns the repository's default branch name
	// (origin's HEAD when available, otherwise main/master detection).
	DefaultBranch(ctx context.Context, dir string) string

	// IsWorkingCopy reports whether dir exists and is a recognizable
	// live working copy. Cheap local check, no network.
	IsWorkingCopy(ctx context.Context, dir string) bool

	// WorktreeAdd creates a new worktree at path with a new branch named
	// branch forked from startPoint. The command runs in the canonical
	// working copy at repoDir.
	WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error

	// WorktreeRemove removes the worktree at path, discarding any
	// uncommitted changes.
	WorktreeRemove(ctx context.Context, repoDir, path string) error

	// WorktreePrune removes stale worktree bookkeeping after a worktree
	// directory has disappeared out-of-band.
	WorktreePrune(ctx context.Context, repoDir string) error

	// BranchExists reports whether branch resolves in the repository.
	BranchExists(ctx context.Context, repoDir, branch string) bool

	// DeleteBranch force-deletes branch. Returns an error that callers
	// are expected to tolerate when the branch is already gone.
	DeleteBranch(ctx context.Context, repoDir, branch string) error

	// SetLocalIdentity seeds user.name/user.email in the working copy at
	// dir so future commits inside it succeed without global config.
	SetLocalIdentity(ctx context.Context, dir, name, email string) error
}
