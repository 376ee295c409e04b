package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Git implements the VCS interface for Git repositories.
type Git struct{}

// NewGit creates a new Git VCS instance.
func NewGit() *Git {
	return &Git{}
}

// run executes a git command in dir and returns trimmed stdout.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// runCombined executes a git command in dir and wraps failures with git's
// own output, which carries the useful diagnostics.
func (g *Git) runCombined(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}

// RevParse resolves a revision expression to a full commit hash.
func (g *Git) RevParse(ctx context.Context, dir, rev string) (string, error) {
	hash, err := g.run(ctx, dir, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("failed to resolve revision %q: %w", rev, err)
	}
	return hash, nil
}

// CurrentBranch returns the branch checked out at dir, or "" on detached HEAD.
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// DefaultBranch returns the default branch name (main or master).
func (g *Git) DefaultBranch(ctx context.Context, dir string) string {
	// Try origin's HEAD reference first
	if ref, err := g.run(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if strings.HasPrefix(ref, "refs/remotes/origin/") {
			return strings.TrimPrefix(ref, "refs/remotes/origin/")
		}
	}

	// Fallback: check if main exists, otherwise use master
	if _, err := g.run(ctx, dir, "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}

	return "master"
}

// IsWorkingCopy reports whether dir exists and is a live git working copy.
func (g *Git) IsWorkingCopy(ctx context.Context, dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	// A worktree carries a .git entry (file for linked worktrees, directory
	// for the canonical copy); rev-parse confirms git still recognizes it.
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	out, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// WorktreeAdd creates a worktree at path on a new branch forked from startPoint.
func (g *Git) WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent directory: %w", err)
	}
	if err := g.runCombined(ctx, repoDir, "worktree", "add", "-b", branch, path, startPoint); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}
	return nil
}

// WorktreeRemove removes the worktree at path, forcing through uncommitted changes.
func (g *Git) WorktreeRemove(ctx context.Context, repoDir, path string) error {
	return g.runCombined(ctx, repoDir, "worktree", "remove", path, "--force")
}

// WorktreePrune removes stale worktree bookkeeping.
func (g *Git) WorktreePrune(ctx context.Context, repoDir string) error {
	return g.runCombined(ctx, repoDir, "worktree", "prune")
}

// BranchExists reports whether branch resolves in the repository.
func (g *Git) BranchExists(ctx context.Context, repoDir, branch string) bool {
	_, err := g.run(ctx, repoDir, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// DeleteBranch force-deletes a branch.
func (g *Git) DeleteBranch(ctx context.Context, repoDir, branch string) error {
	return g.runCombined(ctx, repoDir, "branch", "-D", branch)
}

// SetLocalIdentity seeds user.name/user.email in the working copy at dir.
func (g *Git) SetLocalIdentity(ctx context.Context, dir, name, email string) error {
	if err := g.runCombined(ctx, dir, "config", "user.name", name); err != nil {
		return err
	}
	return g.runCombined(ctx, dir, "config", "user.email", email)
}
