package vcs

import (
	"context"
	"sync"
)

// Mock is a recording implementation of the VCS interface for testing.
// Each method delegates to the corresponding Func field when set and falls
// back to a permissive default otherwise. All calls are recorded so tests
// can assert which VCS mutations happened.
type Mock struct {
	mu    sync.Mutex
	calls []MockCall

	RevParseFunc         func(ctx context.Context, dir, rev string) (string, error)
	CurrentBranchFunc    func(ctx context.Context, dir string) (string, error)
	DefaultBranchFunc    func(ctx context.Context, dir string) string
	IsWorkingCopyFunc    func(ctx context.Context, dir string) bool
	WorktreeAddFunc      func(ctx context.Context, repoDir, path, branch, startPoint string) error
	WorktreeRemoveFunc   func(ctx context.Context, repoDir, path string) error
	WorktreePruneFunc    func(ctx context.Context, repoDir string) error
	BranchExistsFunc     func(ctx context.Context, repoDir, branch string) bool
	DeleteBranchFunc     func(ctx context.Context, repoDir, branch string) error
	SetLocalIdentityFunc func(ctx context.Context, dir, name, email string) error
}

// MockCall records one VCS method invocation.
type MockCall struct {
	Method string
	Args   []string
}

func (m *Mock) record(method string, args ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Args: args})
}

// Calls returns a copy of all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many times method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Mock) RevParse(ctx context.Context, dir, rev string) (string, error) {
	m.record("RevParse", dir, rev)
	if m.RevParseFunc != nil {
		return m.RevParseFunc(ctx, dir, rev)
	}
	return "0000000000000000000000000000000000000000", nil
}

func (m *Mock) CurrentBranch(ctx context.Context, dir string) (string, error) {
	m.record("CurrentBranch", dir)
	if m.CurrentBranchFunc != nil {
		return m.CurrentBranchFunc(ctx, dir)
	}
	return "main", nil
}

func (m *Mock) DefaultBranch(ctx context.Context, dir string) string {
	m.record("DefaultBranch", dir)
	if m.DefaultBranchFunc != nil {
		return m.DefaultBranchFunc(ctx, dir)
	}
	return "main"
}

func (m *Mock) IsWorkingCopy(ctx context.Context, dir string) bool {
	m.record("IsWorkingCopy", dir)
	if m.IsWorkingCopyFunc != nil {
		return m.IsWorkingCopyFunc(ctx, dir)
	}
	return true
}

func (m *Mock) WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error {
	m.record("WorktreeAdd", repoDir, path, branch, startPoint)
	if m.WorktreeAddFunc != nil {
		return m.WorktreeAddFunc(ctx, repoDir, path, branch, startPoint)
	}
	return nil
}

func (m *Mock) WorktreeRemove(ctx context.Context, repoDir, path string) error {
	m.record("WorktreeRemove", repoDir, path)
	if m.WorktreeRemoveFunc != nil {
		return m.WorktreeRemoveFunc(ctx, repoDir, path)
	}
	return nil
}

func (m *Mock) WorktreePrune(ctx context.Context, repoDir string) error {
	m.record("WorktreePrune", repoDir)
	if m.WorktreePruneFunc != nil {
		return m.WorktreePruneFunc(ctx, repoDir)
	}
	return nil
}

func (m *Mock) BranchExists(ctx context.Context, repoDir, branch string) bool {
	m.record("BranchExists", repoDir, branch)
	if m.BranchExistsFunc != nil {
		return m.BranchExistsFunc(ctx, repoDir, branch)
	}
	return false
}

func (m *Mock) DeleteBranch(ctx context.Context, repoDir, branch string) error {
	m.record("DeleteBranch", repoDir, branch)
	if m.DeleteBranchFunc != nil {
		return m.DeleteBranchFunc(ctx, repoDir, branch)
	}
	return nil
}

func (m *Mock) SetLocalIdentity(ctx context.Context, dir, name, email string) error {
	m.record("SetLocalIdentity", dir, name, email)
	if m.SetLocalIdentityFunc != nil {
		return m.SetLocalIdentityFunc(ctx, dir, name, email)
	}
	return nil
}
