package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchbox/perch/internal/registry"
	"github.com/perchbox/perch/internal/repostore"
	"github.com/perchbox/perch/internal/vcs"
)

type fixture struct {
	mgr  *Manager
	reg  *registry.Registry
	git  *vcs.Mock
	repo string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dir, "perch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	git := &vcs.Mock{}
	store := repostore.New(filepath.Join(dir, "repos"), filepath.Join(dir, "worktrees"), git)
	return &fixture{
		mgr:  New(reg, store, git),
		reg:  reg,
		git:  git,
		repo: "myrepo",
	}
}

func (f *fixture) createReq(sessionID string) CreateRequest {
	return CreateRequest{
		RepositoryID: f.repo,
		SessionID:    sessionID,
		DisplayName:  "Test Session",
		BaseBranch:   "main",
	}
}

func TestCreate_New(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.Create(context.Background(), f.createReq("sess-1"))
	require.NoError(t, err)

	assert.False(t, s.IsExisting)
	assert.Equal(t, "perch/sess-1", s.BranchName)
	assert.Equal(t, "main", s.BaseBranch)
	assert.NotEmpty(t, s.BaseRevision)
	assert.Equal(t, 1, f.git.CallCount("WorktreeAdd"))

	// The record is durable.
	rec, err := f.reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.WorktreePath, rec.WorktreePath)
}

func TestCreate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	second, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	assert.True(t, second.IsExisting)
	assert.Equal(t, first.WorktreePath, second.WorktreePath)
	assert.Equal(t, first.BranchName, second.BranchName)
	// The second call performs no VCS mutation.
	assert.Equal(t, 1, f.git.CallCount("WorktreeAdd"))
	assert.Equal(t, 0, f.git.CallCount("WorktreeRemove"))
	assert.Equal(t, 0, f.git.CallCount("DeleteBranch"))
}

func TestCreate_RepoMissing(t *testing.T) {
	f := newFixture(t)
	f.git.IsWorkingCopyFunc = func(ctx context.Context, dir string) bool {
		return false
	}

	_, err := f.mgr.Create(context.Background(), f.createReq("sess-1"))
	assert.ErrorIs(t, err, repostore.ErrRepoMissing)
	assert.Equal(t, 0, f.git.CallCount("WorktreeAdd"))
}

func TestCreate_ReconcilesStaleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	// Simulate the worktree disappearing out-of-band: everything is a
	// working copy except the session's worktree path.
	f.git.IsWorkingCopyFunc = func(ctx context.Context, dir string) bool {
		return dir != first.WorktreePath
	}

	second, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	assert.False(t, second.IsExisting)
	assert.Equal(t, first.WorktreePath, second.WorktreePath)
	assert.Equal(t, first.BranchName, second.BranchName)
	// Stale state was cleared before re-creation.
	assert.Equal(t, 2, f.git.CallCount("WorktreeAdd"))
	assert.GreaterOrEqual(t, f.git.CallCount("DeleteBranch"), 1)
	assert.GreaterOrEqual(t, f.git.CallCount("WorktreePrune"), 1)
}

// failingPutRegistry fails every Put so tests can observe create rollback.
type failingPutRegistry struct {
	*registry.Registry
}

func (r *failingPutRegistry) Put(s *registry.Session) error {
	return errors.New("disk full")
}

func TestCreate_RollsBackOnRegistryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := repostore.New(t.TempDir(), t.TempDir(), f.git)
	mgr := New(&failingPutRegistry{f.reg}, store, f.git)

	_, err := mgr.Create(ctx, f.createReq("sess-1"))
	require.Error(t, err)

	// The half-created worktree and branch were rolled back.
	assert.Equal(t, 1, f.git.CallCount("WorktreeAdd"))
	assert.Equal(t, 1, f.git.CallCount("WorktreeRemove"))
	assert.Equal(t, 1, f.git.CallCount("DeleteBranch"))

	_, err = f.reg.Get("sess-1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCreate_DefaultBaseBranch(t *testing.T) {
	f := newFixture(t)
	f.git.DefaultBranchFunc = func(ctx context.Context, dir string) string {
		return "trunk"
	}

	req := f.createReq("sess-1")
	req.BaseBranch = ""
	s, err := f.mgr.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "trunk", s.BaseBranch)
}

func TestCreate_HooksRunAndFailuresAreTolerated(t *testing.T) {
	f := newFixture(t)
	ran := 0
	f.mgr.AddHook(func(ctx context.Context, s *registry.Session) error {
		ran++
		return errors.New("hook exploded")
	})
	f.mgr.AddHook(func(ctx context.Context, s *registry.Session) error {
		ran++
		return nil
	})

	_, err := f.mgr.Create(context.Background(), f.createReq("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	// Idempotent path does not re-run hooks.
	_, err = f.mgr.Create(context.Background(), f.createReq("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, ran)
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)

	ok, err := f.mgr.Delete(context.Background(), f.repo, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	ok, err := f.mgr.Delete(ctx, f.repo, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, f.git.CallCount("WorktreeRemove"))
	assert.Equal(t, 1, f.git.CallCount("DeleteBranch"))
	assert.Equal(t, 1, f.git.CallCount("WorktreePrune"))

	_, err = f.reg.Get("sess-1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDelete_ToleratesMissingBranchAndWorktree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	// Everything that could fail does: branch already deleted manually,
	// worktree remove fails because the directory is gone.
	f.git.WorktreeRemoveFunc = func(ctx context.Context, repoDir, path string) error {
		return errors.New("fatal: not a working tree")
	}
	f.git.DeleteBranchFunc = func(ctx context.Context, repoDir, branch string) error {
		return errors.New("error: branch not found")
	}
	_ = os.RemoveAll(s.WorktreePath)

	ok, err := f.mgr.Delete(ctx, f.repo, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.reg.Get("sess-1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

type recordingReaper struct {
	sessions []string
	tabs     [][2]string
}

func (r *recordingReaper) DropSession(sessionID string) {
	r.sessions = append(r.sessions, sessionID)
}

func (r *recordingReaper) DropTab(sessionID, tabID string) {
	r.tabs = append(r.tabs, [2]string{sessionID, tabID})
}

func TestDelete_ReapsTerminals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reaper := &recordingReaper{}
	f.mgr.SetReaper(reaper)

	_, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	_, err = f.mgr.Delete(ctx, f.repo, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, reaper.sessions)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.mgr.Validate(ctx, "ghost"))

	s, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)
	assert.True(t, f.mgr.Validate(ctx, "sess-1"))

	f.git.IsWorkingCopyFunc = func(ctx context.Context, dir string) bool {
		return dir != s.WorktreePath
	}
	assert.False(t, f.mgr.Validate(ctx, "sess-1"))
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	require.NoError(t, f.mgr.Rename("sess-1", "New Name"))
	s, err := f.mgr.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", s.DisplayName)

	assert.ErrorIs(t, f.mgr.Rename("ghost", "x"), ErrSessionNotFound)
}

func TestList_IncludesValidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.mgr.Create(ctx, f.createReq("sess-a"))
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, f.createReq("sess-b"))
	require.NoError(t, err)

	f.git.IsWorkingCopyFunc = func(ctx context.Context, dir string) bool {
		return dir != a.WorktreePath
	}

	sessions, err := f.mgr.List(ctx, f.repo)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	byID := map[string]bool{}
	for _, s := range sessions {
		byID[s.SessionID] = s.IsValid
	}
	assert.False(t, byID["sess-a"])
	assert.True(t, byID["sess-b"])
}

func TestCreateTab_Shared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)
	adds := f.git.CallCount("WorktreeAdd")

	tab, err := f.mgr.CreateTab(ctx, CreateTabRequest{
		RepositoryID: f.repo, SessionID: "sess-1", TabID: "tab-1",
	})
	require.NoError(t, err)
	assert.Empty(t, tab.WorktreePath)
	assert.Empty(t, tab.BranchName)
	// Shared tabs create no worktree.
	assert.Equal(t, adds, f.git.CallCount("WorktreeAdd"))

	// Shared tab resolves to the parent worktree.
	dir, s, err := f.mgr.WorktreeFor(ctx, "sess-1", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, s.WorktreePath, dir)
}

func TestCreateTab_Isolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)

	hookRan := false
	f.mgr.AddTabHook(func(ctx context.Context, tab *registry.Tab) error {
		hookRan = true
		return errors.New("npm install failed")
	})

	tab, err := f.mgr.CreateTab(ctx, CreateTabRequest{
		RepositoryID: f.repo, SessionID: "sess-1", TabID: "tab-1",
		Isolated: true, Index: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "perch/sess-1/tab-tab-1", tab.BranchName)
	assert.Equal(t, parent.BranchName, tab.BaseBranch)
	assert.NotEmpty(t, tab.WorktreePath)
	assert.True(t, hookRan)

	dir, _, err := f.mgr.WorktreeFor(ctx, "sess-1", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, tab.WorktreePath, dir)
}

func TestCreateTab_RequiresSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.CreateTab(context.Background(), CreateTabRequest{
		RepositoryID: f.repo, SessionID: "ghost", TabID: "tab-1",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reaper := &recordingReaper{}
	f.mgr.SetReaper(reaper)

	_, err := f.mgr.Create(ctx, f.createReq("sess-1"))
	require.NoError(t, err)
	_, err = f.mgr.CreateTab(ctx, CreateTabRequest{
		RepositoryID: f.repo, SessionID: "sess-1", TabID: "tab-1", Isolated: true,
	})
	require.NoError(t, err)

	ok, err := f.mgr.DeleteTab(ctx, f.repo, "sess-1", "tab-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][2]string{{"sess-1", "tab-1"}}, reaper.tabs)

	ok, err = f.mgr.DeleteTab(ctx, f.repo, "sess-1", "tab-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
