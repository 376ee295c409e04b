package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "perch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func testSession(id string) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		SessionID:      id,
		RepositoryID:   "myrepo",
		DisplayName:    "My Session",
		BranchName:     "perch/" + id,
		WorktreePath:   "/tmp/worktrees/myrepo/" + id,
		BaseBranch:     "main",
		BaseRevision:   "0123456789abcdef0123456789abcdef01234567",
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestRegistry_PutGet(t *testing.T) {
	r := openTestRegistry(t)

	want := testSession("sess-1")
	require.NoError(t, r.Put(want))

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.BranchName, got.BranchName)
	assert.Equal(t, want.WorktreePath, got.WorktreePath)
	assert.Equal(t, want.BaseRevision, got.BaseRevision)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestRegistry_GetMissing(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_PutIsUpsert(t *testing.T) {
	r := openTestRegistry(t)

	s := testSession("sess-1")
	require.NoError(t, r.Put(s))

	s.BaseRevision = "ffffffffffffffffffffffffffffffffffffffff"
	require.NoError(t, r.Put(s))

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.BaseRevision, got.BaseRevision)

	sessions, err := r.List("myrepo")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestRegistry_ListOrdersByLastAccess(t *testing.T) {
	r := openTestRegistry(t)

	a := testSession("sess-a")
	b := testSession("sess-b")
	b.LastAccessedAt = a.LastAccessedAt.Add(time.Hour)
	require.NoError(t, r.Put(a))
	require.NoError(t, r.Put(b))

	sessions, err := r.List("myrepo")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-b", sessions[0].SessionID)
	assert.Equal(t, "sess-a", sessions[1].SessionID)

	// Other repositories are not included.
	sessions, err = r.List("otherrepo")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRegistry_Delete(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(testSession("sess-1")))

	existed, err := r.Delete("sess-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = r.Delete("sess-1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = r.Get("sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Touch(t *testing.T) {
	r := openTestRegistry(t)

	s := testSession("sess-1")
	require.NoError(t, r.Put(s))

	later := s.LastAccessedAt.Add(2 * time.Hour)
	require.NoError(t, r.Touch("sess-1", later))

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastAccessedAt))
}

func TestRegistry_Rename(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(testSession("sess-1")))
	require.NoError(t, r.Rename("sess-1", "Renamed"))

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)

	assert.ErrorIs(t, r.Rename("missing", "x"), ErrNotFound)
}

func TestRegistry_Tabs(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(testSession("sess-1")))

	now := time.Now().UTC().Truncate(time.Second)
	tab := &Tab{
		RepositoryID:  "myrepo",
		SessionID:     "sess-1",
		TabID:         "tab-1",
		Index:         0,
		LastFocusedAt: now,
	}
	require.NoError(t, r.PutTab(tab))
	require.NoError(t, r.PutTab(&Tab{
		RepositoryID:  "myrepo",
		SessionID:     "sess-1",
		TabID:         "tab-2",
		WorktreePath:  "/tmp/worktrees/myrepo/sess-1-tab-tab-2",
		BranchName:    "perch/sess-1/tab-tab-2",
		BaseBranch:    "main",
		Index:         1,
		LastFocusedAt: now,
	}))

	got, err := r.GetTab("sess-1", "tab-2")
	require.NoError(t, err)
	assert.Equal(t, "perch/sess-1/tab-tab-2", got.BranchName)

	tabs, err := r.ListTabs("sess-1")
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, "tab-1", tabs[0].TabID)
	assert.Equal(t, "tab-2", tabs[1].TabID)

	existed, err := r.DeleteTab("sess-1", "tab-1")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = r.GetTab("sess-1", "tab-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_TabFocus(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(testSession("sess-1")))
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, r.PutTab(&Tab{
		RepositoryID: "myrepo", SessionID: "sess-1", TabID: "tab-1", LastFocusedAt: now,
	}))

	later := now.Add(time.Minute)
	require.NoError(t, r.FocusTab("sess-1", "tab-1", later))

	got, err := r.GetTab("sess-1", "tab-1")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastFocusedAt))
}

func TestRegistry_DeleteCascadesTabs(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(testSession("sess-1")))
	require.NoError(t, r.PutTab(&Tab{
		RepositoryID: "myrepo", SessionID: "sess-1", TabID: "tab-1",
		LastFocusedAt: time.Now(),
	}))

	_, err := r.Delete("sess-1")
	require.NoError(t, err)

	tabs, err := r.ListTabs("sess-1")
	require.NoError(t, err)
	assert.Empty(t, tabs)
}

func TestRegistry_TabRequiresSession(t *testing.T) {
	r := openTestRegistry(t)

	err := r.PutTab(&Tab{
		RepositoryID: "myrepo", SessionID: "ghost", TabID: "tab-1",
		LastFocusedAt: time.Now(),
	})
	assert.Error(t, err)
}
