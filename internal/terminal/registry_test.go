package terminal

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProc struct {
	killed atomic.Int32
}

func (f *fakeProc) Kill() {
	f.killed.Add(1)
}

func TestSessionName(t *testing.T) {
	assert.Equal(t, "perch-sess_2d1", SessionName("sess-1", ""))
	assert.Equal(t, "perch-sess_2d1-tab_2d2", SessionName("sess-1", "tab-2"))
	// tmux treats dots as pane separators in target names.
	assert.Equal(t, "perch-a_2eb", SessionName("a.b", ""))
	assert.Equal(t, "perch-a__b", SessionName("a_b", ""))
}

func TestSessionName_Unambiguous(t *testing.T) {
	// A session id that extends another by a "-" segment must not land
	// inside the shorter session's kill prefix.
	assert.NotEqual(t, SessionName("abc", "def"), SessionName("abc-def", ""))
	assert.False(t, strings.HasPrefix(SessionName("abc-def", ""), SessionName("abc", "")+"-"))

	// The (session, tab) split point must be recoverable.
	assert.NotEqual(t, SessionName("a", "b-c"), SessionName("a-b", "c"))
	assert.NotEqual(t, SessionName("a_b", "c"), SessionName("a", "b_c"))
}

func TestRegistry_BindDisplacesPrevious(t *testing.T) {
	r := NewRegistry()
	key := Key{SessionID: "s1"}

	first := &fakeProc{}
	second := &fakeProc{}

	assert.False(t, r.Bind(key, first))
	assert.True(t, r.Bind(key, second))

	// The lingering handle was killed; the new one was not.
	assert.Equal(t, int32(1), first.killed.Load())
	assert.Equal(t, int32(0), second.killed.Load())

	current, ok := r.Get(key)
	assert.True(t, ok)
	assert.Same(t, second, current)
}

func TestRegistry_ReleaseOnlyRemovesCurrent(t *testing.T) {
	r := NewRegistry()
	key := Key{SessionID: "s1", TabID: "t1"}

	first := &fakeProc{}
	second := &fakeProc{}
	r.Bind(key, first)
	r.Bind(key, second)

	// The displaced handle's late disconnect must not tear down its
	// replacement.
	r.Release(key, first)
	current, ok := r.Get(key)
	assert.True(t, ok)
	assert.Same(t, second, current)

	r.Release(key, second)
	_, ok = r.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int32(1), second.killed.Load())
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry()

	a := &fakeProc{}
	b := &fakeProc{}
	r.Bind(Key{SessionID: "s1"}, a)
	r.Bind(Key{SessionID: "s1", TabID: "t1"}, b)

	assert.Equal(t, int32(0), a.killed.Load())
	assert.Equal(t, int32(0), b.killed.Load())
}

func TestRegistry_DropAll(t *testing.T) {
	r := NewRegistry()

	s1main := &fakeProc{}
	s1tab := &fakeProc{}
	s2main := &fakeProc{}
	r.Bind(Key{SessionID: "s1"}, s1main)
	r.Bind(Key{SessionID: "s1", TabID: "t1"}, s1tab)
	r.Bind(Key{SessionID: "s2"}, s2main)

	r.DropAll(func(k Key) bool { return k.SessionID == "s1" })

	assert.Equal(t, int32(1), s1main.killed.Load())
	assert.Equal(t, int32(1), s1tab.killed.Load())
	assert.Equal(t, int32(0), s2main.killed.Load())

	_, ok := r.Get(Key{SessionID: "s2"})
	assert.True(t, ok)
}

func TestRegistry_ConcurrentBind(t *testing.T) {
	r := NewRegistry()
	key := Key{SessionID: "s1"}

	const n = 32
	procs := make([]*fakeProc, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		procs[i] = &fakeProc{}
		wg.Add(1)
		go func(p *fakeProc) {
			defer wg.Done()
			r.Bind(key, p)
		}(procs[i])
	}
	wg.Wait()

	// Exactly one binding survives; all others were killed exactly once.
	survivor, ok := r.Get(key)
	assert.True(t, ok)
	killed := 0
	for _, p := range procs {
		if p == survivor {
			assert.Equal(t, int32(0), p.killed.Load())
			continue
		}
		killed += int(p.killed.Load())
	}
	assert.Equal(t, n-1, killed)
}
