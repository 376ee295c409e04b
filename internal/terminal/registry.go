package terminal

import "sync"

// Key addresses one terminal binding. TabID is empty for a session's primary
// terminal.
type Key struct {
	SessionID string
	TabID     string
}

// Proc is the minimal surface the binding registry needs from a live handle.
type Proc interface {
	Kill()
}

// Registry is the in-memory table of live terminal bindings. It enforces the
// single-handle invariant: at most one live attach exists per key, and a new
// connection displaces any lingering one instead of running alongside it.
// Bindings are not durable; after a restart clients re-attach to the tmux
// sessions that survived.
type Registry struct {
	mu       sync.Mutex
	bindings map[Key]Proc
}

// NewRegistry creates an empty binding registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Key]Proc)}
}

// Bind installs h as the live handle for key, killing any previous handle.
// Returns whether a previous handle was displaced.
func (r *Registry) Bind(key Key, h Proc) bool {
	r.mu.Lock()
	prev, had := r.bindings[key]
	r.bindings[key] = h
	r.mu.Unlock()

	if had {
		prev.Kill()
	}
	return had
}

// Release kills h and removes the binding, but only if h is still the
// current handle for key. A handle displaced by a newer connection releasing
// late must not tear down its replacement.
func (r *Registry) Release(key Key, h Proc) {
	r.mu.Lock()
	current, ok := r.bindings[key]
	if ok && current == h {
		delete(r.bindings, key)
	}
	r.mu.Unlock()

	h.Kill()
}

// DropAll kills and removes every binding whose key matches the filter.
func (r *Registry) DropAll(match func(Key) bool) {
	r.mu.Lock()
	var victims []Proc
	for key, h := range r.bindings {
		if match(key) {
			victims = append(victims, h)
			delete(r.bindings, key)
		}
	}
	r.mu.Unlock()

	for _, h := range victims {
		h.Kill()
	}
}

// Get returns the current handle for key, if any.
func (r *Registry) Get(key Key) (Proc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.bindings[key]
	return h, ok
}
