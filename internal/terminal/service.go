package terminal

import (
	"context"
	"strings"

	"github.com/perchbox/perch/internal/logger"
)

// Service ties the tmux wrapper and the binding registry together. It is the
// component the gateway talks to for terminal attach/detach, and the reaper
// the lifecycle manager invokes on deletion.
type Service struct {
	mux      *Mux
	bindings *Registry

	// LaunchCommand is typed into brand-new tmux sessions right after
	// creation. Reattaches never re-run it.
	LaunchCommand string
}

// NewService creates a Service over the given tmux wrapper. A nil mux probes
// the tmux binary from the environment.
func NewService(mux *Mux, launchCommand string) *Service {
	if mux == nil {
		mux = NewMux("")
	}
	return &Service{
		mux:           mux,
		bindings:      NewRegistry(),
		LaunchCommand: launchCommand,
	}
}

// Mux exposes the underlying tmux wrapper.
func (s *Service) Mux() *Mux {
	return s.mux
}

// Connect materializes the tmux session for (sessionID, tabID) in dir if it
// does not exist yet, attaches a fresh handle to it and installs the binding.
// isNew reports whether the tmux session was just created (first attach);
// replaced reports whether a lingering handle was displaced.
func (s *Service) Connect(ctx context.Context, sessionID, tabID, dir string, cols, rows uint16) (h *Handle, isNew, replaced bool, err error) {
	name := SessionName(sessionID, tabID)

	isNew = !s.mux.HasSession(ctx, name)
	if isNew {
		if err := s.mux.NewSession(ctx, name, dir); err != nil {
			return nil, false, false, err
		}
		if s.LaunchCommand != "" {
			if err := s.mux.SendKeys(ctx, name, s.LaunchCommand); err != nil {
				logger.Warn("failed to launch %q in %s: %v", s.LaunchCommand, name, err)
			}
		}
	}

	h, err = s.mux.Attach(name, cols, rows)
	if err != nil {
		return nil, false, false, err
	}

	replaced = s.bindings.Bind(Key{SessionID: sessionID, TabID: tabID}, h)
	return h, isNew, replaced, nil
}

// Disconnect releases the handle for a closed network connection. The tmux
// session keeps running so a later connection resumes its state.
func (s *Service) Disconnect(sessionID, tabID string, h *Handle) {
	s.bindings.Release(Key{SessionID: sessionID, TabID: tabID}, h)
}

// Restart interrupts the foreground program in the tmux session and types
// the launch command again.
func (s *Service) Restart(ctx context.Context, sessionID, tabID string) error {
	name := SessionName(sessionID, tabID)
	if err := s.mux.SendInterrupt(ctx, name); err != nil {
		return err
	}
	if s.LaunchCommand == "" {
		return nil
	}
	return s.mux.SendKeys(ctx, name, s.LaunchCommand)
}

// DropSession kills every handle and tmux session belonging to sessionID,
// including its tabs. Used during session deletion, before the worktree is
// removed.
func (s *Service) DropSession(sessionID string) {
	s.bindings.DropAll(func(k Key) bool { return k.SessionID == sessionID })

	ctx := context.Background()
	prefix := SessionName(sessionID, "")
	names, err := s.mux.ListSessions(ctx)
	if err != nil {
		logger.Warn("failed to list tmux sessions: %v", err)
		return
	}
	for _, name := range names {
		if name == prefix || strings.HasPrefix(name, prefix+"-") {
			if err := s.mux.KillSession(ctx, name); err != nil {
				logger.Debug("kill tmux session %s: %v", name, err)
			}
		}
	}
}

// DropTab kills the handle and tmux session of one tab.
func (s *Service) DropTab(sessionID, tabID string) {
	s.bindings.DropAll(func(k Key) bool {
		return k.SessionID == sessionID && k.TabID == tabID
	})

	name := SessionName(sessionID, tabID)
	ctx := context.Background()
	if s.mux.HasSession(ctx, name) {
		if err := s.mux.KillSession(ctx, name); err != nil {
			logger.Debug("kill tmux session %s: %v", name, err)
		}
	}
}
