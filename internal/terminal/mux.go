// Package terminal binds long-lived tmux sessions to per-session worktrees
// and bridges their byte streams to network connections. The tmux session is
// the durable half: it survives client disconnects and server restarts, which
// is what makes terminal reconnection resume exactly where it left off.
package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/perchbox/perch/internal/logger"
)

// Mux wraps the tmux binary. All methods shell out; tmux itself holds the
// terminal state.
type Mux struct {
	bin string
}

// NewMux creates a Mux using the given tmux binary path, probing common
// locations when bin is empty.
func NewMux(bin string) *Mux {
	if bin == "" {
		bin = findTmux()
	}
	return &Mux{bin: bin}
}

// findTmux locates the tmux binary. GUI-launched processes on macOS don't
// inherit the shell PATH, so common install locations are probed as well.
func findTmux() string {
	if path, err := exec.LookPath("tmux"); err == nil {
		return path
	}
	for _, p := range []string{
		"/opt/homebrew/bin/tmux",
		"/usr/local/bin/tmux",
		"/usr/bin/tmux",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "tmux"
}

// Bin returns the resolved tmux binary path.
func (m *Mux) Bin() string {
	return m.bin
}

// EnsureServer starts the tmux server if it isn't already running; a no-op
// otherwise. Called once at startup so session listing works immediately.
func (m *Mux) EnsureServer() {
	if err := exec.Command(m.bin, "start-server").Run(); err != nil {
		logger.Warn("failed to start tmux server: %v", err)
	}
}

// SessionName derives the tmux session name for a (sessionID, tabID) pair.
// Identifiers are escaped before the "-" separators are inserted, so two
// different pairs can never produce the same name: session "abc-def" does
// not collide with the kill prefix of session "abc", and tab "b-c" of
// session "a" stays distinct from tab "c" of session "a-b".
func SessionName(sessionID, tabID string) string {
	name := "perch-" + escapeName(sessionID)
	if tabID != "" {
		name += "-" + escapeName(tabID)
	}
	return name
}

// escapeName encodes an identifier into the alphabet [a-zA-Z0-9_], which
// tmux target resolution accepts verbatim. Underscore opens every escape
// sequence, so the encoding is injective and "-" never survives it.
func escapeName(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("__")
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// HasSession reports whether a tmux session with the given name exists.
func (m *Mux) HasSession(ctx context.Context, name string) bool {
	return exec.CommandContext(ctx, m.bin, "has-session", "-t", "="+name).Run() == nil
}

// NewSession creates a detached tmux session rooted in dir.
func (m *Mux) NewSession(ctx context.Context, name, dir string) error {
	out, err := exec.CommandContext(ctx, m.bin, "new-session", "-d", "-s", name, "-c", dir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux new-session failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// KillSession terminates a tmux session and every process inside it.
func (m *Mux) KillSession(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, m.bin, "kill-session", "-t", "="+name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux kill-session failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ListSessions returns the names of all live tmux sessions. A missing tmux
// server is reported as an empty list, not an error.
func (m *Mux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, m.bin, "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		// tmux exits non-zero when no server is running.
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SendKeys types command into the session and presses Enter. The literal
// flag keeps tmux from interpreting the text as key names.
func (m *Mux) SendKeys(ctx context.Context, name, command string) error {
	if err := exec.CommandContext(ctx, m.bin, "send-keys", "-t", "="+name, "-l", command).Run(); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w", err)
	}
	if err := exec.CommandContext(ctx, m.bin, "send-keys", "-t", "="+name, "Enter").Run(); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w", err)
	}
	return nil
}

// SendInterrupt sends Ctrl-C to the session's foreground process.
func (m *Mux) SendInterrupt(ctx context.Context, name string) error {
	if err := exec.CommandContext(ctx, m.bin, "send-keys", "-t", "="+name, "C-c").Run(); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w", err)
	}
	return nil
}
