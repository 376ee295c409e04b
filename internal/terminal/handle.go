package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Handle is one live interactive attachment to a tmux session: a tmux
// attach-session process running on a pty. Killing a Handle detaches the
// client; the tmux session and whatever runs inside it keep going.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	killOnce sync.Once
	done     chan struct{}
	exitCode int
}

// Attach spawns `tmux attach-session` on a pty sized cols x rows and returns
// the handle bridging its byte stream.
func (m *Mux) Attach(name string, cols, rows uint16) (*Handle, error) {
	cmd := exec.Command(m.bin, "attach-session", "-t", "="+name)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %s: %w", name, err)
	}

	h := &Handle{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		h.exitCode = 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			h.exitCode = exitErr.ExitCode()
		} else if err != nil {
			h.exitCode = -1
		}
		close(h.done)
	}()

	return h, nil
}

// Read reads output bytes produced by the attached terminal.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

// Write feeds input bytes to the attached terminal.
func (h *Handle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

// Resize propagates new terminal geometry to the pty; tmux picks it up and
// reflows the attached session.
func (h *Handle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill detaches this client: the attach process group is terminated and the
// pty closed. Idempotent.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			// Negative pid targets the process group created by Setsid.
			if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil {
				h.cmd.Process.Kill()
			}
		}
		h.ptmx.Close()
	})
}

// Done is closed once the attach process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the attach process exit code. Only valid after Done is
// closed.
func (h *Handle) ExitCode() int {
	return h.exitCode
}
