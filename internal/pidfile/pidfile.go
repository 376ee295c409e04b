// Package pidfile guards against two daemons sharing one session registry
// and worktree root. The single-handle and single-worktree invariants only
// hold within one process, so a second instance must refuse to start.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// File is an acquired pid file.
type File struct {
	path string
}

// Acquire writes the current pid to path. It fails when the file names a
// still-running process; a stale file left by a crashed daemon is replaced.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pidfile directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil && pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("another instance is running (pid %d, %s)", pid, path)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pidfile: %w", err)
	}
	return &File{path: path}, nil
}

// processAlive reports whether pid names a running process we could signal.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Release removes the pid file. Safe to call when the file is already gone.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Path returns the pid file location.
func (f *File) Path() string {
	return f.path
}
