package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/perchbox/perch/internal/logger"
)

// Message is one prior conversation entry handed to the agent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the input of one agent turn: the new user message plus the
// prior turn history.
type TurnRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history,omitempty"`
}

// Runner spawns the external agent process for single turns. The process is
// handed the turn input as JSON lines on stdin and emits stream-json records
// on stdout, one per line.
type Runner struct {
	command string
	args    []string
}

// NewRunner creates a Runner for the given agent command line.
func NewRunner(command string, args []string) *Runner {
	return &Runner{command: command, args: args}
}

// scanBufSize accommodates records carrying whole-file tool outputs.
const scanBufSize = 1024 * 1024

// Run starts one agent turn in dir and returns the channel of transcoded
// events. The channel always terminates with exactly one done or error
// event and is then closed; callers never wait on a silently abandoned
// stream. Canceling ctx kills the process.
func (r *Runner) Run(ctx context.Context, dir string, req TurnRequest) (<-chan Event, error) {
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", r.command, err)
	}

	// Turn input goes in as JSON lines: history first, then the new
	// message, then EOF so one-shot agents know the turn is complete.
	go func() {
		defer stdin.Close()
		enc := json.NewEncoder(stdin)
		for _, m := range req.History {
			if err := enc.Encode(m); err != nil {
				logger.Warn("failed to write agent history: %v", err)
				return
			}
		}
		if err := enc.Encode(Message{Role: "user", Content: req.Message}); err != nil {
			logger.Warn("failed to write agent message: %v", err)
		}
	}()

	events := make(chan Event, 64)
	go func() {
		defer close(events)

		tc := NewTranscoder()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), scanBufSize)
		for scanner.Scan() {
			for _, ev := range tc.Feed(scanner.Text()) {
				events <- ev
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("agent stdout read failed: %v", err)
		}

		exitCode := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				logger.Warn("agent stderr: %s", msg)
			}
		}

		events <- tc.Finish(exitCode)
	}()

	return events, nil
}
