package agent

import (
	"encoding/json"
	"strings"

	"github.com/perchbox/perch/internal/logger"
)

// streamRecord is one line of the agent's stream-json output. The agent may
// re-emit the entire accumulated message text on every record rather than
// only the increment; the transcoder undoes that.
type streamRecord struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type pendingTool struct {
	name  string
	input json.RawMessage
}

// Transcoder converts one turn's raw record stream into typed events. It is
// stateful per turn: accumulated text for delta computation and the open
// tool-invocation correlation map live here. Not safe for concurrent use;
// feed it from a single goroutine.
type Transcoder struct {
	accumulated  string
	emittedDelta bool
	pending      map[string]pendingTool
}

// NewTranscoder creates a Transcoder for one turn.
func NewTranscoder() *Transcoder {
	return &Transcoder{pending: make(map[string]pendingTool)}
}

// Feed processes one raw output line and returns the events it produces,
// possibly none. Unparseable lines are logged and skipped; agents tend to
// mix diagnostics into stdout.
func (t *Transcoder) Feed(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var rec streamRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		logger.Warn("skipping unparseable agent output: %v", err)
		return nil
	}

	var events []Event
	switch rec.Type {
	case "system":
		// init records carry session metadata we don't surface

	case "assistant":
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				if delta, ok := t.textDelta(block.Text); ok {
					events = append(events, Event{Type: EventText, Content: delta})
				}
			case "thinking":
				if block.Thinking != "" {
					events = append(events, Event{Type: EventThinking, Content: block.Thinking})
				}
			case "tool_use":
				t.pending[block.ID] = pendingTool{name: block.Name, input: block.Input}
				events = append(events, Event{
					Type:  EventToolUse,
					ID:    block.ID,
					Tool:  block.Name,
					Input: block.Input,
				})
			}
		}

	case "user":
		for _, block := range rec.Message.Content {
			if block.Type != "tool_result" || block.ToolUseID == "" {
				continue
			}
			ev := Event{
				Type:    EventToolResult,
				ID:      block.ToolUseID,
				Output:  flattenToolOutput(block.Content),
				Success: !block.IsError,
			}
			if p, ok := t.pending[block.ToolUseID]; ok {
				ev.Tool = p.name
				delete(t.pending, block.ToolUseID)
			}
			events = append(events, ev)
		}

	case "result":
		if rec.Error != "" || rec.Subtype == "error" || strings.HasPrefix(rec.Subtype, "error_") {
			msg := rec.Error
			if msg == "" {
				msg = rec.Result
			}
			if msg != "" {
				events = append(events, Event{Type: EventError, Message: msg})
			}
			break
		}
		// Fallback only: a turn that never streamed deltas delivers its
		// whole message in the result record.
		if !t.emittedDelta && rec.Result != "" {
			t.accumulated = rec.Result
			t.emittedDelta = true
			events = append(events, Event{Type: EventText, Content: rec.Result})
		}

	case "error":
		if rec.Error != "" {
			events = append(events, Event{Type: EventError, Message: rec.Error})
		}
	}

	return events
}

// textDelta applies the accumulated-text deduplication. Fragments that
// re-send everything observed so far yield only the new suffix; fragments
// already contained in the accumulated text are pure duplicates and yield
// nothing; anything else is genuinely new content emitted verbatim.
func (t *Transcoder) textDelta(fragment string) (string, bool) {
	if fragment == "" {
		return "", false
	}
	if t.accumulated != "" && strings.HasPrefix(fragment, t.accumulated) {
		delta := fragment[len(t.accumulated):]
		t.accumulated = fragment
		if delta == "" {
			return "", false
		}
		t.emittedDelta = true
		return delta, true
	}
	if strings.Contains(t.accumulated, fragment) {
		return "", false
	}
	t.accumulated += fragment
	t.emittedDelta = true
	return fragment, true
}

// Finish produces the terminal event for the turn once the agent process
// has exited. A non-zero exit that produced no text is an error; everything
// else is a done event carrying the final accumulated text.
func (t *Transcoder) Finish(exitCode int) Event {
	if exitCode != 0 && t.accumulated == "" {
		return Event{Type: EventError, Message: "agent process exited without output"}
	}
	return Event{Type: EventDone, Content: t.accumulated}
}

// Text returns the accumulated text observed so far.
func (t *Transcoder) Text() string {
	return t.accumulated
}

// flattenToolOutput renders a tool_result content payload as plain text.
// The payload is either a bare JSON string or an array of text blocks.
func flattenToolOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
