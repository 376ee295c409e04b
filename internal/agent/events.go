// Package agent runs the external coding-agent process for a session's
// worktree and transcodes its raw line-delimited JSON stream into a
// deduplicated, typed event stream.
package agent

import "encoding/json"

// EventType discriminates the typed events a turn produces.
type EventType string

const (
	// EventText carries an incremental text delta, never re-sent content.
	EventText EventType = "text"
	// EventThinking carries an opaque reasoning block, display-only.
	EventThinking EventType = "thinking"
	// EventToolUse announces a tool invocation with its input.
	EventToolUse EventType = "tool_use"
	// EventToolResult pairs a tool invocation's outcome back to its id.
	EventToolResult EventType = "tool_result"
	// EventError surfaces an agent-reported error; the stream continues.
	EventError EventType = "error"
	// EventDone terminates a turn and carries the final accumulated text.
	EventDone EventType = "done"
)

// Event is one typed occurrence within an agent turn. Fields are populated
// per Type: Content for text/thinking/done, ID/Tool/Input for tool_use,
// ID/Tool/Output/Success for tool_result, Message for error.
type Event struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	ID      string          `json:"id,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
}
