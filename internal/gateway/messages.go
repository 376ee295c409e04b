package gateway

import "encoding/json"

// clientFrame is one message received on a terminal websocket. Data is
// base64-encoded raw bytes for input frames.
type clientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// serverFrame is one message sent on a terminal websocket. Data is
// base64-encoded raw bytes for output frames.
type serverFrame struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId,omitempty"`
	TabID        string `json:"tabId,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
	BaseBranch   string `json:"baseBranch,omitempty"`
	BaseCommit   string `json:"baseCommit,omitempty"`
	IsNewSession bool   `json:"isNewSession"`
	Reconnected  bool   `json:"reconnected"`
	Data         string `json:"data,omitempty"`
	Code         *int   `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// createSessionRequest is the body of POST .../sessions.
type createSessionRequest struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
	BaseBranch  string `json:"baseBranch,omitempty"`
}

// renameSessionRequest is the body of PATCH .../sessions/:session.
type renameSessionRequest struct {
	DisplayName string `json:"displayName"`
}

// createTabRequest is the body of POST .../sessions/:session/tabs.
type createTabRequest struct {
	TabID    string `json:"tabId"`
	Isolated bool   `json:"isolated,omitempty"`
	Index    int    `json:"index,omitempty"`
}

// chatRequest is the body of POST .../sessions/:session/chat.
type chatRequest struct {
	Message string        `json:"message"`
	TabID   string        `json:"tabId,omitempty"`
	History []chatMessage `json:"history,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// sessionResponse is the JSON view of a session returned by the REST API.
type sessionResponse struct {
	SessionID       string `json:"sessionId"`
	RepositoryID    string `json:"repositoryId"`
	DisplayName     string `json:"displayName"`
	BranchName      string `json:"branchName"`
	BaseBranch      string `json:"baseBranch"`
	BaseRevision    string `json:"baseRevision"`
	WorkingCopyPath string `json:"workingCopyPath"`
	CreatedAt       string `json:"createdAt"`
	LastAccessedAt  string `json:"lastAccessedAt"`
	IsExisting      bool   `json:"isExisting"`
	IsValid         bool   `json:"isValid"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
