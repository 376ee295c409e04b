package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/perchbox/perch/internal/agent"
	"github.com/perchbox/perch/internal/logger"
)

// handleChat runs one agent turn scoped to the session's worktree and
// streams the transcoded events back as NDJSON, one event per line, flushed
// as they arrive. The stream always terminates with a done or error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := ps.ByName("session")
	dir, _, err := s.sessions.WorktreeFor(r.Context(), sessionID, req.TabID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.sessions.Touch(sessionID)

	history := make([]agent.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, agent.Message{Role: m.Role, Content: m.Content})
	}

	events, err := s.runner.Run(r.Context(), dir, agent.TurnRequest{
		Message: req.Message,
		History: history,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			logger.Debug("chat stream write failed: %v", err)
			// Drain so the agent goroutine can finish.
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
