package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/perchbox/perch/internal/lifecycle"
	"github.com/perchbox/perch/internal/repostore"
)

func toSessionResponse(s *lifecycle.Session) sessionResponse {
	return sessionResponse{
		SessionID:       s.SessionID,
		RepositoryID:    s.RepositoryID,
		DisplayName:     s.DisplayName,
		BranchName:      s.BranchName,
		BaseBranch:      s.BaseBranch,
		BaseRevision:    s.BaseRevision,
		WorkingCopyPath: s.WorktreePath,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		LastAccessedAt:  s.LastAccessedAt.Format(time.RFC3339),
		IsExisting:      s.IsExisting,
		IsValid:         s.IsValid,
	}
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if repos == nil {
		repos = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"repositories": repos})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		// Session ids may be client-supplied (idempotent retries) or
		// server-generated.
		req.SessionID = uuid.NewString()
	}

	session, err := s.sessions.Create(r.Context(), lifecycle.CreateRequest{
		RepositoryID: ps.ByName("repo"),
		SessionID:    req.SessionID,
		DisplayName:  req.DisplayName,
		BaseBranch:   req.BaseBranch,
	})
	if err != nil {
		if errors.Is(err, repostore.ErrRepoMissing) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if session.IsExisting {
		status = http.StatusOK
	}
	s.writeJSON(w, status, toSessionResponse(session))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ok, err := s.sessions.Delete(r.Context(), ps.ByName("repo"), ps.ByName("session"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessions, err := s.sessions.List(r.Context(), ps.ByName("repo"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	s.writeJSON(w, http.StatusOK, map[string][]sessionResponse{"sessions": out})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req renameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DisplayName == "" {
		s.writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	err := s.sessions.Rename(ps.ByName("session"), req.DisplayName)
	if errors.Is(err, lifecycle.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req createTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TabID == "" {
		s.writeError(w, http.StatusBadRequest, "tabId is required")
		return
	}

	tab, err := s.sessions.CreateTab(r.Context(), lifecycle.CreateTabRequest{
		RepositoryID: ps.ByName("repo"),
		SessionID:    ps.ByName("session"),
		TabID:        req.TabID,
		Isolated:     req.Isolated,
		Index:        req.Index,
	})
	if errors.Is(err, lifecycle.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, tab)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tabs, err := s.sessions.Tabs(ps.ByName("session"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

func (s *Server) handleDeleteTab(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ok, err := s.sessions.DeleteTab(r.Context(), ps.ByName("repo"), ps.ByName("session"), ps.ByName("tab"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "tab not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
