// Package gateway accepts client connections and routes them to sessions:
// request/response for session lifecycle, persistent websockets for
// terminals, one-shot streamed responses for agent chat.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/perchbox/perch/internal/agent"
	"github.com/perchbox/perch/internal/config"
	"github.com/perchbox/perch/internal/lifecycle"
	"github.com/perchbox/perch/internal/logger"
	"github.com/perchbox/perch/internal/repostore"
	"github.com/perchbox/perch/internal/terminal"
)

// Server is the HTTP/websocket front of the orchestration engine.
type Server struct {
	cfg       *config.Config
	sessions  *lifecycle.Manager
	store     *repostore.Store
	terminals *terminal.Service
	runner    *agent.Runner

	router   *httprouter.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer wires the gateway over its collaborators.
func NewServer(cfg *config.Config, sessions *lifecycle.Manager, store *repostore.Store, terminals *terminal.Service, runner *agent.Runner) *Server {
	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		store:     store,
		terminals: terminals,
		runner:    runner,
		router:    httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminal access is already gated by network reachability;
			// the gateway carries no origin-based auth.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.GET("/api/repositories", s.handleListRepositories)
	s.router.GET("/api/repositories/:repo/sessions", s.handleListSessions)
	s.router.POST("/api/repositories/:repo/sessions", s.handleCreateSession)
	s.router.DELETE("/api/repositories/:repo/sessions/:session", s.handleDeleteSession)
	s.router.PATCH("/api/repositories/:repo/sessions/:session", s.handleRenameSession)

	s.router.GET("/api/repositories/:repo/sessions/:session/tabs", s.handleListTabs)
	s.router.POST("/api/repositories/:repo/sessions/:session/tabs", s.handleCreateTab)
	s.router.DELETE("/api/repositories/:repo/sessions/:session/tabs/:tab", s.handleDeleteTab)

	s.router.GET("/api/repositories/:repo/sessions/:session/terminal", s.handleTerminal)
	s.router.POST("/api/repositories/:repo/sessions/:session/chat", s.handleChat)
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  0, // websockets and streamed responses stay open
		WriteTimeout: 0,
	}
	logger.Info("gateway listening on %s", s.cfg.ListenAddr)
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
