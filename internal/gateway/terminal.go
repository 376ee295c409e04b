package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/perchbox/perch/internal/lifecycle"
	"github.com/perchbox/perch/internal/logger"
	"github.com/perchbox/perch/internal/terminal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Output read chunk size from the pty.
	outputChunkSize = 4096
)

// handleTerminal upgrades to a websocket and bridges it to the (session,
// tab) terminal. Closing the socket, explicitly or via missed keep-alives,
// kills only the attach handle; the tmux session survives for reconnection.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("session")
	tabID := r.URL.Query().Get("tab")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sendError := func(msg string) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, mustJSON(serverFrame{Type: "error", Message: msg}))
	}

	// Materialize or reconcile the session's worktree before attaching.
	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		sendError("session not found")
		return
	}
	if !session.IsValid {
		session, err = s.sessions.Create(r.Context(), lifecycle.CreateRequest{
			RepositoryID: ps.ByName("repo"),
			SessionID:    sessionID,
		})
		if err != nil {
			sendError(err.Error())
			return
		}
	}
	s.sessions.Touch(sessionID)
	if tabID != "" {
		s.sessions.FocusTab(sessionID, tabID)
	}

	dir, _, err := s.sessions.WorktreeFor(r.Context(), sessionID, tabID)
	if err != nil {
		sendError(err.Error())
		return
	}

	cols := parseDim(r.URL.Query().Get("cols"), 80)
	rows := parseDim(r.URL.Query().Get("rows"), 24)

	handle, isNew, replaced, err := s.terminals.Connect(r.Context(), sessionID, tabID, dir, cols, rows)
	if err != nil {
		sendError(err.Error())
		return
	}
	defer s.terminals.Disconnect(sessionID, tabID, handle)

	client := &termClient{
		conn:       conn,
		handle:     handle,
		send:       make(chan serverFrame, 256),
		quit:       make(chan struct{}),
		dead:       make(chan struct{}),
		pingPeriod: s.cfg.PingInterval(),
		pongWait:   s.cfg.PongWait(),
	}

	client.trySend(serverFrame{
		Type:         "connected",
		SessionID:    sessionID,
		TabID:        tabID,
		BranchName:   session.BranchName,
		BaseBranch:   session.BaseBranch,
		BaseCommit:   session.BaseRevision,
		IsNewSession: isNew,
		Reconnected:  replaced,
	})

	go client.writePump()
	go client.outputPump()
	client.readPump(s, sessionID, tabID)
}

func parseDim(s string, def uint16) uint16 {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 1<<15 {
		return def
	}
	return uint16(n)
}

// termHandle is the surface of terminal.Handle the pumps need.
type termHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Done() <-chan struct{}
	ExitCode() int
}

var _ termHandle = (*terminal.Handle)(nil)

// termClient bridges one websocket connection to one terminal handle.
type termClient struct {
	conn   *websocket.Conn
	handle termHandle

	send chan serverFrame
	// quit is closed by outputPump after it queued the exit frame; dead is
	// closed by writePump once the connection stops accepting writes, so
	// senders never block on a socket nobody drains.
	quit       chan struct{}
	dead       chan struct{}
	pingPeriod time.Duration
	pongWait   time.Duration
}

// trySend queues a frame unless the connection is already shutting down. It
// reports whether the frame was queued.
func (c *termClient) trySend(f serverFrame) bool {
	select {
	case c.send <- f:
		return true
	case <-c.quit:
		return false
	case <-c.dead:
		return false
	}
}

// readPump reads client frames until the connection dies. A missed pong
// round trips the read deadline and lands here as a read error, so liveness
// failures and explicit disconnects share one teardown path.
func (c *termClient) readPump(s *Server, sessionID, tabID string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("terminal websocket read error: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("invalid terminal frame: %v", err)
			continue
		}

		switch frame.Type {
		case "input":
			data, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				logger.Warn("invalid input encoding: %v", err)
				continue
			}
			if _, err := c.handle.Write(data); err != nil {
				logger.Debug("terminal input write failed: %v", err)
				return
			}
		case "resize":
			if frame.Cols > 0 && frame.Rows > 0 {
				if err := c.handle.Resize(frame.Cols, frame.Rows); err != nil {
					logger.Warn("terminal resize failed: %v", err)
				}
			}
		case "restart":
			if err := s.terminals.Restart(context.Background(), sessionID, tabID); err != nil {
				c.trySend(serverFrame{Type: "error", Message: "restart failed: " + err.Error()})
			}
		case "ping":
			c.trySend(serverFrame{Type: "pong"})
		default:
			logger.Debug("unknown terminal frame type %q", frame.Type)
		}
	}
}

// outputPump forwards pty output to the send channel and emits the exit
// frame once the handle dies.
func (c *termClient) outputPump() {
	buf := make([]byte, outputChunkSize)
	for {
		n, err := c.handle.Read(buf)
		if n > 0 {
			if !c.trySend(serverFrame{
				Type: "output",
				Data: base64.StdEncoding.EncodeToString(buf[:n]),
			}) {
				return
			}
		}
		if err != nil {
			break
		}
	}

	select {
	case <-c.handle.Done():
	case <-c.dead:
		return
	}
	code := c.handle.ExitCode()
	c.trySend(serverFrame{Type: "exit", Code: &code})
	close(c.quit)
}

// writePump serializes frames onto the websocket and keeps the connection
// alive with protocol-level pings, independent of app-level ping frames.
func (c *termClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.dead)
		c.conn.Close()
	}()

	write := func(f serverFrame) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, mustJSON(f)); err != nil {
			logger.Debug("terminal write failed: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case frame := <-c.send:
			if !write(frame) {
				return
			}
		case <-c.quit:
			// Flush whatever is queued (the exit frame in particular),
			// then close cleanly.
			for {
				select {
				case frame := <-c.send:
					if !write(frame) {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
