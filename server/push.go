package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

// sameOrigin accepts non-browser clients and pages served by this server.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) hello() events.Event {
	return events.Event{
		Type:      events.TypeHello,
		Timestamp: time.Now().UTC(),
		Payload:   events.Hello{Session: s.session.ID},
	}
}

// handleEvents streams bus events as Server-Sent Events until the client
// goes away or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, s.hello()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				s.logger.Debug("sse client gone", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// wsCommand is a client-to-server message on the WebSocket.
type wsCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

type wsReply struct {
	Type    string `json:"type"`
	PID     int    `json:"pid,omitempty"`
	Stopped *bool  `json:"stopped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWS pushes bus events to the client and accepts ping, run-command and
// stop-command messages from it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsConn{conn: conn}
	defer c.close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	if err := c.writeJSON(s.hello()); err != nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd wsCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				_ = c.writeJSON(wsReply{Type: "error", Error: "malformed message"})
				continue
			}
			if err := c.writeJSON(s.handleWSCommand(cmd)); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case <-s.done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := c.writeJSON(ev); err != nil {
				s.logger.Debug("websocket client gone", "err", err)
				return
			}
		}
	}
}

func (s *Server) handleWSCommand(cmd wsCommand) wsReply {
	switch cmd.Type {
	case "ping":
		return wsReply{Type: "pong"}
	case "run-command":
		pid, _, err := s.runCommand(cmd.Command, cmd.Cwd)
		if err != nil {
			return wsReply{Type: "run-result", Error: err.Error()}
		}
		return wsReply{Type: "run-result", PID: pid}
	case "stop-command":
		stopped := s.runner.Stop()
		return wsReply{Type: "stop-result", Stopped: &stopped}
	default:
		return wsReply{Type: "error", Error: fmt.Sprintf("unknown message type %q", cmd.Type)}
	}
}
