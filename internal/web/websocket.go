package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one push frame to a dashboard client. Type carries the bus
// subject (agent.<id>.events, agent.<id>.status, task.<id>.result,
// discovery.found) and Payload the subject's JSON body untouched.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans bus events out to every connected dashboard socket. Slow or
// dead sockets are dropped rather than allowed to stall the rest.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*websocket.Conn]struct{}
	events chan Event
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[*websocket.Conn]struct{}),
		events: make(chan Event, 256),
	}
}

// Run delivers queued events until the context is cancelled. A write
// failure evicts that socket; the remaining sockets still get the event.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for conn := range h.conns {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					delete(h.conns, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for delivery. The queue is bounded; when the
// dashboards cannot keep up the event is dropped, never the caller.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.events <- ev:
	default:
		slog.Warn("dashboard event queue full, dropping event", "type", ev.Type)
	}
}

func (h *Hub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) Detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// handleWebSocket upgrades the request and parks it in the hub. The
// read loop exists only to notice the peer going away; clients do not
// send anything upstream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Attach(conn)
	defer func() {
		s.hub.Detach(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
