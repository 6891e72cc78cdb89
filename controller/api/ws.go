package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/droppurity/aquatrack/controller/device"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the device itself or a dev proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans device state changes out to connected dashboard sockets.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{conns: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

// broadcast sends the status to every connection, dropping any that fail.
func (h *hub) broadcast(st device.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.WriteJSON(st); err != nil {
			delete(h.conns, c)
			c.Close()
		}
	}
}

// serveWs upgrades the connection and streams state changes. The current
// snapshot is sent immediately so the page renders without waiting for the
// next change.
func (a *API) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ws: upgrade:", err)
		return
	}
	if a.dev != nil {
		if err := conn.WriteJSON(a.dev.Snapshot()); err != nil {
			conn.Close()
			return
		}
	}
	a.hub.add(conn)
	go func() {
		// Inbound frames are ignored; the read loop only detects close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.remove(conn)
				return
			}
		}
	}()
}
