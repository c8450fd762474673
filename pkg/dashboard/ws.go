package dashboard

import (
	"net/http"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same policy as the REST surface: the page may be served from
	// another origin during development.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsHub fans a refresh hint out to every connected page. The payload only
// names the scope that changed; clients re-fetch over the REST surface.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]struct{})}
}

type refreshMessage struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.Close()
}

func (h *wsHub) Broadcast(scope string) {
	msg := refreshMessage{Type: "refresh", Scope: scope}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(msg); err != nil {
			delete(h.conns, c)
			_ = c.Close()
		}
	}
}

func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
		delete(h.conns, c)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "err", err)
		return
	}
	s.hub.add(c)
	log.Debug("websocket client connected", "remote", r.RemoteAddr)

	// Drain the connection so pings and close frames are processed; the
	// hub never reads application data.
	go func() {
		defer s.hub.remove(c)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
