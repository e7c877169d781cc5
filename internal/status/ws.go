package status

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchhound/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status surface is local-only; auth happens before upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans events out to connected WebSocket clients. It plugs into the
// bus as a regular sink through FeedNotifier, so the live feed gets the
// same events every other sink does.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte)}
}

// ServeWS upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = send
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] client connected (%d active)", count)

	go h.writeLoop(conn, send)
	h.readLoop(conn)
}

// writeLoop pushes queued events and keepalive pings to one client.
func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes (and discards) client frames so pongs and close
// frames are processed.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	log.Printf("[WS] client disconnected (%d active)", count)
}

// Broadcast queues a message for every client. Slow clients drop
// messages rather than block the caller.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, send := range h.clients {
		select {
		case send <- msg:
		default:
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client and refuses new ones.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.drop(c)
	}
}

// Stats implements StatsSource.
func (h *Hub) Stats() map[string]any {
	return map[string]any{"ws_clients": h.ClientCount()}
}

// FeedNotifier adapts a Hub to the sink contract so the bus can feed
// it. Delivery always succeeds; a feed with no listeners is not a
// failure.
type FeedNotifier struct {
	hub *Hub
	min events.Severity
}

// NewFeedNotifier creates the adapter. Zero min defaults to DEBUG so
// the feed shows everything.
func NewFeedNotifier(hub *Hub, min events.Severity) *FeedNotifier {
	if min == 0 {
		min = events.SeverityDebug
	}
	return &FeedNotifier{hub: hub, min: min}
}

func (f *FeedNotifier) Name() string { return "live-feed" }

func (f *FeedNotifier) MinSeverity() events.Severity { return f.min }

func (f *FeedNotifier) Enabled() bool { return true }

func (f *FeedNotifier) Accepts(e events.Event) bool { return e.Severity >= f.min }

func (f *FeedNotifier) Deliver(e events.Event) bool {
	msg, err := jsonMarshal(e.JSON())
	if err != nil {
		return false
	}
	f.hub.Broadcast(msg)
	return true
}

func (f *FeedNotifier) Shutdown() error {
	f.hub.CloseAll()
	return nil
}
