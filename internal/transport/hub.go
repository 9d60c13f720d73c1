package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Hub fans workspace events out to websocket clients watching that workspace
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan envelope
	done       chan struct{}
	upgrader   websocket.Upgrader
	log        *logrus.Entry

	mu sync.RWMutex
}

type envelope struct {
	workspaceID string
	message     []byte
}

// SnapshotFunc returns the events that bring a newly connected client up to date
type SnapshotFunc func() []service.Event

type wsClient struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	workspaceID string
	snapshot    SnapshotFunc
	onClose     func()
}

// NewHub creates a hub accepting upgrades from allowedOrigins. An empty list or
// "*" accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan envelope, sendBufferSize),
		done:       make(chan struct{}),
		log:        logger.Component("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// Run dispatches until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			// taken inside the loop, so every broadcast not yet dispatched
			// reaches the client after its snapshot
			h.queueSnapshot(client)
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithField("workspace_id", client.workspaceID).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.WithField("workspace_id", client.workspaceID).Debug("Client unregistered")

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.workspaceID != env.workspaceID {
					continue
				}
				select {
				case client.send <- env.message:
				default:
					// too slow to keep up; the browser reconnects and resyncs
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements service.EventSink. It never blocks; when the queue is full
// the event is dropped.
func (h *Hub) Publish(event service.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal event")
		return
	}
	select {
	case h.broadcast <- envelope{workspaceID: event.WorkspaceID, message: message}:
	default:
		h.log.WithField("type", event.Type).Warn("Broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams events of workspaceID. snapshot is
// called once the client is registered and its events are sent before any
// later broadcast. onClose, when set, runs once the connection is gone.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, workspaceID string, snapshot SnapshotFunc, onClose func()) {
	if onClose == nil {
		onClose = func() {}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Failed to upgrade connection")
		onClose()
		return
	}

	client := &wsClient{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		workspaceID: workspaceID,
		snapshot:    snapshot,
		onClose:     onClose,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		onClose()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) queueSnapshot(client *wsClient) {
	if client.snapshot == nil {
		return
	}
	for _, event := range client.snapshot() {
		message, err := json.Marshal(event)
		if err != nil {
			h.log.WithError(err).Error("Failed to marshal snapshot event")
			continue
		}
		select {
		case client.send <- message:
		default:
			h.log.WithField("workspace_id", client.workspaceID).Warn("Snapshot larger than send buffer")
			return
		}
	}
}

// readPump only watches for the peer going away
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.onClose()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.WithError(err).Debug("Failed to write message")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
