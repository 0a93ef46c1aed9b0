package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appLog "weekcal/internal/log"
	"weekcal/internal/query"
)

// Message types pushed to websocket clients.
const (
	// TypeQueryState is sent on every state transition of a query key.
	TypeQueryState = "query_state"
	// TypeQuerySnapshot is sent once per key right after a client connects.
	TypeQuerySnapshot = "query_snapshot"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Message is the websocket envelope.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// StatePayload describes one query key.
type StatePayload struct {
	Key        string       `json:"key"`
	Status     query.Status `json:"status"`
	IsFetching bool         `json:"is_fetching"`
	Error      string       `json:"error,omitempty"`
	UpdatedAt  *time.Time   `json:"updated_at,omitempty"`
}

func newStateMessage(typ string, st query.State) Message {
	p := StatePayload{
		Key:        st.Key,
		Status:     st.Status,
		IsFetching: st.IsFetching,
	}
	if st.Err != nil {
		p.Error = st.Err.Error()
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		p.UpdatedAt = &t
	}
	return Message{Type: typ, Timestamp: time.Now().UTC(), Payload: p}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub owns the set of connected websocket clients and fans out query state
// changes to them. Run must be running for clients to be served.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	mu       sync.RWMutex
	snapshot func() []query.State
}

type wsClient struct {
	id   string
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// SetSnapshot installs fn to produce the states sent to each new client.
func (h *Hub) SetSnapshot(fn func() []query.State) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run serves register, unregister and broadcast requests until ctx ends,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			// The snapshot is taken here so it is ordered with broadcasts:
			// any change after it reaches the client as a query_state.
			h.sendSnapshot(c)
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			appLog.Debug("websocket client connected", "client", c.id, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			appLog.Debug("websocket client disconnected", "client", c.id, "total", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		appLog.Error("websocket marshal failed", err, "type", msg.Type)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		appLog.Info("websocket broadcast channel full, dropping message", "type", msg.Type)
	}
}

// BroadcastState is a query.Client subscriber.
func (h *Hub) BroadcastState(st query.State) {
	h.Broadcast(newStateMessage(TypeQueryState, st))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendSnapshot(c *wsClient) {
	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()
	if snapshot == nil {
		return
	}
	for _, st := range snapshot() {
		data, err := json.Marshal(newStateMessage(TypeQuerySnapshot, st))
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) add(c *wsClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ServeWS upgrades the request and streams messages to the client. Messages
// from the client are read only to detect disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		appLog.Error("websocket upgrade failed", err)
		return
	}

	c := &wsClient{id: uuid.NewString(), send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	go h.writePump(conn, c)
	go h.readPump(conn, c)
}

func (h *Hub) writePump(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *websocket.Conn, c *wsClient) {
	defer func() {
		h.remove(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				appLog.Error("websocket read failed", err, "client", c.id)
			}
			return
		}
	}
}
