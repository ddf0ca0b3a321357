package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"NexusChat/internal/chatbot"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans controller events out to every connected page.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// Publish queues e for every client. Slow clients miss events rather than
// stall the controller.
func (h *Hub) Publish(e chatbot.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", "client_id", c.id, "type", e.Type)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serve upgrades the request and keeps the client registered until it
// disconnects. hello is always the first message the client sees, and every
// event published after it is delivered.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, hello chatbot.Event) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	// Queue hello and register under one lock so no Publish can slip in
	// between them or be missed.
	h.mu.Lock()
	if data, err := json.Marshal(hello); err == nil {
		c.send <- data
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "client_id", c.id, "clients", count)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// Reads only detect the disconnect; pages never send anything.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c.id)
	count = len(h.clients)
	h.mu.Unlock()
	close(done)
	conn.Close()
	h.logger.Info("websocket client disconnected", "client_id", c.id, "clients", count)
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("websocket write failed", "client_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
