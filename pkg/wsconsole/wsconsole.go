// Package wsconsole implements the GET /ws/console outbound push hub from
// spec.md §6: a WebSocket client subscribes with a job_id query parameter
// and receives newline-delimited JSON envelopes for exactly that job.
//
// Grounded on picoclaw's pkg/api/ws.go WSHub/WSClient register/unregister/
// broadcast pattern, generalized from a single broadcast-to-everyone
// channel to a per-job_id filtered subscription so one console connection
// never sees another job's log lines.
package wsconsole

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/h4mn/skybridge/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
				return true
			}
		}
		logger.WarnCF("wsconsole", "rejected websocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// Level classifies a console envelope, per spec.md §6.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelToolUse Level = "tool_use"
)

// Envelope is one line pushed to a subscribed console client.
type Envelope struct {
	Timestamp time.Time              `json:"timestamp"`
	JobID     string                 `json:"job_id"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	jobID string
}

// Hub fans Envelopes out to every client subscribed to their job_id.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates an empty console hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Push delivers env to every connected client whose job_id matches.
// A client whose send buffer is full misses this envelope rather than
// blocking the publisher; the client itself stays connected.
func (h *Hub) Push(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.WarnCF("wsconsole", "failed to marshal envelope", map[string]interface{}{"error": err.Error()})
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.jobID != "" && c.jobID != env.JobID {
			continue
		}
		select {
		case c.send <- data:
		default:
			logger.WarnCF("wsconsole", "dropping slow console client", map[string]interface{}{"job_id": c.jobID})
		}
	}
}

// HandleUpgrade upgrades an HTTP request to a console WebSocket connection
// scoped to the request's job_id query parameter (empty subscribes to
// every job — used by an operator dashboard, not the per-job console UI).
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("wsconsole", "upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256), jobID: r.URL.Query().Get("job_id")}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			w.Write([]byte("\n"))
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// ClientCount reports the number of connected console clients, for /metrics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
