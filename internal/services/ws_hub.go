package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"skipline-backend/internal/metrics"
	"skipline-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp,omitempty"`
	QueueID   string             `json:"queue_id,omitempty"`
	Entries   []models.EntryView `json:"entries"`
	Message   string             `json:"message,omitempty"`
}

// WSHub tracks the staff connections watching each queue
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]bool
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{connections: make(map[string]map[*websocket.Conn]bool)}
}

// Register registers a connection watching a queue
func (h *WSHub) Register(queueID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[queueID] == nil {
		h.connections[queueID] = make(map[*websocket.Conn]bool)
	}
	h.connections[queueID][conn] = true
	metrics.WSConnections.Inc()

	log.Info().Str("queue_id", queueID).Msg("WebSocket connection registered")
}

// Unregister closes and forgets a connection
func (h *WSHub) Unregister(queueID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connections[queueID][conn] {
		return
	}
	conn.Close()
	delete(h.connections[queueID], conn)
	if len(h.connections[queueID]) == 0 {
		delete(h.connections, queueID)
	}
	metrics.WSConnections.Dec()

	log.Info().Str("queue_id", queueID).Msg("WebSocket connection unregistered")
}

// Send writes a message to one connection. Only the connection's own
// handler goroutine may call it.
func (h *WSHub) Send(conn *websocket.Conn, message WSMessage) error {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Watchers returns the number of connections watching a queue
func (h *WSHub) Watchers(queueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[queueID])
}

// CloseAll tells every client the server is going away and drops them
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for queueID, conns := range h.connections {
		for conn := range conns {
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
			metrics.WSConnections.Dec()
		}
		delete(h.connections, queueID)
	}
}
