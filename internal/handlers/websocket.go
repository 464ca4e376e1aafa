package handlers

import (
	"context"
	"net/http"

	"skipline-backend/internal/middleware"
	"skipline-backend/internal/models"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // staff dashboards are served from other origins
	},
}

// WebSocketHandler streams live queue snapshots to staff
type WebSocketHandler struct {
	hub          *services.WSHub
	userService  middleware.TokenValidator
	queueService *services.QueueService
	observer     observer.Observer
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService middleware.TokenValidator,
	queueService *services.QueueService,
	obs observer.Observer,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		userService:  userService,
		queueService: queueService,
		observer:     obs,
	}
}

// HandleQueueStream handles GET /ws/queues/{queue_id}?token=...
func (h *WebSocketHandler) HandleQueueStream(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, r, err)
		return
	}

	queueID := chi.URLParam(r, "queue_id")
	if err := h.queueService.AuthorizeStaff(r.Context(), principal, queueID); err != nil {
		respondError(w, r, err)
		return
	}

	// Upgrade connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(queueID, conn)
	defer h.hub.Unregister(queueID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, err := h.observer.Watch(ctx, queueID)
	if err != nil {
		log.Error().Err(err).Str("queue_id", queueID).Msg("Failed to watch queue")
		_ = h.hub.Send(conn, services.WSMessage{Type: "error", QueueID: queueID, Message: "queue stream unavailable"})
		return
	}

	log.Info().
		Str("user_id", principal.UserID).
		Str("queue_id", queueID).
		Int("watchers", h.hub.Watchers(queueID)).
		Msg("WebSocket connection established")

	go h.readLoop(conn, queueID, cancel)

	for snap := range snapshots {
		entries := snap.Entries
		if entries == nil {
			entries = []models.EntryView{}
		}
		msg := services.WSMessage{
			Type:      "snapshot",
			Timestamp: snap.At.UnixMilli(),
			QueueID:   queueID,
			Entries:   entries,
		}
		if err := h.hub.Send(conn, msg); err != nil {
			log.Debug().Err(err).Str("queue_id", queueID).Msg("Stopped streaming to WebSocket client")
			return
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// stops the stream once the client goes away
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, queueID string, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("queue_id", queueID).Msg("WebSocket error")
			}
			return
		}
	}
}
