package handlers

import (
	"net/http"

	"skipline-backend/internal/middleware"
	"skipline-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// QueueHandler handles staff operations on a queue and on its entries
type QueueHandler struct {
	queueService *services.QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queueService *services.QueueService) *QueueHandler {
	return &QueueHandler{queueService: queueService}
}

// ScanRequest carries a code scanned at the counter
type ScanRequest struct {
	Code string `json:"code" validate:"required,max=512"`
}

// Scan handles POST /api/v1/queues/{queue_id}/scan
func (h *QueueHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	queueID := chi.URLParam(r, "queue_id")

	result, err := h.queueService.ScanAdd(r.Context(), middleware.PrincipalFrom(r.Context()), req.Code, queueID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("queue_id", queueID).
		Str("user_id", result.Entry.UserID).
		Int("position", result.Position).
		Msg("Customer added by scan")

	respondJSON(w, http.StatusCreated, result)
}

// CallNext handles POST /api/v1/queues/{queue_id}/call-next
func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queueService.CallNext(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "queue_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// ListEntries handles GET /api/v1/queues/{queue_id}/entries
func (h *QueueHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queueService.ListActive(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "queue_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// MarkServed handles POST /api/v1/entries/{entry_id}/served
func (h *QueueHandler) MarkServed(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queueService.MarkServed(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "entry_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// MarkNoShow handles POST /api/v1/entries/{entry_id}/no-show
func (h *QueueHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queueService.MarkNoShow(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "entry_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// MyEntries handles GET /api/v1/entries
func (h *QueueHandler) MyEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queueService.MyEntries(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetEntry handles GET /api/v1/entries/{entry_id}
func (h *QueueHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	view, err := h.queueService.EntryStatus(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "entry_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// CancelEntry handles POST /api/v1/entries/{entry_id}/cancel
func (h *QueueHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queueService.Cancel(r.Context(), middleware.PrincipalFrom(r.Context()), chi.URLParam(r, "entry_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}
