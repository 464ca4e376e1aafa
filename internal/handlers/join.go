package handlers

import (
	"net/http"

	"skipline-backend/internal/middleware"
	"skipline-backend/internal/qrcode"
	"skipline-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// JoinHandler serves the join links printed on company codes
type JoinHandler struct {
	companyService *services.CompanyService
	queueService   *services.QueueService
}

// NewJoinHandler creates a new join handler
func NewJoinHandler(companyService *services.CompanyService, queueService *services.QueueService) *JoinHandler {
	return &JoinHandler{
		companyService: companyService,
		queueService:   queueService,
	}
}

// GetCompany handles GET /api/v1/join/{company_code}
func (h *JoinHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.companyService.Public(r.Context(), chi.URLParam(r, "company_code"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

// Join handles POST /api/v1/join/{company_code}/queues/{queue_id}
func (h *JoinHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())
	queueID := chi.URLParam(r, "queue_id")

	result, err := h.queueService.JoinAuthenticated(r.Context(), principal, chi.URLParam(r, "company_code"), queueID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("user_id", principal.UserID).
		Str("queue_id", queueID).
		Int("position", result.Position).
		Msg("Customer joined queue")

	respondJSON(w, http.StatusCreated, result)
}

// JoinGuest handles POST /api/v1/join/{company_code}/queues/{queue_id}/guest
func (h *JoinHandler) JoinGuest(w http.ResponseWriter, r *http.Request) {
	var req services.GuestJoinRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.CompanyCode = chi.URLParam(r, "company_code")
	req.QueueID = chi.URLParam(r, "queue_id")

	result, err := h.queueService.JoinGuest(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("guest_id", result.Profile.ID).
		Str("queue_id", req.QueueID).
		Str("contact_method", string(req.ContactMethod)).
		Msg("Guest joined queue")

	respondJSON(w, http.StatusCreated, result)
}

// ClassifyRequest carries a scanned string
type ClassifyRequest struct {
	Code string `json:"code" validate:"required,max=512"`
}

// ClassifyResponse describes what a scanned string refers to
type ClassifyResponse struct {
	Kind       qrcode.Kind `json:"kind"`
	JoinCode   string      `json:"join_code,omitempty"`
	CustomerID string      `json:"customer_id,omitempty"`
	StoredCode string      `json:"stored_code,omitempty"`
	GuestCode  string      `json:"guest_code,omitempty"`
	Raw        string      `json:"raw"`
}

// Classify handles POST /api/v1/classify
func (h *JoinHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, classifyResponse(qrcode.Classify(req.Code)))
}

func classifyResponse(code qrcode.Code) ClassifyResponse {
	resp := ClassifyResponse{Kind: code.Kind(), Raw: code.Raw()}
	switch c := code.(type) {
	case qrcode.Company:
		resp.JoinCode = c.JoinCode
	case qrcode.Customer:
		resp.CustomerID = c.ID
		resp.StoredCode = c.StoredCode
	case qrcode.Guest:
		resp.GuestCode = c.Code
	}
	return resp
}
