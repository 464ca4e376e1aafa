package handlers

import (
	"net/http"

	"skipline-backend/internal/middleware"
	"skipline-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// CompanyHandler handles the business side company and queue setup
type CompanyHandler struct {
	companyService *services.CompanyService
}

// NewCompanyHandler creates a new company handler
func NewCompanyHandler(companyService *services.CompanyService) *CompanyHandler {
	return &CompanyHandler{companyService: companyService}
}

// CreateCompany handles POST /api/v1/company
func (h *CompanyHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req services.CreateCompanyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	company, err := h.companyService.Create(r.Context(), middleware.PrincipalFrom(r.Context()), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("company_id", company.ID).
		Str("join_code", company.JoinCode).
		Msg("Company created")

	respondJSON(w, http.StatusCreated, company)
}

// GetCompany handles GET /api/v1/company
func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.companyService.MyCompany(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

// CreateQueue handles POST /api/v1/company/queues
func (h *CompanyHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req services.CreateQueueRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	queue, err := h.companyService.CreateQueue(r.Context(), middleware.PrincipalFrom(r.Context()), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("queue_id", queue.ID).
		Str("company_id", queue.CompanyID).
		Msg("Queue created")

	respondJSON(w, http.StatusCreated, queue)
}

// ListQueues handles GET /api/v1/company/queues
func (h *CompanyHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.companyService.ListMyQueues(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": queues})
}
