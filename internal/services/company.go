package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"
	"skipline-backend/internal/qrcode"

	"github.com/google/uuid"
)

const defaultTimePerPerson = 5

// CompanyService handles a business's company and its queues
type CompanyService struct {
	stores    Stores
	publicURL string
	now       func() time.Time
}

// NewCompanyService creates a new company service
func NewCompanyService(stores Stores, publicURL string) *CompanyService {
	return &CompanyService{stores: stores, publicURL: publicURL, now: time.Now}
}

// CreateCompanyRequest is the payload to register a company
type CreateCompanyRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// CompanyDetails is a company with the link its printed code points to
type CompanyDetails struct {
	*models.Company
	JoinURL string `json:"join_url"`
}

// QueueSummary is a queue with its current number of waiting entrants
type QueueSummary struct {
	*models.Queue
	Waiting int `json:"waiting_count"`
}

// PublicCompany is what an anonymous visitor of a join link sees
type PublicCompany struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	JoinCode    string         `json:"join_code"`
	Queues      []QueueSummary `json:"queues"`
}

func requireBusiness(p models.Principal) error {
	if !p.Authenticated() {
		return apperr.ErrUnauthorized
	}
	if p.Role != models.RoleBusiness {
		return apperr.ErrBusinessOnly
	}
	return nil
}

// Create registers the caller's company. A business owns at most one.
func (s *CompanyService) Create(ctx context.Context, principal models.Principal, req CreateCompanyRequest) (*CompanyDetails, error) {
	if err := requireBusiness(principal); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.ErrMissingName
	}

	joinCode, err := s.generateUniqueJoinCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	company := &models.Company{
		ID:          uuid.New().String(),
		OwnerID:     principal.UserID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
		Code:        qrcode.NewCompanyCode(joinCode, now),
		JoinCode:    joinCode,
		CreatedAt:   now,
	}
	if err := s.stores.Companies.Create(ctx, company); err != nil {
		return nil, err
	}
	return s.details(company), nil
}

// generateUniqueJoinCode generates a unique 6-character join code
func (s *CompanyService) generateUniqueJoinCode(ctx context.Context) (string, error) {
	for i := 0; i < qrcode.MaxAttempts; i++ {
		code := qrcode.NewJoinCode()
		exists, err := s.stores.Companies.JoinCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code existence: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", qrcode.MaxAttempts)
}

func (s *CompanyService) details(c *models.Company) *CompanyDetails {
	return &CompanyDetails{Company: c, JoinURL: qrcode.JoinURL(s.publicURL, c.JoinCode)}
}

// MyCompany returns the caller's company, minting its scannable code on
// first visit
func (s *CompanyService) MyCompany(ctx context.Context, principal models.Principal) (*CompanyDetails, error) {
	if err := requireBusiness(principal); err != nil {
		return nil, err
	}
	company, err := s.stores.Companies.GetByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if company.Code == "" {
		company.Code, err = s.stores.Companies.UpdateCode(ctx, company.ID, qrcode.NewCompanyCode(company.JoinCode, s.now()))
		if err != nil {
			return nil, fmt.Errorf("failed to store company code: %w", err)
		}
	}
	return s.details(company), nil
}

// CreateQueueRequest is the payload to open a queue
type CreateQueueRequest struct {
	Name                   string `json:"name" validate:"required,max=120"`
	Description            string `json:"description" validate:"max=500"`
	MaxCapacity            *int   `json:"max_capacity" validate:"omitempty,min=1"`
	EstimatedTimePerPerson int    `json:"estimated_time_per_person" validate:"omitempty,min=1,max=240"`
}

// CreateQueue opens a queue in the caller's company
func (s *CompanyService) CreateQueue(ctx context.Context, principal models.Principal, req CreateQueueRequest) (*models.Queue, error) {
	if err := requireBusiness(principal); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.ErrMissingName
	}
	if req.MaxCapacity != nil && *req.MaxCapacity < 1 {
		return nil, apperr.ErrInvalidInput.WithMessage("max_capacity must be at least 1")
	}
	if req.EstimatedTimePerPerson < 0 {
		return nil, apperr.ErrInvalidInput.WithMessage("estimated_time_per_person must be positive")
	}

	company, err := s.stores.Companies.GetByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	perPerson := req.EstimatedTimePerPerson
	if perPerson == 0 {
		perPerson = defaultTimePerPerson
	}
	queue := &models.Queue{
		ID:                     uuid.New().String(),
		CompanyID:              company.ID,
		Name:                   name,
		Description:            strings.TrimSpace(req.Description),
		MaxCapacity:            req.MaxCapacity,
		EstimatedTimePerPerson: perPerson,
		IsActive:               true,
		CreatedAt:              s.now(),
	}
	if err := s.stores.Queues.Create(ctx, queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// ListMyQueues returns every queue of the caller's company
func (s *CompanyService) ListMyQueues(ctx context.Context, principal models.Principal) ([]QueueSummary, error) {
	if err := requireBusiness(principal); err != nil {
		return nil, err
	}
	company, err := s.stores.Companies.GetByOwner(ctx, principal.UserID)
	if errors.Is(err, apperr.ErrCompanyNotFound) {
		return []QueueSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.summaries(ctx, company.ID, false)
}

// Public resolves a join link to the company and its open queues
func (s *CompanyService) Public(ctx context.Context, companyCode string) (*PublicCompany, error) {
	company, err := activeCompany(ctx, s.stores.Companies, companyCode)
	if err != nil {
		return nil, err
	}
	queues, err := s.summaries(ctx, company.ID, true)
	if err != nil {
		return nil, err
	}
	return &PublicCompany{
		ID:          company.ID,
		Name:        company.Name,
		Description: company.Description,
		JoinCode:    company.JoinCode,
		Queues:      queues,
	}, nil
}

func (s *CompanyService) summaries(ctx context.Context, companyID string, activeOnly bool) ([]QueueSummary, error) {
	queues, err := s.stores.Queues.ListByCompany(ctx, companyID, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]QueueSummary, 0, len(queues))
	for _, q := range queues {
		waiting, err := s.stores.Entries.CountWaiting(ctx, q.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count waiting entries: %w", err)
		}
		out = append(out, QueueSummary{Queue: q, Waiting: waiting})
	}
	return out, nil
}

// activeCompany resolves a join code, or a full scanned company code, to an
// active company
func activeCompany(ctx context.Context, companies CompanyStore, companyCode string) (*models.Company, error) {
	joinCode := strings.TrimSpace(companyCode)
	if c, ok := qrcode.Classify(companyCode).(qrcode.Company); ok {
		joinCode = c.JoinCode
	}
	if joinCode == "" {
		return nil, apperr.ErrCompanyNotFound
	}

	company, err := companies.GetByJoinCode(ctx, strings.ToUpper(joinCode))
	if err != nil {
		return nil, err
	}
	if !company.IsActive {
		return nil, apperr.ErrCompanyNotFound
	}
	return company, nil
}
