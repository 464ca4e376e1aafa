package repository

import (
	"context"
	"fmt"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const companyColumns = `id, owner_id, name, COALESCE(description, ''), is_active,
	COALESCE(company_qr_code, ''), join_code, created_at`

// CompanyRepository handles database operations for companies
type CompanyRepository struct {
	db *pgxpool.Pool
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *pgxpool.Pool) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Create creates a new company
func (r *CompanyRepository) Create(ctx context.Context, c *models.Company) error {
	query := `
		INSERT INTO companies (id, owner_id, name, description, is_active, company_qr_code, join_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.OwnerID, c.Name, nullIfEmpty(c.Description), c.IsActive, nullIfEmpty(c.Code), c.JoinCode, c.CreatedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case "companies_owner_key":
			return apperr.ErrCompanyExists.Wrap(err)
		case "":
			return fmt.Errorf("failed to create company: %w", err)
		default:
			return apperr.ErrInvalidInput.WithMessage("company code already in use").Wrap(err)
		}
	}
	return nil
}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.IsActive, &c.Code, &c.JoinCode, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID retrieves a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	c, err := scanCompany(r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrCompanyNotFound, "failed to get company")
	}
	return c, nil
}

// GetByOwner retrieves the company owned by a business profile
func (r *CompanyRepository) GetByOwner(ctx context.Context, ownerID string) (*models.Company, error) {
	c, err := scanCompany(r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE owner_id = $1`, ownerID))
	if err != nil {
		return nil, notFound(err, apperr.ErrCompanyNotFound, "failed to get company by owner")
	}
	return c, nil
}

// GetByJoinCode retrieves a company by its join code
func (r *CompanyRepository) GetByJoinCode(ctx context.Context, joinCode string) (*models.Company, error) {
	c, err := scanCompany(r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE join_code = $1`, joinCode))
	if err != nil {
		return nil, notFound(err, apperr.ErrCompanyNotFound, "failed to get company by join code")
	}
	return c, nil
}

// JoinCodeExists checks if a join code is already taken
func (r *CompanyRepository) JoinCodeExists(ctx context.Context, joinCode string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM companies WHERE join_code = $1)`, joinCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check join code existence: %w", err)
	}
	return exists, nil
}

// UpdateCode sets the scannable code of a company that has none yet and
// returns the code the company ends up with
func (r *CompanyRepository) UpdateCode(ctx context.Context, id, code string) (string, error) {
	query := `
		UPDATE companies SET company_qr_code = COALESCE(company_qr_code, $1)
		WHERE id = $2
		RETURNING company_qr_code
	`
	var stored string
	if err := r.db.QueryRow(ctx, query, code, id).Scan(&stored); err != nil {
		return "", notFound(err, apperr.ErrCompanyNotFound, "failed to update company code")
	}
	return stored, nil
}
