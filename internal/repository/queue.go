package repository

import (
	"context"
	"fmt"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queueColumns = `id, company_id, name, COALESCE(description, ''), max_capacity,
	estimated_time_per_person, is_active, created_at`

// QueueRepository handles database operations for queues
type QueueRepository struct {
	db *pgxpool.Pool
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create creates a new queue
func (r *QueueRepository) Create(ctx context.Context, q *models.Queue) error {
	query := `
		INSERT INTO queues (id, company_id, name, description, max_capacity, estimated_time_per_person, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		q.ID, q.CompanyID, q.Name, nullIfEmpty(q.Description), q.MaxCapacity, q.EstimatedTimePerPerson, q.IsActive, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	return nil
}

func scanQueue(row pgx.Row) (*models.Queue, error) {
	var q models.Queue
	if err := row.Scan(&q.ID, &q.CompanyID, &q.Name, &q.Description, &q.MaxCapacity,
		&q.EstimatedTimePerPerson, &q.IsActive, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetByID retrieves a queue by ID
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*models.Queue, error) {
	q, err := scanQueue(r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrQueueNotFound, "failed to get queue")
	}
	return q, nil
}

// ListByCompany retrieves the queues of a company ordered by creation
func (r *QueueRepository) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*models.Queue, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queues
		WHERE company_id = $1 AND (is_active OR NOT $2)
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, companyID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var queues []*models.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queues: %w", err)
	}
	return queues, nil
}
