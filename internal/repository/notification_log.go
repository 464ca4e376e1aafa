package repository

import (
	"context"
	"fmt"
	"time"

	"skipline-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationLogRepository records notification delivery attempts
type NotificationLogRepository struct {
	db *pgxpool.Pool
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(db *pgxpool.Pool) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Create records a pending attempt
func (r *NotificationLogRepository) Create(ctx context.Context, l *models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (id, user_id, channel, kind, recipient, status, error_message, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		l.ID, nullIfEmpty(l.UserID), l.Channel, l.Kind, l.Recipient, l.Status, nullIfEmpty(l.ErrorMessage), l.CreatedAt, l.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}

// Finish records the outcome of an attempt
func (r *NotificationLogRepository) Finish(ctx context.Context, id, status, errorMessage string, at time.Time) error {
	query := `
		UPDATE notification_logs
		SET status = $2, error_message = $3, sent_at = CASE WHEN $2::text = 'sent' THEN $4::timestamptz ELSE sent_at END
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, status, nullIfEmpty(errorMessage), at); err != nil {
		return fmt.Errorf("failed to update notification log: %w", err)
	}
	return nil
}

// ListByUser retrieves the most recent attempts for a profile
func (r *NotificationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.NotificationLog, error) {
	query := `
		SELECT id, COALESCE(user_id::text, ''), channel, kind, recipient, status,
			COALESCE(error_message, ''), created_at, sent_at
		FROM notification_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.NotificationLog
	for rows.Next() {
		var l models.NotificationLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Channel, &l.Kind, &l.Recipient, &l.Status,
			&l.ErrorMessage, &l.CreatedAt, &l.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
