package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `e.id, e.queue_id, COALESCE(e.user_id::text, ''), e.position, e.status, e.entry_method,
	e.estimated_time, COALESCE(e.notes, ''), COALESCE(e.guest_email, ''), COALESCE(e.guest_phone, ''),
	COALESCE(e.guest_name, ''), e.called_at, e.served_at, e.cancelled_at, e.created_at`

var activeStatuses = []string{string(models.StatusWaiting), string(models.StatusCalled)}

// EntryRepository handles database operations for queue entries
type EntryRepository struct {
	db *pgxpool.Pool
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: db}
}

func scanEntry(row pgx.Row, extra ...any) (*models.QueueEntry, error) {
	var e models.QueueEntry
	dest := []any{
		&e.ID, &e.QueueID, &e.UserID, &e.Position, &e.Status, &e.EntryMethod,
		&e.EstimatedTime, &e.Notes, &e.GuestEmail, &e.GuestPhone,
		&e.GuestName, &e.CalledAt, &e.ServedAt, &e.CancelledAt, &e.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &e, nil
}

// Join appends an entry to a queue. The queue row is locked for the duration
// of the transaction so concurrent joins of one queue are serialized and each
// gets max(active position) + 1.
func (r *EntryRepository) Join(ctx context.Context, p models.JoinParams) (*models.QueueEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		isActive    bool
		maxCapacity *int
		perPerson   int
	)
	err = tx.QueryRow(ctx,
		`SELECT is_active, max_capacity, estimated_time_per_person FROM queues WHERE id = $1 FOR UPDATE`,
		p.QueueID,
	).Scan(&isActive, &maxCapacity, &perPerson)
	if err != nil {
		return nil, notFound(err, apperr.ErrQueueNotFound, "failed to lock queue")
	}
	if !isActive {
		return nil, apperr.ErrQueueInactive
	}

	userID := p.UserID
	if p.Guest != nil {
		if err := insertProfile(ctx, tx, p.Guest); err != nil {
			return nil, fmt.Errorf("failed to create guest profile: %w", err)
		}
		userID = p.Guest.ID
	} else {
		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM queue_entries WHERE queue_id = $1 AND user_id = $2 AND status = ANY($3::text[]))`,
			p.QueueID, userID, activeStatuses,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check active entry: %w", err)
		}
		if exists {
			return nil, apperr.ErrAlreadyInQueue
		}
	}

	var active, maxPosition int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(position), 0) FROM queue_entries WHERE queue_id = $1 AND status = ANY($2::text[])`,
		p.QueueID, activeStatuses,
	).Scan(&active, &maxPosition)
	if err != nil {
		return nil, fmt.Errorf("failed to compute position: %w", err)
	}
	if maxCapacity != nil && active >= *maxCapacity {
		return nil, apperr.ErrQueueFull
	}

	entry := &models.QueueEntry{
		ID:            uuid.New().String(),
		QueueID:       p.QueueID,
		UserID:        userID,
		Position:      maxPosition + 1,
		Status:        models.StatusWaiting,
		EntryMethod:   p.Method,
		EstimatedTime: (maxPosition + 1) * perPerson,
		Notes:         p.Notes,
		GuestEmail:    p.GuestEmail,
		GuestPhone:    p.GuestPhone,
		GuestName:     p.GuestName,
		CreatedAt:     p.At,
	}

	query := `
		INSERT INTO queue_entries (id, queue_id, user_id, position, status, entry_method, estimated_time,
			notes, guest_email, guest_phone, guest_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, query,
		entry.ID, entry.QueueID, entry.UserID, entry.Position, entry.Status, entry.EntryMethod, entry.EstimatedTime,
		nullIfEmpty(entry.Notes), nullIfEmpty(entry.GuestEmail), nullIfEmpty(entry.GuestPhone),
		nullIfEmpty(entry.GuestName), entry.CreatedAt,
	)
	if err != nil {
		switch uniqueViolation(err) {
		case "queue_entries_active_user_key":
			return nil, apperr.ErrAlreadyInQueue.Wrap(err)
		case "queue_entries_active_position_key":
			return nil, apperr.ErrPositionConflict.Wrap(err)
		}
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	return entry, nil
}

// CallNext moves the lowest-position waiting entry of a queue to called.
// SKIP LOCKED lets two concurrent callers pick two different entries.
func (r *EntryRepository) CallNext(ctx context.Context, queueID string, at time.Time) (*models.QueueEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		SELECT id FROM queue_entries
		WHERE queue_id = $1 AND status = 'waiting'
		ORDER BY position
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, queueID).Scan(&id)
	if err != nil {
		return nil, notFound(err, apperr.ErrNothingToCall, "failed to select next entry")
	}

	entry, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE queue_entries e SET status = 'called', called_at = $2
		WHERE e.id = $1
		RETURNING `+entryColumns, id, at))
	if err != nil {
		return nil, fmt.Errorf("failed to call entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit call: %w", err)
	}
	return entry, nil
}

// Transition moves an entry to status `to` when its current status is one of
// `from`. It fails with ErrInvalidTransition when the entry exists in another
// state.
func (r *EntryRepository) Transition(ctx context.Context, entryID string, from []models.EntryStatus, to models.EntryStatus, at time.Time) (*models.QueueEntry, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE queue_entries e SET
			status = $2::text,
			called_at = CASE WHEN $2::text = 'called' THEN $3::timestamptz ELSE e.called_at END,
			served_at = CASE WHEN $2::text = 'served' THEN $3::timestamptz ELSE e.served_at END,
			cancelled_at = CASE WHEN $2::text IN ('cancelled', 'no_show') THEN $3::timestamptz ELSE e.cancelled_at END
		WHERE e.id = $1 AND e.status = ANY($4::text[])
		RETURNING ` + entryColumns
	entry, err := scanEntry(r.db.QueryRow(ctx, query, entryID, string(to), at, allowed))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update entry status: %w", err)
	}

	if _, err := r.GetByID(ctx, entryID); err != nil {
		return nil, err
	}
	return nil, apperr.ErrInvalidTransition
}

// GetByID retrieves an entry by ID
func (r *EntryRepository) GetByID(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries e WHERE e.id = $1`, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrEntryNotFound, "failed to get entry")
	}
	return e, nil
}

// ListActive retrieves the waiting and called entries of a queue by position,
// with the entrant display name
func (r *EntryRepository) ListActive(ctx context.Context, queueID string) ([]models.EntryView, error) {
	query := `
		SELECT ` + entryColumns + `,
			COALESCE(NULLIF(p.full_name, ''), p.email, e.guest_name, '')
		FROM queue_entries e
		LEFT JOIN profiles p ON p.id = e.user_id
		WHERE e.queue_id = $1 AND e.status = ANY($2::text[])
		ORDER BY e.position
	`
	rows, err := r.db.Query(ctx, query, queueID, activeStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries: %w", err)
	}
	defer rows.Close()

	views := []models.EntryView{}
	for rows.Next() {
		var name string
		e, err := scanEntry(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		views = append(views, models.EntryView{QueueEntry: *e, DisplayName: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return views, nil
}

// ListActiveByUser retrieves a profile's active entries across queues
func (r *EntryRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries e
		WHERE e.user_id = $1 AND e.status = ANY($2::text[])
		ORDER BY e.created_at
	`
	return r.list(ctx, query, userID, activeStatuses)
}

// CountWaitingAhead counts waiting entries of a queue placed before position
func (r *EntryRepository) CountWaitingAhead(ctx context.Context, queueID string, position int) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE queue_id = $1 AND status = 'waiting' AND position < $2`,
		queueID, position,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return n, nil
}

// CountWaiting counts the waiting entries of a queue
func (r *EntryRepository) CountWaiting(ctx context.Context, queueID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE queue_id = $1 AND status = 'waiting'`, queueID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return n, nil
}

// ExpireCalled marks entries called before the cutoff as no-show and returns them
func (r *EntryRepository) ExpireCalled(ctx context.Context, before, at time.Time) ([]*models.QueueEntry, error) {
	query := `
		UPDATE queue_entries e SET status = 'no_show', cancelled_at = $2
		WHERE e.status = 'called' AND e.called_at < $1
		RETURNING ` + entryColumns
	return r.list(ctx, query, before, at)
}

func (r *EntryRepository) list(ctx context.Context, query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}
