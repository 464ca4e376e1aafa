package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `
	id, COALESCE(email, ''), full_name, role, COALESCE(qr_code, ''), COALESCE(avatar_url, ''),
	COALESCE(phone, ''), push_token, email_notifications, sms_notifications, is_guest,
	COALESCE(ticket_number, ''), COALESCE(password_hash, ''), created_at`

// ProfileRepository handles database operations for profiles
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create creates a new profile
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	if err := insertProfile(ctx, r.db, p); err != nil {
		if uniqueViolation(err) == "profiles_email_key" {
			return apperr.ErrEmailTaken.Wrap(err)
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func insertProfile(ctx context.Context, db execer, p *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name, role, qr_code, avatar_url, phone, push_token,
			email_notifications, sms_notifications, is_guest, ticket_number, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := db.Exec(ctx, query,
		p.ID, nullIfEmpty(p.Email), p.FullName, p.Role, nullIfEmpty(p.Code), nullIfEmpty(p.AvatarURL),
		nullIfEmpty(p.Phone), p.PushToken, p.EmailNotifications, p.SMSNotifications, p.IsGuest,
		nullIfEmpty(p.TicketNumber), nullIfEmpty(p.PasswordHash), p.CreatedAt,
	)
	return err
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.Code, &p.AvatarURL,
		&p.Phone, &p.PushToken, &p.EmailNotifications, &p.SMSNotifications, &p.IsGuest,
		&p.TicketNumber, &p.PasswordHash, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, apperr.ErrProfileNotFound, "failed to get profile")
	}
	return p, nil
}

// GetByEmail retrieves a registered (non guest) profile by email
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1 AND NOT is_guest`
	p, err := scanProfile(r.db.QueryRow(ctx, query, strings.ToLower(email)))
	if err != nil {
		return nil, notFound(err, apperr.ErrProfileNotFound, "failed to get profile by email")
	}
	return p, nil
}

// FindByCode retrieves a profile by its stored code, falling back to the
// oldest profile whose code starts with the given value
func (r *ProfileRepository) FindByCode(ctx context.Context, code string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE qr_code = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, code))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get profile by code: %w", err)
	}

	query = `SELECT ` + profileColumns + ` FROM profiles
		WHERE qr_code LIKE $1 ESCAPE '\' ORDER BY created_at LIMIT 1`
	p, err = scanProfile(r.db.QueryRow(ctx, query, escapeLike(code)+"%"))
	if err != nil {
		return nil, notFound(err, apperr.ErrProfileNotFound, "failed to get profile by code prefix")
	}
	return p, nil
}

// CodeExists checks if a code already exists
func (r *ProfileRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE qr_code = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// UpdateCode sets the scannable code of a profile that has none yet and
// returns the code the profile ends up with
func (r *ProfileRepository) UpdateCode(ctx context.Context, id, code string) (string, error) {
	query := `
		UPDATE profiles SET qr_code = COALESCE(qr_code, $1)
		WHERE id = $2
		RETURNING qr_code
	`
	var stored string
	if err := r.db.QueryRow(ctx, query, code, id).Scan(&stored); err != nil {
		return "", notFound(err, apperr.ErrProfileNotFound, "failed to update profile code")
	}
	return stored, nil
}

// UpdateAvatar updates the avatar URL of a profile
func (r *ProfileRepository) UpdateAvatar(ctx context.Context, id, url string) error {
	return r.exec(ctx, "failed to update avatar", `UPDATE profiles SET avatar_url = $1 WHERE id = $2`, url, id)
}

// UpdatePreferences updates the notification preferences of a profile
func (r *ProfileRepository) UpdatePreferences(ctx context.Context, id string, email, sms bool) error {
	return r.exec(ctx, "failed to update preferences",
		`UPDATE profiles SET email_notifications = $1, sms_notifications = $2 WHERE id = $3`, email, sms, id)
}

// UpdatePushToken updates the push token for a profile
func (r *ProfileRepository) UpdatePushToken(ctx context.Context, id string, pushToken *string) error {
	return r.exec(ctx, "failed to update push token", `UPDATE profiles SET push_token = $1 WHERE id = $2`, pushToken, id)
}

// DeleteStaleGuests removes guest profiles created before the cutoff that no
// longer hold an active entry
func (r *ProfileRepository) DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM profiles p
		WHERE p.is_guest AND p.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM queue_entries e
			WHERE e.user_id = p.id AND e.status IN ('waiting', 'called')
		  )
	`
	result, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale guests: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *ProfileRepository) exec(ctx context.Context, msg, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if result.RowsAffected() == 0 {
		return apperr.ErrProfileNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
