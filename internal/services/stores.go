package services

import (
	"context"
	"time"

	"skipline-backend/internal/models"
)

// ProfileStore persists profiles
type ProfileStore interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	FindByCode(ctx context.Context, code string) (*models.Profile, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdateCode(ctx context.Context, id, code string) (string, error)
	UpdateAvatar(ctx context.Context, id, url string) error
	UpdatePreferences(ctx context.Context, id string, email, sms bool) error
	UpdatePushToken(ctx context.Context, id string, pushToken *string) error
	DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error)
}

// CompanyStore persists companies
type CompanyStore interface {
	Create(ctx context.Context, c *models.Company) error
	GetByID(ctx context.Context, id string) (*models.Company, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Company, error)
	GetByJoinCode(ctx context.Context, joinCode string) (*models.Company, error)
	JoinCodeExists(ctx context.Context, joinCode string) (bool, error)
	UpdateCode(ctx context.Context, id, code string) (string, error)
}

// QueueStore persists queues
type QueueStore interface {
	Create(ctx context.Context, q *models.Queue) error
	GetByID(ctx context.Context, id string) (*models.Queue, error)
	ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*models.Queue, error)
}

// EntryStore persists queue entries. Join and CallNext must be atomic with
// respect to concurrent callers on the same queue.
type EntryStore interface {
	Join(ctx context.Context, p models.JoinParams) (*models.QueueEntry, error)
	CallNext(ctx context.Context, queueID string, at time.Time) (*models.QueueEntry, error)
	Transition(ctx context.Context, entryID string, from []models.EntryStatus, to models.EntryStatus, at time.Time) (*models.QueueEntry, error)
	GetByID(ctx context.Context, id string) (*models.QueueEntry, error)
	ListActive(ctx context.Context, queueID string) ([]models.EntryView, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.QueueEntry, error)
	CountWaitingAhead(ctx context.Context, queueID string, position int) (int, error)
	CountWaiting(ctx context.Context, queueID string) (int, error)
	ExpireCalled(ctx context.Context, before, at time.Time) ([]*models.QueueEntry, error)
}

// NotificationHistory lists the delivery attempts sent to a profile
type NotificationHistory interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.NotificationLog, error)
}

// Stores groups the tables the queue workflows touch
type Stores struct {
	Profiles  ProfileStore
	Companies CompanyStore
	Queues    QueueStore
	Entries   EntryStore
}
