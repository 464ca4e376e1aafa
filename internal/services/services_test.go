package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"skipline-backend/internal/models"
	"skipline-backend/internal/notify"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) find(userID string, kind notify.Kind) (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.sent {
		if n.UserID == userID && n.Kind == kind {
			return n, true
		}
	}
	return notify.Notification{}, false
}

func (r *recordingNotifier) kindsFor(userID string) []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []notify.Kind
	for _, n := range r.sent {
		if n.UserID == userID {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}

type countingCompanies struct {
	CompanyStore
	mu    sync.Mutex
	calls int
}

func (c *countingCompanies) GetByJoinCode(ctx context.Context, joinCode string) (*models.Company, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.CompanyStore.GetByJoinCode(ctx, joinCode)
}

type fixture struct {
	db        *memstore.DB
	stores    Stores
	notifier  *recordingNotifier
	users     *UserService
	companies *CompanyService
	queues    *QueueService

	owner   models.Principal
	company *CompanyDetails
	queue   *models.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	f := &fixture{
		db: db,
		stores: Stores{
			Profiles:  db.Profiles(),
			Companies: db.Companies(),
			Queues:    db.Queues(),
			Entries:   db.Entries(),
		},
		notifier: &recordingNotifier{},
	}
	f.users = NewUserService(db.Profiles(), db.NotificationLogs(), "test-secret", time.Hour)
	f.companies = NewCompanyService(f.stores, "https://skipline.test")
	f.queues = NewQueueService(f.stores, f.notifier, observer.NopPublisher{}, 3)

	ctx := context.Background()
	f.owner = f.addProfile(t, "Boulangerie Owner", models.RoleBusiness)
	company, err := f.companies.Create(ctx, f.owner, CreateCompanyRequest{Name: "Boulangerie"})
	require.NoError(t, err)
	f.company = company

	queue, err := f.companies.CreateQueue(ctx, f.owner, CreateQueueRequest{Name: "Pain", EstimatedTimePerPerson: 4})
	require.NoError(t, err)
	f.queue = queue
	return f
}

// addProfile stores a profile directly, skipping password hashing
func (f *fixture) addProfile(t *testing.T, name string, role models.Role) models.Principal {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, f.db.Profiles().Create(context.Background(), &models.Profile{
		ID:                 id,
		Email:              id + "@example.fr",
		FullName:           name,
		Role:               role,
		EmailNotifications: true,
		CreatedAt:          time.Now(),
	}))
	return models.Principal{UserID: id, Role: role}
}

func (f *fixture) join(t *testing.T, p models.Principal) *JoinResult {
	t.Helper()
	res, err := f.queues.JoinAuthenticated(context.Background(), p, f.company.JoinCode, f.queue.ID)
	require.NoError(t, err)
	return res
}
