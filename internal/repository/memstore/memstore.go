// Package memstore is an in-memory implementation of the service stores with
// the same semantics as the PostgreSQL repositories. A single mutex plays the
// role of the queue row lock.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"

	"github.com/google/uuid"
)

// DB holds every table. Use the typed views to access it.
type DB struct {
	mu        sync.Mutex
	profiles  map[string]*models.Profile
	companies map[string]*models.Company
	queues    map[string]*models.Queue
	entries   map[string]*models.QueueEntry
	logs      []*models.NotificationLog
}

// New creates an empty database
func New() *DB {
	return &DB{
		profiles:  make(map[string]*models.Profile),
		companies: make(map[string]*models.Company),
		queues:    make(map[string]*models.Queue),
		entries:   make(map[string]*models.QueueEntry),
	}
}

// Profiles returns the profile table
func (db *DB) Profiles() *ProfileStore { return &ProfileStore{db: db} }

// Companies returns the company table
func (db *DB) Companies() *CompanyStore { return &CompanyStore{db: db} }

// Queues returns the queue table
func (db *DB) Queues() *QueueStore { return &QueueStore{db: db} }

// Entries returns the queue entry table
func (db *DB) Entries() *EntryStore { return &EntryStore{db: db} }

// NotificationLogs returns the notification log table
func (db *DB) NotificationLogs() *NotificationLogStore { return &NotificationLogStore{db: db} }

// ProfileStore is the in-memory profile table
type ProfileStore struct{ db *DB }

func (s *ProfileStore) Create(_ context.Context, p *models.Profile) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertProfile(p)
}

func (db *DB) insertProfile(p *models.Profile) error {
	if _, ok := db.profiles[p.ID]; ok {
		return apperr.ErrInvalidInput.WithMessage("profile already exists")
	}
	for _, other := range db.profiles {
		if !p.IsGuest && !other.IsGuest && p.Email != "" && other.Email == p.Email {
			return apperr.ErrEmailTaken
		}
		if p.Code != "" && other.Code == p.Code {
			return apperr.ErrInvalidInput.WithMessage("code already in use")
		}
	}
	cp := *p
	db.profiles[p.ID] = &cp
	return nil
}

func (s *ProfileStore) GetByID(_ context.Context, id string) (*models.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[id]
	if !ok {
		return nil, apperr.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProfileStore) GetByEmail(_ context.Context, email string) (*models.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	email = strings.ToLower(email)
	for _, p := range s.db.profiles {
		if !p.IsGuest && p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.ErrProfileNotFound
}

func (s *ProfileStore) FindByCode(_ context.Context, code string) (*models.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var prefixed *models.Profile
	for _, p := range s.db.profiles {
		if p.Code == "" {
			continue
		}
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
		if strings.HasPrefix(p.Code, code) && (prefixed == nil || p.CreatedAt.Before(prefixed.CreatedAt)) {
			prefixed = p
		}
	}
	if prefixed == nil {
		return nil, apperr.ErrProfileNotFound
	}
	cp := *prefixed
	return &cp, nil
}

func (s *ProfileStore) CodeExists(_ context.Context, code string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.profiles {
		if p.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *ProfileStore) UpdateCode(_ context.Context, id, code string) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[id]
	if !ok {
		return "", apperr.ErrProfileNotFound
	}
	if p.Code == "" {
		p.Code = code
	}
	return p.Code, nil
}

func (s *ProfileStore) UpdateAvatar(_ context.Context, id, url string) error {
	return s.update(id, func(p *models.Profile) { p.AvatarURL = url })
}

func (s *ProfileStore) UpdatePreferences(_ context.Context, id string, email, sms bool) error {
	return s.update(id, func(p *models.Profile) {
		p.EmailNotifications = email
		p.SMSNotifications = sms
	})
}

func (s *ProfileStore) UpdatePushToken(_ context.Context, id string, pushToken *string) error {
	return s.update(id, func(p *models.Profile) { p.PushToken = pushToken })
}

func (s *ProfileStore) update(id string, fn func(p *models.Profile)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[id]
	if !ok {
		return apperr.ErrProfileNotFound
	}
	fn(p)
	return nil
}

func (s *ProfileStore) DeleteStaleGuests(_ context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	busy := make(map[string]bool)
	for _, e := range s.db.entries {
		if e.Status.Active() {
			busy[e.UserID] = true
		}
	}

	var n int64
	for id, p := range s.db.profiles {
		if !p.IsGuest || !p.CreatedAt.Before(before) || busy[id] {
			continue
		}
		delete(s.db.profiles, id)
		for _, e := range s.db.entries {
			if e.UserID == id {
				e.UserID = ""
			}
		}
		n++
	}
	return n, nil
}

// CompanyStore is the in-memory company table
type CompanyStore struct{ db *DB }

func (s *CompanyStore) Create(_ context.Context, c *models.Company) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, other := range s.db.companies {
		if other.OwnerID == c.OwnerID {
			return apperr.ErrCompanyExists
		}
		if other.JoinCode == c.JoinCode {
			return apperr.ErrInvalidInput.WithMessage("company code already in use")
		}
	}
	cp := *c
	s.db.companies[c.ID] = &cp
	return nil
}

func (s *CompanyStore) find(match func(c *models.Company) bool) (*models.Company, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.companies {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.ErrCompanyNotFound
}

func (s *CompanyStore) GetByID(_ context.Context, id string) (*models.Company, error) {
	return s.find(func(c *models.Company) bool { return c.ID == id })
}

func (s *CompanyStore) GetByOwner(_ context.Context, ownerID string) (*models.Company, error) {
	return s.find(func(c *models.Company) bool { return c.OwnerID == ownerID })
}

func (s *CompanyStore) GetByJoinCode(_ context.Context, joinCode string) (*models.Company, error) {
	return s.find(func(c *models.Company) bool { return c.JoinCode == joinCode })
}

func (s *CompanyStore) JoinCodeExists(ctx context.Context, joinCode string) (bool, error) {
	_, err := s.GetByJoinCode(ctx, joinCode)
	return err == nil, nil
}

func (s *CompanyStore) UpdateCode(_ context.Context, id, code string) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.companies[id]
	if !ok {
		return "", apperr.ErrCompanyNotFound
	}
	if c.Code == "" {
		c.Code = code
	}
	return c.Code, nil
}

// QueueStore is the in-memory queue table
type QueueStore struct{ db *DB }

func (s *QueueStore) Create(_ context.Context, q *models.Queue) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.companies[q.CompanyID]; !ok {
		return apperr.ErrCompanyNotFound
	}
	cp := *q
	s.db.queues[q.ID] = &cp
	return nil
}

func (s *QueueStore) GetByID(_ context.Context, id string) (*models.Queue, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	q, ok := s.db.queues[id]
	if !ok {
		return nil, apperr.ErrQueueNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *QueueStore) ListByCompany(_ context.Context, companyID string, activeOnly bool) ([]*models.Queue, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*models.Queue
	for _, q := range s.db.queues {
		if q.CompanyID != companyID || (activeOnly && !q.IsActive) {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// EntryStore is the in-memory queue entry table
type EntryStore struct{ db *DB }

func (s *EntryStore) Join(_ context.Context, p models.JoinParams) (*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	q, ok := s.db.queues[p.QueueID]
	if !ok {
		return nil, apperr.ErrQueueNotFound
	}
	if !q.IsActive {
		return nil, apperr.ErrQueueInactive
	}

	userID := p.UserID
	if p.Guest != nil {
		userID = p.Guest.ID
	}

	active, maxPosition := 0, 0
	for _, e := range s.db.entries {
		if e.QueueID != p.QueueID || !e.Status.Active() {
			continue
		}
		if e.UserID == userID {
			return nil, apperr.ErrAlreadyInQueue
		}
		active++
		if e.Position > maxPosition {
			maxPosition = e.Position
		}
	}
	if q.MaxCapacity != nil && active >= *q.MaxCapacity {
		return nil, apperr.ErrQueueFull
	}

	if p.Guest != nil {
		if err := s.db.insertProfile(p.Guest); err != nil {
			return nil, err
		}
	}

	e := &models.QueueEntry{
		ID:            uuid.New().String(),
		QueueID:       p.QueueID,
		UserID:        userID,
		Position:      maxPosition + 1,
		Status:        models.StatusWaiting,
		EntryMethod:   p.Method,
		EstimatedTime: q.EstimatedWait(maxPosition + 1),
		Notes:         p.Notes,
		GuestEmail:    p.GuestEmail,
		GuestPhone:    p.GuestPhone,
		GuestName:     p.GuestName,
		CreatedAt:     p.At,
	}
	s.db.entries[e.ID] = e
	cp := *e
	return &cp, nil
}

func (s *EntryStore) CallNext(_ context.Context, queueID string, at time.Time) (*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var next *models.QueueEntry
	for _, e := range s.db.entries {
		if e.QueueID == queueID && e.Status == models.StatusWaiting && (next == nil || e.Position < next.Position) {
			next = e
		}
	}
	if next == nil {
		return nil, apperr.ErrNothingToCall
	}
	next.Status = models.StatusCalled
	t := at
	next.CalledAt = &t
	cp := *next
	return &cp, nil
}

func (s *EntryStore) Transition(_ context.Context, entryID string, from []models.EntryStatus, to models.EntryStatus, at time.Time) (*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	e, ok := s.db.entries[entryID]
	if !ok {
		return nil, apperr.ErrEntryNotFound
	}
	allowed := false
	for _, st := range from {
		if e.Status == st {
			allowed = true
			break
		}
	}
	if !allowed || !e.Status.CanTransitionTo(to) {
		return nil, apperr.ErrInvalidTransition
	}

	t := at
	e.Status = to
	switch to {
	case models.StatusCalled:
		e.CalledAt = &t
	case models.StatusServed:
		e.ServedAt = &t
	case models.StatusCancelled, models.StatusNoShow:
		e.CancelledAt = &t
	}
	cp := *e
	return &cp, nil
}

func (s *EntryStore) GetByID(_ context.Context, id string) (*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.entries[id]
	if !ok {
		return nil, apperr.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *EntryStore) ListActive(_ context.Context, queueID string) ([]models.EntryView, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	views := []models.EntryView{}
	for _, e := range s.db.entries {
		if e.QueueID != queueID || !e.Status.Active() {
			continue
		}
		name := e.GuestName
		if p, ok := s.db.profiles[e.UserID]; ok && p.DisplayName() != "" {
			name = p.DisplayName()
		}
		views = append(views, models.EntryView{QueueEntry: *e, DisplayName: name})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Position < views[j].Position })
	return views, nil
}

func (s *EntryStore) ListActiveByUser(_ context.Context, userID string) ([]*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range s.db.entries {
		if e.UserID == userID && e.Status.Active() {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *EntryStore) CountWaitingAhead(_ context.Context, queueID string, position int) (int, error) {
	return s.count(func(e *models.QueueEntry) bool {
		return e.QueueID == queueID && e.Status == models.StatusWaiting && e.Position < position
	}), nil
}

func (s *EntryStore) CountWaiting(_ context.Context, queueID string) (int, error) {
	return s.count(func(e *models.QueueEntry) bool {
		return e.QueueID == queueID && e.Status == models.StatusWaiting
	}), nil
}

func (s *EntryStore) count(match func(e *models.QueueEntry) bool) int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, e := range s.db.entries {
		if match(e) {
			n++
		}
	}
	return n
}

func (s *EntryStore) ExpireCalled(_ context.Context, before, at time.Time) ([]*models.QueueEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range s.db.entries {
		if e.Status != models.StatusCalled || e.CalledAt == nil || !e.CalledAt.Before(before) {
			continue
		}
		t := at
		e.Status = models.StatusNoShow
		e.CancelledAt = &t
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// NotificationLogStore is the in-memory notification log table
type NotificationLogStore struct{ db *DB }

func (s *NotificationLogStore) Create(_ context.Context, l *models.NotificationLog) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *l
	s.db.logs = append(s.db.logs, &cp)
	return nil
}

func (s *NotificationLogStore) Finish(_ context.Context, id, status, errorMessage string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, l := range s.db.logs {
		if l.ID != id {
			continue
		}
		l.Status = status
		l.ErrorMessage = errorMessage
		if status == "sent" {
			t := at
			l.SentAt = &t
		}
		return nil
	}
	return nil
}

func (s *NotificationLogStore) ListByUser(_ context.Context, userID string, limit int) ([]*models.NotificationLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*models.NotificationLog
	for i := len(s.db.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if l := s.db.logs[i]; l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}
