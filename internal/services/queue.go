package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/contact"
	"skipline-backend/internal/metrics"
	"skipline-backend/internal/models"
	"skipline-backend/internal/notify"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/qrcode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const notifyTimeout = 30 * time.Second

// QueueService runs the join workflows and the entry state machine.
//
// State changes commit first. Observers are told about the change and
// notifications are handed off afterwards; neither can undo the change.
type QueueService struct {
	stores      Stores
	notifier    notify.Notifier
	publisher   observer.Publisher
	notifyAhead int
	now         func() time.Time

	pending sync.WaitGroup
}

// NewQueueService creates a new queue service. notifyAhead is how many
// waiting entrants get a position update after each call.
func NewQueueService(stores Stores, notifier notify.Notifier, publisher observer.Publisher, notifyAhead int) *QueueService {
	return &QueueService{
		stores:      stores,
		notifier:    notifier,
		publisher:   publisher,
		notifyAhead: notifyAhead,
		now:         time.Now,
	}
}

// JoinResult summarizes a new entry for the person who made it
type JoinResult struct {
	Entry         *models.QueueEntry `json:"entry"`
	UserName      string             `json:"user_name"`
	QueueName     string             `json:"queue_name"`
	CompanyName   string             `json:"company_name"`
	Position      int                `json:"position"`
	EstimatedWait int                `json:"estimated_wait"`
}

// GuestJoinRequest is the public form a visitor fills in
type GuestJoinRequest struct {
	CompanyCode   string         `json:"-"`
	QueueID       string         `json:"-"`
	Contact       string         `json:"contact" validate:"required"`
	ContactMethod contact.Method `json:"contact_method" validate:"required,oneof=email phone"`
	FullName      string         `json:"full_name" validate:"required,max=120"`
	Ticket        string         `json:"ticket_number" validate:"max=64"`
}

// GuestJoinResult carries the guest profile created for the visitor
type GuestJoinResult struct {
	JoinResult
	Profile *models.Profile `json:"profile"`
}

// EntryStatusView is an entry as its owner follows it
type EntryStatusView struct {
	Entry       *models.QueueEntry `json:"entry"`
	QueueName   string             `json:"queue_name"`
	CompanyName string             `json:"company_name"`
	// Rank is 1 for the next entrant to be called, 0 once called or finished
	Rank          int `json:"rank"`
	PeopleAhead   int `json:"people_ahead"`
	EstimatedWait int `json:"estimated_wait"`
}

// Wait blocks until every notification handed off so far has been accepted
// by the notifier
func (s *QueueService) Wait() {
	s.pending.Wait()
}

// JoinAuthenticated adds the calling customer to a queue reached through a
// company code
func (s *QueueService) JoinAuthenticated(ctx context.Context, principal models.Principal, companyCode, queueID string) (*JoinResult, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	if principal.Role != models.RoleCustomer {
		return nil, apperr.ErrCustomersOnly
	}

	company, queue, err := s.openQueue(ctx, companyCode, queueID)
	if err != nil {
		return nil, s.rejected(err)
	}
	profile, err := s.stores.Profiles.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, s.rejected(err)
	}

	entry, err := s.stores.Entries.Join(ctx, models.JoinParams{
		QueueID: queue.ID,
		UserID:  profile.ID,
		Method:  models.MethodClientScan,
		At:      s.now(),
	})
	if err != nil {
		return nil, s.rejected(err)
	}

	result := s.joined(ctx, company, queue, entry, profile.DisplayName())
	s.dispatch(notify.Notification{
		Kind:   notify.KindQueueJoined,
		UserID: profile.ID,
		Data:   joinData(result),
	})
	return result, nil
}

// ScanAdd lets staff add the customer whose code they scanned to one of
// their own queues
func (s *QueueService) ScanAdd(ctx context.Context, principal models.Principal, scanned, queueID string) (*JoinResult, error) {
	queue, company, err := s.ownedQueue(ctx, principal, queueID)
	if err != nil {
		return nil, s.rejected(err)
	}
	customer, err := s.resolveCustomer(ctx, scanned)
	if err != nil {
		return nil, s.rejected(err)
	}

	entry, err := s.stores.Entries.Join(ctx, models.JoinParams{
		QueueID: queue.ID,
		UserID:  customer.ID,
		Method:  models.MethodBusinessScan,
		At:      s.now(),
	})
	if err != nil {
		return nil, s.rejected(err)
	}

	result := s.joined(ctx, company, queue, entry, customer.DisplayName())
	s.dispatch(notify.Notification{
		Kind:   notify.KindQueueJoined,
		UserID: customer.ID,
		Data:   joinData(result),
	})
	return result, nil
}

// resolveCustomer turns a scanned string into a customer profile
func (s *QueueService) resolveCustomer(ctx context.Context, scanned string) (*models.Profile, error) {
	var (
		profile *models.Profile
		err     error
	)
	switch code := qrcode.Classify(scanned).(type) {
	case qrcode.Customer:
		if code.StoredCode != "" {
			profile, err = s.stores.Profiles.FindByCode(ctx, code.StoredCode)
			break
		}
		if _, perr := uuid.Parse(code.ID); perr != nil {
			return nil, apperr.ErrProfileNotFound
		}
		profile, err = s.stores.Profiles.GetByID(ctx, code.ID)
	case qrcode.Guest:
		profile, err = s.stores.Profiles.FindByCode(ctx, code.Code)
	case qrcode.Company:
		return nil, apperr.ErrNotACustomer
	default:
		return nil, apperr.ErrUnrecognizedCode
	}
	if err != nil {
		return nil, err
	}
	if profile.Role != models.RoleCustomer {
		return nil, apperr.ErrNotACustomer
	}
	return profile, nil
}

// JoinGuest adds a visitor without an account. The contact details are
// checked before anything is read or written.
func (s *QueueService) JoinGuest(ctx context.Context, req GuestJoinRequest) (*GuestJoinResult, error) {
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, s.rejected(apperr.ErrMissingName)
	}
	reach, err := contact.Normalize(req.ContactMethod, req.Contact)
	if err != nil {
		return nil, s.rejected(err)
	}

	company, queue, err := s.openQueue(ctx, req.CompanyCode, req.QueueID)
	if err != nil {
		return nil, s.rejected(err)
	}

	now := s.now()
	guest := &models.Profile{
		ID:                 uuid.New().String(),
		FullName:           name,
		Role:               models.RoleCustomer,
		Code:               qrcode.NewGuestCode(now),
		IsGuest:            true,
		TicketNumber:       strings.TrimSpace(req.Ticket),
		EmailNotifications: req.ContactMethod == contact.MethodEmail,
		SMSNotifications:   req.ContactMethod == contact.MethodPhone,
		CreatedAt:          now,
	}
	params := models.JoinParams{
		QueueID:   queue.ID,
		Method:    models.MethodVisitorForm,
		Guest:     guest,
		GuestName: name,
		Notes:     guest.TicketNumber,
		At:        now,
	}
	if req.ContactMethod == contact.MethodEmail {
		guest.Email, params.GuestEmail = reach, reach
	} else {
		guest.Phone, params.GuestPhone = reach, reach
	}

	entry, err := s.stores.Entries.Join(ctx, params)
	if err != nil {
		return nil, s.rejected(err)
	}

	result := s.joined(ctx, company, queue, entry, name)
	s.dispatch(notify.Notification{
		Kind:   notify.KindQueueJoined,
		UserID: guest.ID,
		Email:  params.GuestEmail,
		Phone:  params.GuestPhone,
		Data:   joinData(result),
	})
	return &GuestJoinResult{JoinResult: *result, Profile: guest}, nil
}

// joined records a successful join and builds its summary
func (s *QueueService) joined(ctx context.Context, company *models.Company, queue *models.Queue, entry *models.QueueEntry, userName string) *JoinResult {
	metrics.QueueJoinsTotal.WithLabelValues(string(entry.EntryMethod)).Inc()
	s.publish(ctx, entry)

	log.Info().
		Str("queue_id", queue.ID).
		Str("entry_id", entry.ID).
		Str("method", string(entry.EntryMethod)).
		Int("position", entry.Position).
		Msg("Queue joined")

	return &JoinResult{
		Entry:         entry,
		UserName:      userName,
		QueueName:     queue.Name,
		CompanyName:   company.Name,
		Position:      entry.Position,
		EstimatedWait: entry.EstimatedTime,
	}
}

func joinData(r *JoinResult) notify.Data {
	return notify.Data{
		Name:          r.UserName,
		CompanyName:   r.CompanyName,
		QueueName:     r.QueueName,
		Position:      r.Position,
		EstimatedTime: r.EstimatedWait,
	}
}

// rejected counts a refused join by its error code
func (s *QueueService) rejected(err error) error {
	code := "INTERNAL"
	if e, ok := apperr.As(err); ok {
		code = e.Code
	}
	metrics.JoinRejectionsTotal.WithLabelValues(code).Inc()
	return err
}

// openQueue resolves a company code and queue id to an active queue of an
// active company
func (s *QueueService) openQueue(ctx context.Context, companyCode, queueID string) (*models.Company, *models.Queue, error) {
	company, err := activeCompany(ctx, s.stores.Companies, companyCode)
	if err != nil {
		return nil, nil, err
	}
	queue, err := s.getQueue(ctx, queueID)
	if err != nil {
		return nil, nil, err
	}
	if queue.CompanyID != company.ID {
		return nil, nil, apperr.ErrQueueNotFound
	}
	if !queue.IsActive {
		return nil, nil, apperr.ErrQueueInactive
	}
	return company, queue, nil
}

func (s *QueueService) getQueue(ctx context.Context, queueID string) (*models.Queue, error) {
	if _, err := uuid.Parse(queueID); err != nil {
		return nil, apperr.ErrQueueNotFound
	}
	return s.stores.Queues.GetByID(ctx, queueID)
}

// ownedQueue loads a queue and checks the caller owns its company
func (s *QueueService) ownedQueue(ctx context.Context, principal models.Principal, queueID string) (*models.Queue, *models.Company, error) {
	if err := requireBusiness(principal); err != nil {
		return nil, nil, err
	}
	queue, err := s.getQueue(ctx, queueID)
	if err != nil {
		return nil, nil, err
	}
	company, err := s.stores.Companies.GetByID(ctx, queue.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	if company.OwnerID != principal.UserID {
		return nil, nil, apperr.ErrNotQueueOwner
	}
	return queue, company, nil
}

// AuthorizeStaff checks the caller may manage the queue
func (s *QueueService) AuthorizeStaff(ctx context.Context, principal models.Principal, queueID string) error {
	_, _, err := s.ownedQueue(ctx, principal, queueID)
	return err
}

// CallNext calls the waiting entrant with the lowest position
func (s *QueueService) CallNext(ctx context.Context, principal models.Principal, queueID string) (*models.QueueEntry, error) {
	queue, company, err := s.ownedQueue(ctx, principal, queueID)
	if err != nil {
		return nil, err
	}

	entry, err := s.stores.Entries.CallNext(ctx, queue.ID, s.now())
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, entry)

	if entry.UserID != "" {
		s.dispatch(notify.Notification{
			Kind:   notify.KindQueueCalled,
			UserID: entry.UserID,
			Email:  entry.GuestEmail,
			Phone:  entry.GuestPhone,
			Data: notify.Data{
				Name:        s.entrantName(ctx, entry),
				CompanyName: company.Name,
				QueueName:   queue.Name,
				Position:    entry.Position,
			},
		})
	}
	s.notifyWaiting(ctx, company, queue)
	return entry, nil
}

// entrantName is the profile's display name, or the name given at a guest join
func (s *QueueService) entrantName(ctx context.Context, entry *models.QueueEntry) string {
	if p, err := s.stores.Profiles.GetByID(ctx, entry.UserID); err == nil && p.DisplayName() != "" {
		return p.DisplayName()
	}
	return entry.GuestName
}

// notifyWaiting tells the first waiting entrants how far they are now
func (s *QueueService) notifyWaiting(ctx context.Context, company *models.Company, queue *models.Queue) {
	if s.notifyAhead <= 0 {
		return
	}
	active, err := s.stores.Entries.ListActive(ctx, queue.ID)
	if err != nil {
		log.Warn().Err(err).Str("queue_id", queue.ID).Msg("Failed to list entries for position updates")
		return
	}

	rank := 0
	for _, e := range active {
		if e.Status != models.StatusWaiting {
			continue
		}
		rank++
		if rank > s.notifyAhead {
			break
		}
		if e.UserID == "" {
			continue
		}
		s.dispatch(notify.Notification{
			Kind:   notify.KindPositionUpdated,
			UserID: e.UserID,
			Email:  e.GuestEmail,
			Phone:  e.GuestPhone,
			Data: notify.Data{
				Name:          e.DisplayName,
				CompanyName:   company.Name,
				QueueName:     queue.Name,
				Position:      rank,
				EstimatedTime: queue.EstimatedWait(rank),
			},
		})
	}
}

// MarkServed finishes a called entry
func (s *QueueService) MarkServed(ctx context.Context, principal models.Principal, entryID string) (*models.QueueEntry, error) {
	return s.staffTransition(ctx, principal, entryID, models.StatusServed)
}

// MarkNoShow closes an entry whose entrant did not turn up
func (s *QueueService) MarkNoShow(ctx context.Context, principal models.Principal, entryID string) (*models.QueueEntry, error) {
	return s.staffTransition(ctx, principal, entryID, models.StatusNoShow)
}

func (s *QueueService) staffTransition(ctx context.Context, principal models.Principal, entryID string, to models.EntryStatus) (*models.QueueEntry, error) {
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.ownedQueue(ctx, principal, entry.QueueID); err != nil {
		return nil, err
	}
	return s.transition(ctx, entry.ID, to)
}

// Cancel withdraws an active entry. The entrant or the queue owner may do it.
func (s *QueueService) Cancel(ctx context.Context, principal models.Principal, entryID string) (*models.QueueEntry, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != principal.UserID {
		if _, _, err := s.ownedQueue(ctx, principal, entry.QueueID); err != nil {
			return nil, apperr.ErrForbidden.Wrap(err)
		}
	}
	return s.transition(ctx, entry.ID, models.StatusCancelled)
}

// transition moves an entry to the target status from any status allowed to reach it
func (s *QueueService) transition(ctx context.Context, entryID string, to models.EntryStatus) (*models.QueueEntry, error) {
	entry, err := s.stores.Entries.Transition(ctx, entryID, models.SourcesOf(to), to, s.now())
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, entry)
	return entry, nil
}

func (s *QueueService) transitioned(ctx context.Context, entry *models.QueueEntry) {
	metrics.EntryTransitionsTotal.WithLabelValues(string(entry.Status)).Inc()
	s.publish(ctx, entry)
	log.Info().
		Str("queue_id", entry.QueueID).
		Str("entry_id", entry.ID).
		Str("status", string(entry.Status)).
		Msg("Queue entry updated")
}

func (s *QueueService) getEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	if _, err := uuid.Parse(entryID); err != nil {
		return nil, apperr.ErrEntryNotFound
	}
	return s.stores.Entries.GetByID(ctx, entryID)
}

// ListActive returns the staff view of a queue
func (s *QueueService) ListActive(ctx context.Context, principal models.Principal, queueID string) ([]models.EntryView, error) {
	queue, _, err := s.ownedQueue(ctx, principal, queueID)
	if err != nil {
		return nil, err
	}
	return s.stores.Entries.ListActive(ctx, queue.ID)
}

// EntryStatus returns how far an entry is from being called
func (s *QueueService) EntryStatus(ctx context.Context, principal models.Principal, entryID string) (*EntryStatusView, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != principal.UserID {
		if _, _, err := s.ownedQueue(ctx, principal, entry.QueueID); err != nil {
			return nil, apperr.ErrForbidden.Wrap(err)
		}
	}
	return s.statusView(ctx, entry)
}

// MyEntries returns the caller's active entries across queues
func (s *QueueService) MyEntries(ctx context.Context, principal models.Principal) ([]*EntryStatusView, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	entries, err := s.stores.Entries.ListActiveByUser(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*EntryStatusView, 0, len(entries))
	for _, e := range entries {
		v, err := s.statusView(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *QueueService) statusView(ctx context.Context, entry *models.QueueEntry) (*EntryStatusView, error) {
	queue, err := s.stores.Queues.GetByID(ctx, entry.QueueID)
	if err != nil {
		return nil, err
	}
	company, err := s.stores.Companies.GetByID(ctx, queue.CompanyID)
	if err != nil {
		return nil, err
	}

	view := &EntryStatusView{Entry: entry, QueueName: queue.Name, CompanyName: company.Name}
	if entry.Status == models.StatusWaiting {
		ahead, err := s.stores.Entries.CountWaitingAhead(ctx, queue.ID, entry.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to count entries ahead: %w", err)
		}
		view.PeopleAhead = ahead
		view.Rank = ahead + 1
		view.EstimatedWait = queue.EstimatedWait(view.Rank)
	}
	return view, nil
}

// ExpireCalled marks entries called before the cutoff as no-shows
func (s *QueueService) ExpireCalled(ctx context.Context, before time.Time) (int, error) {
	expired, err := s.stores.Entries.ExpireCalled(ctx, before, s.now())
	if err != nil {
		return 0, err
	}
	for _, e := range expired {
		s.transitioned(ctx, e)
	}
	return len(expired), nil
}

func (s *QueueService) publish(ctx context.Context, entry *models.QueueEntry) {
	ev := observer.Event{QueueID: entry.QueueID, EntryID: entry.ID, Status: entry.Status}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("queue_id", entry.QueueID).Msg("Failed to publish queue change")
	}
}

// dispatch hands a notification off without waiting. Its failure is logged
// and never reaches the caller.
func (s *QueueService) dispatch(n notify.Notification) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", n.UserID).
				Str("kind", string(n.Kind)).
				Msg("Notification not delivered")
		}
	}()
}
