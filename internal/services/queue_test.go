package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/config"
	"skipline-backend/internal/contact"
	"skipline-backend/internal/models"
	"skipline-backend/internal/notify"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/qrcode"
	"skipline-backend/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentJoinsGetContiguousPositions(t *testing.T) {
	f := newFixture(t)
	f.join(t, f.addProfile(t, "Early 1", models.RoleCustomer))
	f.join(t, f.addProfile(t, "Early 2", models.RoleCustomer))

	const n = 25
	customers := make([]models.Principal, n)
	for i := range customers {
		customers[i] = f.addProfile(t, "Customer", models.RoleCustomer)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
	)
	for _, c := range customers {
		wg.Add(1)
		go func(p models.Principal) {
			defer wg.Done()
			res, err := f.queues.JoinAuthenticated(context.Background(), p, f.company.JoinCode, f.queue.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			positions = append(positions, res.Position)
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	sort.Ints(positions)
	require.Len(t, positions, n)
	for i, pos := range positions {
		assert.Equal(t, i+3, pos)
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.addProfile(t, "Jean", models.RoleCustomer)

	first := f.join(t, customer)
	_, err := f.queues.JoinAuthenticated(ctx, customer, f.company.JoinCode, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInQueue)

	active, err := f.queues.ListActive(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Once the entry is finished the customer may join again
	_, err = f.queues.Cancel(ctx, customer, first.Entry.ID)
	require.NoError(t, err)
	again := f.join(t, customer)
	assert.Equal(t, 1, again.Position)
}

func TestJoinAuthenticatedChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.addProfile(t, "Jean", models.RoleCustomer)

	_, err := f.queues.JoinAuthenticated(ctx, models.Principal{}, f.company.JoinCode, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.queues.JoinAuthenticated(ctx, f.owner, f.company.JoinCode, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrCustomersOnly)

	_, err = f.queues.JoinAuthenticated(ctx, customer, "NOPE42", f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrCompanyNotFound)

	_, err = f.queues.JoinAuthenticated(ctx, customer, f.company.JoinCode, "not-a-uuid")
	assert.ErrorIs(t, err, apperr.ErrQueueNotFound)

	// A queue of another company cannot be reached through this code
	other := f.addProfile(t, "Other Owner", models.RoleBusiness)
	_, err = f.companies.Create(ctx, other, CreateCompanyRequest{Name: "Other"})
	require.NoError(t, err)
	otherQueue, err := f.companies.CreateQueue(ctx, other, CreateQueueRequest{Name: "Elsewhere"})
	require.NoError(t, err)
	_, err = f.queues.JoinAuthenticated(ctx, customer, f.company.JoinCode, otherQueue.ID)
	assert.ErrorIs(t, err, apperr.ErrQueueNotFound)

	// The full scanned company code works as well as the join code
	res, err := f.queues.JoinAuthenticated(ctx, customer, f.company.Code, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Boulangerie", res.CompanyName)
	assert.Equal(t, "Pain", res.QueueName)
	assert.Equal(t, 4, res.EstimatedWait)
	assert.Equal(t, models.MethodClientScan, res.Entry.EntryMethod)
}

func TestQueueCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	capacity := 1
	small, err := f.companies.CreateQueue(ctx, f.owner, CreateQueueRequest{Name: "Small", MaxCapacity: &capacity})
	require.NoError(t, err)

	_, err = f.queues.JoinAuthenticated(ctx, f.addProfile(t, "A", models.RoleCustomer), f.company.JoinCode, small.ID)
	require.NoError(t, err)
	_, err = f.queues.JoinAuthenticated(ctx, f.addProfile(t, "B", models.RoleCustomer), f.company.JoinCode, small.ID)
	assert.ErrorIs(t, err, apperr.ErrQueueFull)
}

func TestCallNextPicksLowestWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNothingToCall)

	a := f.join(t, f.addProfile(t, "A", models.RoleCustomer))
	b := f.join(t, f.addProfile(t, "B", models.RoleCustomer))

	called, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Entry.ID, called.ID)
	assert.Equal(t, models.StatusCalled, called.Status)
	assert.NotNil(t, called.CalledAt)

	called, err = f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Entry.ID, called.ID)

	// Nothing left waiting; the called entries are untouched
	_, err = f.queues.CallNext(ctx, f.owner, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNothingToCall)
	active, err := f.queues.ListActive(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, e := range active {
		assert.Equal(t, models.StatusCalled, e.Status)
	}
}

func TestStaffOperationsRequireOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.join(t, f.addProfile(t, "A", models.RoleCustomer)).Entry
	stranger := f.addProfile(t, "Stranger", models.RoleBusiness)
	customer := f.addProfile(t, "Customer", models.RoleCustomer)

	_, err := f.queues.CallNext(ctx, stranger, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNotQueueOwner)
	_, err = f.queues.CallNext(ctx, customer, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrBusinessOnly)
	_, err = f.queues.ListActive(ctx, stranger, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNotQueueOwner)
	_, err = f.queues.MarkNoShow(ctx, stranger, entry.ID)
	assert.ErrorIs(t, err, apperr.ErrNotQueueOwner)
	assert.ErrorIs(t, f.queues.AuthorizeStaff(ctx, stranger, f.queue.ID), apperr.ErrNotQueueOwner)
	assert.NoError(t, f.queues.AuthorizeStaff(ctx, f.owner, f.queue.ID))

	_, err = f.queues.Cancel(ctx, customer, entry.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.queues.EntryStatus(ctx, customer, entry.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestMarkServedRequiresCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.join(t, f.addProfile(t, "A", models.RoleCustomer)).Entry

	_, err := f.queues.MarkServed(ctx, f.owner, entry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	served, err := f.queues.MarkServed(ctx, f.owner, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServed, served.Status)
	assert.NotNil(t, served.ServedAt)

	_, err = f.queues.MarkServed(ctx, f.owner, entry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.queues.Cancel(ctx, f.owner, entry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	active, err := f.queues.ListActive(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.queues.MarkServed(ctx, f.owner, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
}

func TestCallServeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.join(t, f.addProfile(t, "First", models.RoleCustomer))
	second := f.join(t, f.addProfile(t, "Second", models.RoleCustomer))
	require.Equal(t, 1, first.Position)
	require.Equal(t, 2, second.Position)

	called, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Entry.ID, called.ID)

	third := f.join(t, f.addProfile(t, "Third", models.RoleCustomer))
	assert.Equal(t, 3, third.Position)

	_, err = f.queues.MarkServed(ctx, f.owner, first.Entry.ID)
	require.NoError(t, err)

	active, err := f.queues.ListActive(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, 2, active[0].Position)
	assert.Equal(t, models.StatusWaiting, active[0].Status)
	assert.Equal(t, "Second", active[0].DisplayName)
	assert.Equal(t, 3, active[1].Position)
	assert.Equal(t, models.StatusWaiting, active[1].Status)

	next, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Entry.ID, next.ID)
}

func TestEntryStatusRanks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addProfile(t, "A", models.RoleCustomer)
	b := f.addProfile(t, "B", models.RoleCustomer)
	c := f.addProfile(t, "C", models.RoleCustomer)
	ea := f.join(t, a).Entry
	eb := f.join(t, b).Entry
	ec := f.join(t, c).Entry

	_, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)

	va, err := f.queues.EntryStatus(ctx, a, ea.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, va.Entry.Status)
	assert.Zero(t, va.Rank)

	vb, err := f.queues.EntryStatus(ctx, b, eb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, vb.Rank)
	assert.Equal(t, 0, vb.PeopleAhead)
	assert.Equal(t, 4, vb.EstimatedWait)

	vc, err := f.queues.EntryStatus(ctx, f.owner, ec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, vc.Rank)
	assert.Equal(t, 1, vc.PeopleAhead)
	assert.Equal(t, 8, vc.EstimatedWait)
	assert.Equal(t, "Boulangerie", vc.CompanyName)

	mine, err := f.queues.MyEntries(ctx, c)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ec.ID, mine[0].Entry.ID)
}

func TestScanAddResolvesCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored := f.addProfile(t, "Stored", models.RoleCustomer)
	me, err := f.users.Me(ctx, stored)
	require.NoError(t, err)

	res, err := f.queues.ScanAdd(ctx, f.owner, me.Code, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stored", res.UserName)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, models.MethodBusinessScan, res.Entry.EntryMethod)

	byID := f.addProfile(t, "ByID", models.RoleCustomer)
	res, err = f.queues.ScanAdd(ctx, f.owner, qrcode.PrefixUser+byID.UserID, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Position)

	byPath := f.addProfile(t, "ByPath", models.RoleCustomer)
	res, err = f.queues.ScanAdd(ctx, f.owner, "https://skipline.test/client/"+byPath.UserID, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, "ByPath", res.UserName)

	_, err = f.queues.ScanAdd(ctx, f.owner, me.Code, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInQueue)

	_, err = f.queues.ScanAdd(ctx, f.owner, f.company.Code, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNotACustomer)

	ownerProfile, err := f.users.Me(ctx, f.owner)
	require.NoError(t, err)
	_, err = f.queues.ScanAdd(ctx, f.owner, ownerProfile.Code, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNotACustomer)

	_, err = f.queues.ScanAdd(ctx, f.owner, "hello world", f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrUnrecognizedCode)

	_, err = f.queues.ScanAdd(ctx, f.owner, "SKIPLINE_DEADBEEF_1", f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrProfileNotFound)

	stranger := f.addProfile(t, "Stranger", models.RoleBusiness)
	_, err = f.queues.ScanAdd(ctx, stranger, me.Code, f.queue.ID)
	assert.ErrorIs(t, err, apperr.ErrNotQueueOwner)
}

func TestGuestJoinValidatesBeforeStorage(t *testing.T) {
	f := newFixture(t)
	counting := &countingCompanies{CompanyStore: f.stores.Companies}
	f.stores.Companies = counting
	queues := NewQueueService(f.stores, f.notifier, observer.NopPublisher{}, 0)
	ctx := context.Background()

	_, err := queues.JoinGuest(ctx, GuestJoinRequest{
		CompanyCode: f.company.JoinCode, QueueID: f.queue.ID,
		Contact: "not-an-email", ContactMethod: contact.MethodEmail, FullName: "Marie",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidEmail)

	_, err = queues.JoinGuest(ctx, GuestJoinRequest{
		CompanyCode: f.company.JoinCode, QueueID: f.queue.ID,
		Contact: "12345", ContactMethod: contact.MethodPhone, FullName: "Marie",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidPhone)

	_, err = queues.JoinGuest(ctx, GuestJoinRequest{
		CompanyCode: f.company.JoinCode, QueueID: f.queue.ID,
		Contact: "marie@example.fr", ContactMethod: contact.MethodEmail, FullName: "  ",
	})
	assert.ErrorIs(t, err, apperr.ErrMissingName)

	assert.Zero(t, counting.calls)
}

func TestGuestJoinNormalizesPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.queues.JoinGuest(ctx, GuestJoinRequest{
		CompanyCode: f.company.JoinCode, QueueID: f.queue.ID,
		Contact: "06 12 34 56 78", ContactMethod: contact.MethodPhone, FullName: "Marie", Ticket: "A-12",
	})
	require.NoError(t, err)
	assert.Equal(t, "+33612345678", res.Entry.GuestPhone)
	assert.Equal(t, "+33612345678", res.Profile.Phone)
	assert.True(t, res.Profile.IsGuest)
	assert.True(t, res.Profile.SMSNotifications)
	assert.False(t, res.Profile.EmailNotifications)
	assert.Equal(t, models.MethodVisitorForm, res.Entry.EntryMethod)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 4, res.EstimatedWait)
	assert.IsType(t, qrcode.Guest{}, qrcode.Classify(res.Profile.Code))

	f.queues.Wait()
	f.notifier.mu.Lock()
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "+33612345678", f.notifier.sent[0].Phone)
	assert.Equal(t, notify.KindQueueJoined, f.notifier.sent[0].Kind)
	f.notifier.mu.Unlock()

	// Staff can add the same guest to another queue by scanning its code
	other, err := f.companies.CreateQueue(ctx, f.owner, CreateQueueRequest{Name: "Gateaux"})
	require.NoError(t, err)
	scanned, err := f.queues.ScanAdd(ctx, f.owner, res.Profile.Code, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Marie", scanned.UserName)
}

func TestFailingNotifierDoesNotFailJoin(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()
	customer := f.addProfile(t, "Jean", models.RoleCustomer)

	res, err := f.queues.JoinAuthenticated(ctx, customer, f.company.JoinCode, f.queue.ID)
	require.NoError(t, err)
	f.queues.Wait()

	assert.Equal(t, []notify.Kind{notify.KindQueueJoined}, f.notifier.kindsFor(customer.UserID))
	got, err := f.queues.EntryStatus(ctx, customer, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Entry.Status)
}

func TestCallNextNotifiesEntrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customers := make([]models.Principal, 5)
	for i := range customers {
		customers[i] = f.addProfile(t, "C", models.RoleCustomer)
		f.join(t, customers[i])
	}

	_, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)
	f.queues.Wait()

	called, ok := f.notifier.find(customers[0].UserID, notify.KindQueueCalled)
	require.True(t, ok)
	assert.Equal(t, "C", called.Data.Name)
	for _, c := range customers[1:4] {
		assert.Contains(t, f.notifier.kindsFor(c.UserID), notify.KindPositionUpdated)
	}
	assert.NotContains(t, f.notifier.kindsFor(customers[4].UserID), notify.KindPositionUpdated)
}

func TestExpireCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.join(t, f.addProfile(t, "A", models.RoleCustomer)).Entry
	_, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
	require.NoError(t, err)

	n, err := f.queues.ExpireCalled(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.queues.ExpireCalled(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.db.Entries().GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, got.Status)
}

func TestNoShowSweepAndMarkServed(t *testing.T) {
	cases := []struct {
		name        string
		noShowAfter time.Duration
		status      models.EntryStatus
	}{
		{"default keeps called entry", config.Default().Queue.NoShowAfter, models.StatusServed},
		{"enabled expires called entry", 15 * time.Minute, models.StatusNoShow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			entry := f.join(t, f.addProfile(t, "A", models.RoleCustomer)).Entry

			f.queues.now = func() time.Time { return time.Now().Add(-16 * time.Minute) }
			_, err := f.queues.CallNext(ctx, f.owner, f.queue.ID)
			require.NoError(t, err)
			f.queues.now = time.Now

			tasks.NewPlanner(f.queues, f.db.Profiles(), tc.noShowAfter, time.Hour).SweepNoShows()

			served, err := f.queues.MarkServed(ctx, f.owner, entry.ID)
			if tc.status == models.StatusServed {
				require.NoError(t, err)
				assert.Equal(t, models.StatusServed, served.Status)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			got, err := f.db.Entries().GetByID(ctx, entry.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
		})
	}
}
