package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"skipline-backend/internal/config"
	"skipline-backend/internal/models"
	"skipline-backend/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu   sync.Mutex
	name string
	fail bool
	sent []Message
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("provider down")
	}
	c.sent = append(c.sent, m)
	return nil
}

func TestRenderTemplates(t *testing.T) {
	data := Data{Name: "Jean", CompanyName: "Boulangerie", QueueName: "Pain", Position: 3, EstimatedTime: 15}

	mail, err := RenderEmail(KindQueueJoined, data)
	require.NoError(t, err)
	assert.Contains(t, mail.Subject, "Boulangerie")
	assert.Contains(t, mail.HTML, "Jean")
	assert.Contains(t, mail.HTML, ">3<")
	assert.Contains(t, mail.HTML, "15 minutes")

	sms, err := RenderSMS(KindPositionUpdated, data)
	require.NoError(t, err)
	assert.Equal(t, "SkipLine: Nouvelle position 3 chez Boulangerie. Temps estimé: 15min.", sms)

	_, err = RenderSMS("unknown", data)
	assert.Error(t, err)
}

func TestRenderEmailEscapesHTML(t *testing.T) {
	mail, err := RenderEmail(KindQueueCalled, Data{Name: "<script>", CompanyName: "Shop", QueueName: "Q"})
	require.NoError(t, err)
	assert.NotContains(t, mail.HTML, "<script>")
}

func newSenderFixture(t *testing.T, prefs func(p *models.Profile)) (*Sender, *recordingChannel, *recordingChannel, *recordingChannel, *memstore.DB) {
	t.Helper()
	db := memstore.New()
	token := "device-token"
	p := &models.Profile{
		ID: "u1", Email: "jean@example.fr", FullName: "Jean", Phone: "+33612345678", Role: models.RoleCustomer,
		PushToken: &token, EmailNotifications: true, SMSNotifications: true,
	}
	if prefs != nil {
		prefs(p)
	}
	require.NoError(t, db.Profiles().Create(context.Background(), p))

	email := &recordingChannel{name: ChannelEmail}
	sms := &recordingChannel{name: ChannelSMS}
	push := &recordingChannel{name: ChannelPush}
	return NewSender(db.Profiles(), db.NotificationLogs(), email, sms, push), email, sms, push, db
}

func TestSenderHonorsPreferences(t *testing.T) {
	sender, email, sms, push, db := newSenderFixture(t, func(p *models.Profile) { p.SMSNotifications = false })

	failed, err := sender.Deliver(context.Background(), Notification{
		Kind: KindQueueJoined, UserID: "u1",
		Data: Data{CompanyName: "Shop", QueueName: "Main", Position: 1, EstimatedTime: 5},
	})
	require.NoError(t, err)
	assert.Empty(t, failed)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "jean@example.fr", email.sent[0].To)
	assert.Contains(t, email.sent[0].HTML, "Jean")
	assert.Empty(t, sms.sent)
	require.Len(t, push.sent, 1)
	assert.Equal(t, "device-token", push.sent[0].To)

	logs, err := db.NotificationLogs().ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, StatusSent, l.Status)
		assert.NotNil(t, l.SentAt)
	}
}

func TestSenderRecordsFailures(t *testing.T) {
	sender, email, _, _, db := newSenderFixture(t, nil)
	email.fail = true

	failed, err := sender.Deliver(context.Background(), Notification{Kind: KindQueueCalled, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{ChannelEmail}, failed)

	logs, err := db.NotificationLogs().ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	var failures int
	for _, l := range logs {
		if l.Status == StatusFailed {
			failures++
			assert.Equal(t, "provider down", l.ErrorMessage)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestSenderRestrictsToChannels(t *testing.T) {
	sender, email, sms, push, _ := newSenderFixture(t, nil)

	_, err := sender.Deliver(context.Background(), Notification{Kind: KindQueueCalled, UserID: "u1"}, ChannelSMS)
	require.NoError(t, err)
	assert.Empty(t, email.sent)
	assert.Len(t, sms.sent, 1)
	assert.Empty(t, push.sent)
}

func TestSenderGuestContactOverride(t *testing.T) {
	sender, email, sms, _, _ := newSenderFixture(t, func(p *models.Profile) {
		p.Email = ""
		p.Phone = ""
		p.PushToken = nil
	})

	_, err := sender.Deliver(context.Background(), Notification{Kind: KindQueueJoined, UserID: "u1", Phone: "+33698765432"})
	require.NoError(t, err)
	assert.Empty(t, email.sent)
	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+33698765432", sms.sent[0].To)
}

type stubDeliverer struct {
	failed []string
	err    error
	calls  [][]string
}

func (s *stubDeliverer) Deliver(_ context.Context, _ Notification, only ...string) ([]string, error) {
	s.calls = append(s.calls, only)
	return s.failed, s.err
}

func TestProcessOutcomes(t *testing.T) {
	ok := &stubDeliverer{}
	outcome, _, err := Process(context.Background(), ok, Job{}, 3)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)

	partial := &stubDeliverer{failed: []string{ChannelSMS}}
	outcome, next, err := Process(context.Background(), partial, Job{}, 3)
	assert.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, []string{ChannelSMS}, next.Channels)
	assert.Equal(t, 1, next.Attempts)

	outcome, _, _ = Process(context.Background(), partial, next, 2)
	assert.Equal(t, OutcomeDead, outcome)
	assert.Equal(t, []string{ChannelSMS}, partial.calls[1])
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	boom := errors.New("boom")
	assert.Equal(t, boom, b.Execute(func() error { return boom }))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, boom, b.Execute(func() error { return boom }))
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	assert.ErrorIs(t, b.Execute(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSMSClientPostsToTwilio(t *testing.T) {
	var gotPath, gotTo, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo = r.PostForm.Get("To")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	c := NewSMSClient(config.SMSConfig{AccountSID: "AC1", AuthToken: "tok", From: "+33100000000", BaseURL: srv.URL})
	require.NoError(t, c.Send(context.Background(), Message{To: "+33612345678", Body: "hi"}))
	assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "+33612345678", gotTo)
	assert.Equal(t, "AC1", gotUser)
}

func TestSMSClientReportsTwilioError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	c := NewSMSClient(config.SMSConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL})
	err := c.Send(context.Background(), Message{To: "x", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid To number")
}

func TestChannelsFromConfigSimulatesMissingProviders(t *testing.T) {
	channels, err := ChannelsFromConfig(config.Default(), BreakerConfig{})
	require.NoError(t, err)
	require.Len(t, channels, 3)
	for _, ch := range channels {
		assert.IsType(t, Simulated{}, ch)
		assert.NoError(t, ch.Send(context.Background(), Message{}))
	}
}
