package notify

import (
	"context"
	"fmt"
	"time"

	"skipline-backend/internal/metrics"
	"skipline-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sender renders a notification and delivers it on every channel the
// recipient accepts
type Sender struct {
	profiles ProfileLookup
	logs     LogStore
	channels map[string]Channel
	now      func() time.Time
}

// NewSender creates a sender. Channels are keyed by their Name.
func NewSender(profiles ProfileLookup, logs LogStore, channels ...Channel) *Sender {
	s := &Sender{
		profiles: profiles,
		logs:     logs,
		channels: make(map[string]Channel, len(channels)),
		now:      time.Now,
	}
	for _, ch := range channels {
		s.channels[ch.Name()] = ch
	}
	return s
}

type delivery struct {
	channel string
	message Message
}

// Deliver sends n and returns the channels that failed. When only is not
// empty, delivery is restricted to those channels.
func (s *Sender) Deliver(ctx context.Context, n Notification, only ...string) ([]string, error) {
	profile, err := s.profiles.GetByID(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}

	deliveries, err := s.plan(n, profile)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(only))
	for _, ch := range only {
		allowed[ch] = true
	}

	var failed []string
	for _, d := range deliveries {
		if len(allowed) > 0 && !allowed[d.channel] {
			continue
		}
		if err := s.send(ctx, n, d); err != nil {
			failed = append(failed, d.channel)
		}
	}
	return failed, nil
}

// plan picks the channels the preferences allow and renders each message
func (s *Sender) plan(n Notification, p *models.Profile) ([]delivery, error) {
	emailTo := n.Email
	if emailTo == "" {
		emailTo = p.Email
	}
	phoneTo := n.Phone
	if phoneTo == "" {
		phoneTo = p.Phone
	}
	if n.Data.Name == "" {
		n.Data.Name = p.DisplayName()
	}

	var out []delivery
	if p.EmailNotifications && emailTo != "" {
		mail, err := RenderEmail(n.Kind, n.Data)
		if err != nil {
			return nil, err
		}
		text, err := RenderSMS(n.Kind, n.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, delivery{ChannelEmail, Message{To: emailTo, Subject: mail.Subject, HTML: mail.HTML, Body: text}})
	}

	if p.SMSNotifications && phoneTo != "" {
		text, err := RenderSMS(n.Kind, n.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, delivery{ChannelSMS, Message{To: phoneTo, Body: text}})
	}

	if p.PushToken != nil && *p.PushToken != "" {
		mail, err := RenderEmail(n.Kind, n.Data)
		if err != nil {
			return nil, err
		}
		text, err := RenderSMS(n.Kind, n.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, delivery{ChannelPush, Message{To: *p.PushToken, Subject: mail.Subject, Body: text}})
	}
	return out, nil
}

func (s *Sender) send(ctx context.Context, n Notification, d delivery) error {
	ch, ok := s.channels[d.channel]
	if !ok {
		return nil
	}

	entry := &models.NotificationLog{
		ID:        uuid.New().String(),
		UserID:    n.UserID,
		Channel:   d.channel,
		Kind:      string(n.Kind),
		Recipient: d.message.To,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("channel", d.channel).Msg("Failed to record notification attempt")
	}

	sendErr := ch.Send(ctx, d.message)

	status, errMsg := StatusSent, ""
	if sendErr != nil {
		status, errMsg = StatusFailed, sendErr.Error()
	}
	if err := s.logs.Finish(ctx, entry.ID, status, errMsg, s.now()); err != nil {
		log.Warn().Err(err).Str("channel", d.channel).Msg("Failed to record notification outcome")
	}
	metrics.NotificationsTotal.WithLabelValues(d.channel, status).Inc()

	if sendErr != nil {
		log.Error().
			Err(sendErr).
			Str("user_id", n.UserID).
			Str("channel", d.channel).
			Str("kind", string(n.Kind)).
			Msg("Notification failed")
		return sendErr
	}

	log.Info().
		Str("user_id", n.UserID).
		Str("channel", d.channel).
		Str("kind", string(n.Kind)).
		Msg("Notification sent")
	return nil
}

// InlineNotifier delivers notifications synchronously, without a job queue
type InlineNotifier struct {
	sender *Sender
}

// NewInlineNotifier creates a notifier that sends right away
func NewInlineNotifier(sender *Sender) *InlineNotifier {
	return &InlineNotifier{sender: sender}
}

func (i *InlineNotifier) Notify(ctx context.Context, n Notification) error {
	failed, err := i.sender.Deliver(ctx, n)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("delivery failed on %v", failed)
	}
	return nil
}
