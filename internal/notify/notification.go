// Package notify delivers queue notifications over email, SMS and push.
//
// Services hand a Notification to a Notifier. In production the Dispatcher
// pushes it onto a Redis list and a worker pool renders and sends it; without
// Redis the InlineNotifier sends it directly. Delivery is best effort: every
// attempt is recorded in the notification log and nothing is reported back to
// the operation that triggered it.
package notify

import (
	"context"
	"time"

	"skipline-backend/internal/models"
)

// Kind identifies a notification template
type Kind string

const (
	KindQueueJoined     Kind = "queue_joined"
	KindQueueCalled     Kind = "queue_called"
	KindPositionUpdated Kind = "position_updated"
)

// Channel names, as stored in the notification log
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Log statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Data fills the template placeholders
type Data struct {
	Name          string `json:"name"`
	CompanyName   string `json:"company_name"`
	QueueName     string `json:"queue_name"`
	Position      int    `json:"position"`
	EstimatedTime int    `json:"estimated_time"`
}

// Notification is one message to one recipient profile
type Notification struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"user_id"`
	// Email and Phone override the profile contact, for guests
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Data  Data   `json:"data"`
}

// Notifier accepts notifications for delivery
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// ProfileLookup resolves the recipient's contact details and preferences
type ProfileLookup interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
}

// LogStore records delivery attempts
type LogStore interface {
	Create(ctx context.Context, l *models.NotificationLog) error
	Finish(ctx context.Context, id, status, errorMessage string, at time.Time) error
}
