package models

import (
	"slices"
	"time"
)

// EntryStatus is the lifecycle state of a queue entry
type EntryStatus string

const (
	StatusWaiting   EntryStatus = "waiting"
	StatusCalled    EntryStatus = "called"
	StatusServed    EntryStatus = "served"
	StatusCancelled EntryStatus = "cancelled"
	StatusNoShow    EntryStatus = "no_show"
)

// ActiveStatuses are the statuses counted toward positions and duplicate checks
var ActiveStatuses = []EntryStatus{StatusWaiting, StatusCalled}

var allStatuses = []EntryStatus{StatusWaiting, StatusCalled, StatusServed, StatusCancelled, StatusNoShow}

// Active reports whether the entry still occupies a slot in its queue
func (s EntryStatus) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// CanTransitionTo reports whether moving from s to next is allowed.
// waiting -> called -> served, and waiting|called -> cancelled|no_show.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	switch next {
	case StatusCalled:
		return s == StatusWaiting
	case StatusServed:
		return s == StatusCalled
	case StatusCancelled, StatusNoShow:
		return s.Active()
	default:
		return false
	}
}

// SourcesOf lists the statuses an entry may be in to move to next
func SourcesOf(next EntryStatus) []EntryStatus {
	var from []EntryStatus
	for _, s := range allStatuses {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// EntryMethod records which workflow created an entry
type EntryMethod string

const (
	MethodClientScan   EntryMethod = "client_scan"
	MethodBusinessScan EntryMethod = "business_scan"
	MethodVisitorForm  EntryMethod = "visitor_form"
)

// QueueEntry represents one occupied slot in a queue
type QueueEntry struct {
	ID            string      `json:"id"`
	QueueID       string      `json:"queue_id"`
	UserID        string      `json:"user_id,omitempty"`
	Position      int         `json:"position"`
	Status        EntryStatus `json:"status"`
	EntryMethod   EntryMethod `json:"entry_method"`
	EstimatedTime int         `json:"estimated_time"`
	Notes         string      `json:"notes,omitempty"`
	GuestEmail    string      `json:"guest_email,omitempty"`
	GuestPhone    string      `json:"guest_phone,omitempty"`
	GuestName     string      `json:"guest_name,omitempty"`
	CalledAt      *time.Time  `json:"called_at,omitempty"`
	ServedAt      *time.Time  `json:"served_at,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EntryView is an entry enriched with the entrant's display name, as staff see it
type EntryView struct {
	QueueEntry
	DisplayName string `json:"display_name"`
}

// JoinParams describes one atomic join. When Guest is set the guest profile is
// created in the same transaction and its ID becomes the entry's user.
type JoinParams struct {
	QueueID    string
	UserID     string
	Method     EntryMethod
	Guest      *Profile
	GuestEmail string
	GuestPhone string
	GuestName  string
	Notes      string
	At         time.Time
}

// NotificationLog records one delivery attempt on one channel
type NotificationLog struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id,omitempty"`
	Channel      string     `json:"channel"`
	Kind         string     `json:"kind"`
	Recipient    string     `json:"recipient"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}
