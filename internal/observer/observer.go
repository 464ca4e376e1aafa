// Package observer streams the active entries of a queue to staff views.
//
// An Observer emits a Snapshot when the watched queue changes. The polling
// implementation re-reads the store at a fixed interval; the Redis and
// in-process implementations re-read when a Publisher signals a change.
package observer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skipline-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// Snapshot is the active list of one queue at a point in time
type Snapshot struct {
	QueueID string             `json:"queue_id"`
	Entries []models.EntryView `json:"entries"`
	At      time.Time          `json:"at"`
}

// Event announces a state change on a queue
type Event struct {
	QueueID string             `json:"queue_id"`
	EntryID string             `json:"entry_id,omitempty"`
	Status  models.EntryStatus `json:"status,omitempty"`
}

// Observer watches a queue until ctx is done. The channel is closed when
// watching stops.
type Observer interface {
	Watch(ctx context.Context, queueID string) (<-chan Snapshot, error)
}

// Publisher announces queue changes to observers
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Lister reads the active entries of a queue
type Lister interface {
	ListActive(ctx context.Context, queueID string) ([]models.EntryView, error)
}

// NopPublisher discards events. Polling observers do not need them.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// fingerprint identifies a snapshot's content. Entries are compared on the
// fields the staff view renders.
func fingerprint(entries []models.EntryView) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s:%d:%s:%s;", e.ID, e.Position, e.Status, e.DisplayName)
	}
	return b.String()
}

// stream loads the first snapshot synchronously, then reloads on every tick
// received from trigger and emits only when the content changed.
func stream(ctx context.Context, lister Lister, queueID string, trigger <-chan struct{}, cleanup func()) (<-chan Snapshot, error) {
	entries, err := lister.ListActive(ctx, queueID)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to load queue %s: %w", queueID, err)
	}

	out := make(chan Snapshot, 1)
	out <- Snapshot{QueueID: queueID, Entries: entries, At: time.Now()}
	last := fingerprint(entries)

	go func() {
		defer close(out)
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-trigger:
				if !ok {
					return
				}
			}

			entries, err := lister.ListActive(ctx, queueID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("queue_id", queueID).Msg("Failed to refresh queue snapshot")
				continue
			}
			fp := fingerprint(entries)
			if fp == last {
				continue
			}
			last = fp

			select {
			case out <- Snapshot{QueueID: queueID, Entries: entries, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
