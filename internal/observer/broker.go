package observer

import (
	"context"
	"sync"
)

// Broker fans events out to in-process watchers. It is both the Publisher
// and the Observer of a single-instance deployment.
type Broker struct {
	lister Lister

	mu          sync.RWMutex
	subscribers map[string]map[chan struct{}]bool
}

// NewBroker creates an in-process broker
func NewBroker(lister Lister) *Broker {
	return &Broker{
		lister:      lister,
		subscribers: make(map[string]map[chan struct{}]bool),
	}
}

// Publish wakes every watcher of the event's queue. Watchers that are
// already due for a refresh are skipped.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[ev.QueueID] {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Broker) Watch(ctx context.Context, queueID string) (<-chan Snapshot, error) {
	sub := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subscribers[queueID] == nil {
		b.subscribers[queueID] = make(map[chan struct{}]bool)
	}
	b.subscribers[queueID][sub] = true
	b.mu.Unlock()

	return stream(ctx, b.lister, queueID, sub, func() { b.unsubscribe(queueID, sub) })
}

func (b *Broker) unsubscribe(queueID string, sub chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers[queueID], sub)
	if len(b.subscribers[queueID]) == 0 {
		delete(b.subscribers, queueID)
	}
}

// SubscriberCount returns the number of watchers of a queue
func (b *Broker) SubscriberCount(queueID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[queueID])
}
