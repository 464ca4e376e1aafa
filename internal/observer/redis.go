package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "queue:"

// Channel returns the pub/sub channel of a queue
func Channel(queueID string) string {
	return channelPrefix + queueID
}

// RedisPublisher announces changes on the queue's pub/sub channel so every
// server instance refreshes its watchers
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a Redis publisher
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(ev.QueueID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// RedisObserver reloads the active list whenever a message arrives on the
// queue's channel
type RedisObserver struct {
	rdb    *redis.Client
	lister Lister
}

// NewRedisObserver creates a Redis pub/sub observer
func NewRedisObserver(rdb *redis.Client, lister Lister) *RedisObserver {
	return &RedisObserver{rdb: rdb, lister: lister}
}

func (o *RedisObserver) Watch(ctx context.Context, queueID string) (<-chan Snapshot, error) {
	sub := o.rdb.Subscribe(ctx, Channel(queueID))
	// Wait for the subscription to be confirmed so no event published after
	// the first snapshot is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Channel(queueID), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ticks := make(chan struct{}, 1)
	msgs := sub.Channel()

	go func() {
		defer close(ticks)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				log.Debug().Str("channel", msg.Channel).Msg("Queue change received")
				select {
				case ticks <- struct{}{}:
				default:
				}
			}
		}
	}()

	return stream(ctx, o.lister, queueID, ticks, func() {
		cancel()
		sub.Close()
	})
}
