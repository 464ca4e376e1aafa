package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skipline-backend/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueNotifications = "jobs:notifications"
	DLQPrefix          = "dlq:"

	// popRetryDelay is the pause after a failed BRPOP so an unreachable Redis
	// is not hammered
	popRetryDelay = time.Second
)

// Job is the envelope stored on the notification list
type Job struct {
	Notification Notification `json:"notification"`
	// Channels restricts a retry to the channels that failed
	Channels []string `json:"channels,omitempty"`
	Attempts int      `json:"attempts"`
}

// DLQEntry wraps a job that exhausted its attempts
type DLQEntry struct {
	Job      Job    `json:"job"`
	Reason   string `json:"reason"`
	FailedAt string `json:"failed_at"`
}

// Dispatcher enqueues notification jobs into a Redis list. The worker pool
// dequeues them with BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

// NewDispatcher creates a Redis backed notifier
func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	return d.enqueue(ctx, Job{Notification: n})
}

func (d *Dispatcher) enqueue(ctx context.Context, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := d.rdb.LPush(ctx, QueueNotifications, encoded).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Deliverer sends one notification and reports the channels that failed
type Deliverer interface {
	Deliver(ctx context.Context, n Notification, only ...string) ([]string, error)
}

// Outcome of processing one job
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeRetry
	OutcomeDead
)

// Process delivers a job and decides what happens to it next. The returned
// job carries the channels left to retry.
func Process(ctx context.Context, sender Deliverer, job Job, maxAttempts int) (Outcome, Job, error) {
	job.Attempts++
	failed, err := sender.Deliver(ctx, job.Notification, job.Channels...)
	if err == nil && len(failed) == 0 {
		return OutcomeDone, job, nil
	}
	if err == nil {
		job.Channels = failed
		err = fmt.Errorf("delivery failed on %v", failed)
	}
	if job.Attempts >= maxAttempts {
		return OutcomeDead, job, err
	}
	return OutcomeRetry, job, err
}

// StartWorkerPool launches numWorkers goroutines consuming the notification
// list. Each goroutine blocks on BRPOP.
func StartWorkerPool(ctx context.Context, rdb *redis.Client, sender Deliverer, numWorkers, maxAttempts int) {
	d := NewDispatcher(rdb)
	for i := 0; i < numWorkers; i++ {
		go d.runWorker(ctx, sender, i, maxAttempts)
	}
	log.Info().Int("workers", numWorkers).Msg("Notification worker pool started")
}

func (d *Dispatcher) runWorker(ctx context.Context, sender Deliverer, id, maxAttempts int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("Notification worker shutting down")
			return
		default:
		}

		// Blocking pop, waits up to 5s then loops to check ctx
		result, err := d.rdb.BRPop(ctx, 5*time.Second, QueueNotifications).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Debug().Err(err).Int("worker", id).Msg("Failed to pop notification job")
			select {
			case <-ctx.Done():
			case <-time.After(popRetryDelay):
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error().Err(err).Msg("Failed to decode notification job")
			continue
		}
		d.handle(ctx, sender, job, maxAttempts)
	}
}

func (d *Dispatcher) handle(ctx context.Context, sender Deliverer, job Job, maxAttempts int) {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	outcome, next, err := Process(sendCtx, sender, job, maxAttempts)
	cancel()

	switch outcome {
	case OutcomeRetry:
		log.Warn().Err(err).Int("attempts", next.Attempts).Str("user_id", next.Notification.UserID).Msg("Retrying notification")
		if err := d.enqueue(ctx, next); err != nil {
			log.Error().Err(err).Msg("Failed to requeue notification")
		}
	case OutcomeDead:
		d.sendToDLQ(ctx, next, err)
	}
}

func (d *Dispatcher) sendToDLQ(ctx context.Context, job Job, reason error) {
	entry := DLQEntry{Job: job, FailedAt: time.Now().UTC().Format(time.RFC3339)}
	if reason != nil {
		entry.Reason = reason.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("dlq: failed to marshal entry")
		return
	}

	dlqKey := DLQPrefix + QueueNotifications
	if err := d.rdb.LPush(ctx, dlqKey, data).Err(); err != nil {
		log.Error().Err(err).Str("dlq_key", dlqKey).Msg("dlq: failed to push to DLQ")
		return
	}
	metrics.NotificationsDeadTotal.Inc()

	log.Warn().
		Str("user_id", job.Notification.UserID).
		Str("kind", string(job.Notification.Kind)).
		Int("attempts", job.Attempts).
		Msg("dlq: notification moved to dead letter queue")
}

// DLQLength returns the number of dead notification jobs
func DLQLength(ctx context.Context, rdb *redis.Client) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+QueueNotifications).Result()
}

// MonitorDLQ keeps the dead letter gauge current until ctx is done
func MonitorDLQ(ctx context.Context, rdb *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := DLQLength(ctx, rdb)
		switch {
		case err == nil:
			metrics.NotificationsDLQDepth.Set(float64(n))
		case ctx.Err() == nil:
			log.Debug().Err(err).Msg("dlq: failed to read length")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
