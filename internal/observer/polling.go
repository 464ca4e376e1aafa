package observer

import (
	"context"
	"time"
)

// PollingObserver re-reads the active list at a fixed interval
type PollingObserver struct {
	lister   Lister
	interval time.Duration
}

// NewPollingObserver creates a polling observer
func NewPollingObserver(lister Lister, interval time.Duration) *PollingObserver {
	return &PollingObserver{lister: lister, interval: interval}
}

func (o *PollingObserver) Watch(ctx context.Context, queueID string) (<-chan Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	ticks := make(chan struct{})
	ticker := time.NewTicker(o.interval)

	go func() {
		defer close(ticks)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ticks <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return stream(ctx, o.lister, queueID, ticks, func() {
		ticker.Stop()
		cancel()
	})
}
