package tasks

import (
	"context"
	"time"

	"skipline-backend/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const taskTimeout = time.Minute

// Expirer closes called entries whose entrant never showed up
type Expirer interface {
	ExpireCalled(ctx context.Context, before time.Time) (int, error)
}

// GuestCleaner removes guest profiles that no longer hold an active entry
type GuestCleaner interface {
	DeleteStaleGuests(ctx context.Context, before time.Time) (int64, error)
}

// Planner holds the periodic maintenance jobs
type Planner struct {
	entries        Expirer
	guests         GuestCleaner
	noShowAfter    time.Duration
	guestRetention time.Duration
	now            func() time.Time
}

// NewPlanner creates the maintenance jobs
func NewPlanner(entries Expirer, guests GuestCleaner, noShowAfter, guestRetention time.Duration) *Planner {
	return &Planner{
		entries:        entries,
		guests:         guests,
		noShowAfter:    noShowAfter,
		guestRetention: guestRetention,
		now:            time.Now,
	}
}

// SweepNoShows marks entries called more than noShowAfter ago as no-shows.
// It does nothing when noShowAfter is zero.
func (p *Planner) SweepNoShows() {
	if p.noShowAfter <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	cutoff := p.now().Add(-p.noShowAfter)
	n, err := p.entries.ExpireCalled(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep no-show entries")
		return
	}
	if n > 0 {
		metrics.SweptEntriesTotal.Add(float64(n))
		log.Info().Int("count", n).Time("called_before", cutoff).Msg("Marked called entries as no-show")
	}
}

// CleanGuests deletes guest profiles older than guestRetention
func (p *Planner) CleanGuests() {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	cutoff := p.now().Add(-p.guestRetention)
	n, err := p.guests.DeleteStaleGuests(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete stale guest profiles")
		return
	}
	metrics.DeletedGuestsTotal.Add(float64(n))
	log.Info().Int64("count", n).Time("created_before", cutoff).Msg("Stale guest profiles deleted")
}

// InitScheduler registers the jobs on a cron scheduler with seconds and
// starts it
func InitScheduler(p *Planner) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())

	// No-show sweep every minute, only when enabled
	if p.noShowAfter > 0 {
		if _, err := c.AddFunc("0 * * * * *", p.SweepNoShows); err != nil {
			return nil, err
		}
	}

	// Guest cleanup every day at 03:00
	if _, err := c.AddFunc("0 0 3 * * *", p.CleanGuests); err != nil {
		return nil, err
	}

	c.Start()
	log.Info().Int("jobs", len(c.Entries())).Msg("Cron scheduler started")
	return c, nil
}
