package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"skipline-backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExpirer struct {
	before time.Time
	n      int
	err    error
}

func (s *stubExpirer) ExpireCalled(_ context.Context, before time.Time) (int, error) {
	s.before = before
	return s.n, s.err
}

type stubCleaner struct {
	before time.Time
	n      int64
}

func (s *stubCleaner) DeleteStaleGuests(_ context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.n, nil
}

func TestPlannerCutoffs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expirer := &stubExpirer{n: 2}
	cleaner := &stubCleaner{n: 4}
	p := NewPlanner(expirer, cleaner, 15*time.Minute, 24*time.Hour)
	p.now = func() time.Time { return now }

	swept := testutil.ToFloat64(metrics.SweptEntriesTotal)
	deleted := testutil.ToFloat64(metrics.DeletedGuestsTotal)

	p.SweepNoShows()
	assert.Equal(t, now.Add(-15*time.Minute), expirer.before)
	assert.Equal(t, swept+2, testutil.ToFloat64(metrics.SweptEntriesTotal))

	p.CleanGuests()
	assert.Equal(t, now.Add(-24*time.Hour), cleaner.before)
	assert.Equal(t, deleted+4, testutil.ToFloat64(metrics.DeletedGuestsTotal))
}

func TestSweepFailureLeavesCounter(t *testing.T) {
	p := NewPlanner(&stubExpirer{n: 3, err: errors.New("db down")}, &stubCleaner{}, time.Minute, time.Hour)
	before := testutil.ToFloat64(metrics.SweptEntriesTotal)
	p.SweepNoShows()
	assert.Equal(t, before, testutil.ToFloat64(metrics.SweptEntriesTotal))
}

func TestInitScheduler(t *testing.T) {
	c, err := InitScheduler(NewPlanner(&stubExpirer{}, &stubCleaner{}, time.Minute, time.Hour))
	require.NoError(t, err)
	defer c.Stop()
	assert.Len(t, c.Entries(), 2)
}

func TestNoShowSweepDisabled(t *testing.T) {
	expirer := &stubExpirer{n: 1}
	p := NewPlanner(expirer, &stubCleaner{}, 0, time.Hour)

	p.SweepNoShows()
	assert.True(t, expirer.before.IsZero())

	c, err := InitScheduler(p)
	require.NoError(t, err)
	defer c.Stop()
	assert.Len(t, c.Entries(), 1)
}
