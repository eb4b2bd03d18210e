package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

type fakeRunner struct {
	runs atomic.Int64
	err  error
}

func (f *fakeRunner) Run(context.Context, string) (store.SyncRun, error) {
	f.runs.Add(1)
	return store.SyncRun{ID: "run-1", Status: "completed"}, f.err
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func melbourne(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Melbourne")
	require.NoError(t, err)
	return loc
}

func newScheduler(t *testing.T, cfg config.SchedulerConfig, clock Clock) (*Scheduler, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{}
	s, err := New(cfg, runner, clock)
	require.NoError(t, err)
	return s, runner
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	clock := &fakeClock{}

	_, err := New(config.SchedulerConfig{Timezone: "Mars/Olympus"}, runner, clock)
	require.Error(t, err)

	_, err = New(config.SchedulerConfig{RunTimes: []string{"25:00"}}, runner, clock)
	require.Error(t, err)

	_, err = New(config.SchedulerConfig{SkipDays: []string{"Funday"}}, runner, clock)
	require.Error(t, err)

	_, err = New(config.SchedulerConfig{SkipDates: []string{"01-01"}}, runner, clock)
	require.Error(t, err)
}

func TestShouldRunSkipsDaysAndDates(t *testing.T) {
	t.Parallel()

	loc := melbourne(t)
	cfg := config.SchedulerConfig{
		Timezone:  "Australia/Melbourne",
		SkipDays:  []string{"Sunday"},
		SkipDates: []string{"2026-12-25"},
	}
	s, _ := newScheduler(t, cfg, &fakeClock{})

	sunday := time.Date(2026, 3, 1, 12, 0, 0, 0, loc) // a Sunday
	require.False(t, s.ShouldRun(sunday))

	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, loc)
	require.True(t, s.ShouldRun(monday))

	christmas := time.Date(2026, 12, 25, 12, 0, 0, 0, loc)
	require.False(t, s.ShouldRun(christmas))
}

func TestShouldRunConvertsToLocalTime(t *testing.T) {
	t.Parallel()

	cfg := config.SchedulerConfig{
		Timezone: "Australia/Melbourne",
		SkipDays: []string{"Sunday"},
	}
	s, _ := newScheduler(t, cfg, &fakeClock{})

	// Saturday 20:00 UTC is already Sunday in Melbourne
	utcSaturday := time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC)
	require.False(t, s.ShouldRun(utcSaturday))
}

func TestFireRespectsSkipDays(t *testing.T) {
	t.Parallel()

	loc := melbourne(t)
	cfg := config.SchedulerConfig{
		Timezone: "Australia/Melbourne",
		SkipDays: []string{"Sunday"},
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, loc)}
	s, runner := newScheduler(t, cfg, clock)

	s.fire()
	require.Zero(t, runner.runs.Load())

	clock.now = time.Date(2026, 3, 2, 12, 0, 0, 0, loc)
	s.fire()
	require.EqualValues(t, 1, runner.runs.Load())
}

func TestNextRuns(t *testing.T) {
	t.Parallel()

	cfg := config.SchedulerConfig{
		Timezone: "Australia/Melbourne",
		RunTimes: []string{"12:00", "20:00"},
	}
	s, _ := newScheduler(t, cfg, &fakeClock{now: time.Now()})

	s.Start()
	defer s.Stop()

	next := s.NextRuns()
	require.Len(t, next, 2)
	for _, n := range next {
		require.True(t, n.After(time.Now().Add(-time.Minute)))
	}
}
