// Package scheduler triggers sync runs at configured local times.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/store"
	syncer "github.com/canvaslabs/canvas-sync/internal/sync"
)

// Runner starts sync runs. Implemented by the sync engine.
type Runner interface {
	Run(ctx context.Context, trigger string) (store.SyncRun, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler fires the engine at each configured run time, honoring
// skip days and skip dates in the configured timezone.
type Scheduler struct {
	cfg       config.SchedulerConfig
	runner    Runner
	clock     Clock
	loc       *time.Location
	cron      *cron.Cron
	skipDays  map[time.Weekday]bool
	skipDates map[string]bool
	log       *zap.Logger
}

// New validates the schedule config and builds a Scheduler.
func New(cfg config.SchedulerConfig, runner Runner, clock Clock) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "Australia/Melbourne"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	skipDays := make(map[time.Weekday]bool)
	for _, day := range cfg.SkipDays {
		wd, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}
		skipDays[wd] = true
	}

	skipDates := make(map[string]bool)
	for _, d := range cfg.SkipDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("scheduler skip date %q: %w", d, err)
		}
		skipDates[d] = true
	}

	s := &Scheduler{
		cfg:       cfg,
		runner:    runner,
		clock:     clock,
		loc:       loc,
		cron:      cron.New(cron.WithLocation(loc)),
		skipDays:  skipDays,
		skipDates: skipDates,
		log:       logging.L.Named("scheduler"),
	}

	for _, rt := range cfg.RunTimes {
		parsed, err := time.Parse("15:04", rt)
		if err != nil {
			return nil, fmt.Errorf("scheduler run time %q: %w", rt, err)
		}
		spec := fmt.Sprintf("%d %d * * *", parsed.Minute(), parsed.Hour())
		if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", rt, err)
		}
	}
	return s, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	days := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	wd, ok := days[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("scheduler skip day %q is not a weekday", name)
	}
	return wd, nil
}

// ShouldRun reports whether a trigger at the given instant is allowed.
func (s *Scheduler) ShouldRun(at time.Time) bool {
	local := at.In(s.loc)
	if s.skipDays[local.Weekday()] {
		return false
	}
	return !s.skipDates[local.Format("2006-01-02")]
}

func (s *Scheduler) fire() {
	now := s.clock.Now()
	if !s.ShouldRun(now) {
		s.log.Info("skipping scheduled run", zap.Time("at", now.In(s.loc)))
		return
	}
	run, err := s.runner.Run(context.Background(), "scheduled")
	if errors.Is(err, syncer.ErrSyncActive) {
		s.log.Warn("scheduled run skipped, sync already active")
		return
	}
	if err != nil {
		s.log.Error("scheduled run failed", zap.Error(err))
		return
	}
	s.log.Info("scheduled run finished",
		zap.String("run", run.ID), zap.String("status", run.Status))
}

// Start begins firing at the configured times.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("timezone", s.loc.String()),
		zap.Strings("run_times", s.cfg.RunTimes))
}

// Stop halts scheduling and waits for an in-flight trigger to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// NextRuns returns the upcoming fire times, soonest first.
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	times := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		times = append(times, e.Next)
	}
	return times
}
