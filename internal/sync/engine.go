// Package sync orchestrates full synchronization runs: course
// discovery, change detection, and fan-out to the extraction workers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canvaslabs/canvas-sync/internal/blob/local"
	"github.com/canvaslabs/canvas-sync/internal/canvas"
	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/dispatcher"
	"github.com/canvaslabs/canvas-sync/internal/extract"
	"github.com/canvaslabs/canvas-sync/internal/fingerprint"
	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/queue/memory"
	"github.com/canvaslabs/canvas-sync/internal/state"
	"github.com/canvaslabs/canvas-sync/internal/store"
	"github.com/canvaslabs/canvas-sync/internal/worker"
)

// ErrSyncActive is returned when a run is requested while one is in flight.
var ErrSyncActive = errors.New("sync: a run is already active")

// API is the slice of the Canvas client the engine needs.
type API interface {
	worker.Downloader
	ListActiveCourses(ctx context.Context) ([]canvas.Course, error)
	ListModules(ctx context.Context, courseID int64) ([]canvas.Module, error)
	ListModuleItems(ctx context.Context, courseID, moduleID int64) ([]canvas.ModuleItem, error)
	GetPage(ctx context.Context, courseID int64, pageURL string) (canvas.Page, error)
	GetFile(ctx context.Context, fileID int64) (canvas.File, error)
	ListAssignments(ctx context.Context, courseID int64) ([]canvas.Assignment, error)
	ListQuizzes(ctx context.Context, courseID int64) ([]canvas.Quiz, error)
	UpcomingDueDates(ctx context.Context, courseID int64, now time.Time, window time.Duration) ([]canvas.DueItem, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() string
}

// Stores bundles the persistence interfaces the engine writes to.
type Stores struct {
	Courses store.CourseStore
	Docs    store.DocumentStore
	Runs    store.RunStore
}

// Engine runs full syncs. At most one run is active at a time.
type Engine struct {
	cfg      config.Config
	api      API
	stores   Stores
	states   *state.Manager
	registry *extract.Registry
	chunks   *chunker.Chunker
	cache    *local.Cache
	clock    Clock
	ids      IDGenerator
	log      *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	last    *store.SyncRun
}

// NewEngine wires an Engine. The cache may be nil.
func NewEngine(
	cfg config.Config,
	api API,
	stores Stores,
	states *state.Manager,
	registry *extract.Registry,
	chunks *chunker.Chunker,
	cache *local.Cache,
	clock Clock,
	ids IDGenerator,
) *Engine {
	return &Engine{
		cfg:      cfg,
		api:      api,
		stores:   stores,
		states:   states,
		registry: registry,
		chunks:   chunks,
		cache:    cache,
		clock:    clock,
		ids:      ids,
		log:      logging.L.Named("sync"),
	}
}

// Status reports whether a run is active and the most recent run.
func (e *Engine) Status() (bool, *store.SyncRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running.Load(), e.last
}

// DueSoon returns upcoming due dates for a course within the window.
func (e *Engine) DueSoon(ctx context.Context, courseID int64, window time.Duration) ([]canvas.DueItem, error) {
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	return e.api.UpcomingDueDates(ctx, courseID, e.clock.Now(), window)
}

// runStats aggregates worker outcomes for one run.
type runStats struct {
	documents atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	chunks    atomic.Int64
	bytes     atomic.Int64
}

// Report implements worker.Reporter.
func (s *runStats) Report(o worker.Outcome) {
	switch o.Status {
	case worker.OutcomeProcessed:
		s.documents.Add(1)
	case worker.OutcomeSkipped:
		s.skipped.Add(1)
	case worker.OutcomeFailed:
		s.failed.Add(1)
	}
	s.chunks.Add(int64(o.Chunks))
	s.bytes.Add(o.Bytes)
}

// Run executes one full sync and records it. Only one run may be
// active; concurrent calls get ErrSyncActive.
func (e *Engine) Run(ctx context.Context, trigger string) (store.SyncRun, error) {
	if !e.running.CompareAndSwap(false, true) {
		return store.SyncRun{}, ErrSyncActive
	}
	defer e.running.Store(false)

	start := e.clock.Now()
	run := store.SyncRun{
		ID:        e.ids.NewID(),
		Trigger:   trigger,
		Status:    "running",
		StartedAt: start,
	}
	if err := e.stores.Runs.StartRun(ctx, run); err != nil {
		return store.SyncRun{}, fmt.Errorf("record run start: %w", err)
	}
	e.setLast(run)
	e.log.Info("sync run started", zap.String("run", run.ID), zap.String("trigger", trigger))

	stats := &runStats{}
	courses, runErr := e.execute(ctx, stats)

	finished := e.clock.Now()
	run.FinishedAt = &finished
	run.Stats = store.RunStats{
		Courses:    courses,
		Documents:  int(stats.documents.Load()),
		Skipped:    int(stats.skipped.Load()),
		Failed:     int(stats.failed.Load()),
		Chunks:     int(stats.chunks.Load()),
		BytesFetch: int(stats.bytes.Load()),
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	} else {
		run.Status = "completed"
	}

	if err := e.stores.Runs.FinishRun(ctx, run); err != nil {
		e.log.Error("record run finish", zap.String("run", run.ID), zap.Error(err))
	}
	e.setLast(run)
	metrics.ObserveSyncRun(trigger, run.Status, finished.Sub(start))
	e.log.Info("sync run finished",
		zap.String("run", run.ID),
		zap.String("status", run.Status),
		zap.Int("courses", run.Stats.Courses),
		zap.Int("documents", run.Stats.Documents),
		zap.Int("skipped", run.Stats.Skipped),
		zap.Int("failed", run.Stats.Failed))
	return run, runErr
}

func (e *Engine) setLast(run store.SyncRun) {
	e.mu.Lock()
	e.last = &run
	e.mu.Unlock()
}

// execute walks all courses, feeding the worker pool, and returns how
// many courses were synced.
func (e *Engine) execute(ctx context.Context, stats *runStats) (int, error) {
	courses, err := e.api.ListActiveCourses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list courses: %w", err)
	}

	queue := memory.NewQueue(e.cfg.Sync.QueueDepth)
	concurrency := e.cfg.Sync.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	workers := make([]dispatcher.Runner, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(queue, e.api, e.registry, e.chunks,
			e.stores.Docs, e.states, e.cache, e.clock, stats))
	}

	done := make(chan struct{})
	go func() {
		dispatcher.New(workers...).Run(ctx)
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.Sync.MaxConcurrentCourses
	if limit <= 0 {
		limit = 3
	}
	g.SetLimit(limit)

	synced := 0
	var countMu sync.Mutex
	for _, course := range courses {
		if !e.courseEnabled(course.ID) {
			continue
		}
		g.Go(func() error {
			if err := e.syncCourse(gctx, course, queue); err != nil {
				e.log.Error("course sync failed",
					zap.Int64("course", course.ID), zap.Error(err))
				stats.failed.Add(1)
				return nil
			}
			countMu.Lock()
			synced++
			countMu.Unlock()
			return nil
		})
	}
	enqueueErr := g.Wait()
	queue.Close()
	<-done

	return synced, enqueueErr
}

// courseEnabled applies the configured allowlist. With no courses
// configured every active enrollment is synced.
func (e *Engine) courseEnabled(courseID int64) bool {
	if len(e.cfg.Courses) == 0 {
		return true
	}
	c, ok := e.cfg.Courses[strconv.FormatInt(courseID, 10)]
	return ok && c.Enabled
}

func (e *Engine) syncCourse(ctx context.Context, course canvas.Course, queue worker.Queue) error {
	now := e.clock.Now()
	courseKey := strconv.FormatInt(course.ID, 10)

	rec := store.Course{
		CanvasID:     course.ID,
		Name:         course.Name,
		CourseCode:   course.CourseCode,
		Fingerprint:  fingerprint.Course(course),
		LastSyncedAt: &now,
	}
	if course.Term != nil {
		rec.TermName = course.Term.Name
	}
	if err := e.stores.Courses.UpsertCourse(ctx, rec); err != nil {
		return err
	}

	modules, err := e.api.ListModules(ctx, course.ID)
	if err != nil {
		return err
	}
	for _, mod := range modules {
		if len(e.cfg.Courses) > 0 && !e.cfg.ModuleEnabled(courseKey, mod.ID) {
			continue
		}
		if err := e.syncModule(ctx, course, mod, queue); err != nil {
			return err
		}
	}

	if err := e.syncAssessments(ctx, course, queue); err != nil {
		return err
	}

	if days := e.cfg.Sync.RetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		removed, err := e.stores.Docs.DeleteStaleDocuments(ctx, course.ID, cutoff)
		if err != nil {
			return err
		}
		if removed > 0 {
			e.log.Info("cleaned stale documents",
				zap.Int64("course", course.ID), zap.Int64("removed", removed))
		}
		if e.cache != nil {
			pruned, err := e.cache.Prune(strconv.FormatInt(course.ID, 10), cutoff)
			if err != nil {
				e.log.Warn("cache prune failed",
					zap.Int64("course", course.ID), zap.Error(err))
			} else if pruned > 0 {
				e.log.Info("pruned cached downloads",
					zap.Int64("course", course.ID), zap.Int("pruned", pruned))
			}
		}
	}
	return nil
}

// syncModule enqueues jobs for changed items. Items are enumerated on
// every run; change detection happens per entity, since an item's own
// content (a page body, a re-uploaded file) can change without touching
// the module's metadata. Retries of failed items also depend on seeing
// the item again.
func (e *Engine) syncModule(ctx context.Context, course canvas.Course, mod canvas.Module, queue worker.Queue) error {
	items, err := e.api.ListModuleItems(ctx, course.ID, mod.ID)
	if err != nil {
		return err
	}

	for _, item := range items {
		switch item.Type {
		case canvas.ItemTypeFile:
			if err := e.enqueueFile(ctx, course, mod, item, queue); err != nil {
				return err
			}
		case canvas.ItemTypePage:
			if err := e.enqueuePage(ctx, course, mod, item, queue); err != nil {
				return err
			}
		}
	}

	moduleKey := state.Key("module", fmt.Sprintf("%d:%d", course.ID, mod.ID))
	return e.states.MarkCompleted(ctx, moduleKey, "module", fingerprint.Module(mod, items))
}

func (e *Engine) enqueueFile(ctx context.Context, course canvas.Course, mod canvas.Module, item canvas.ModuleItem, queue worker.Queue) error {
	return e.enqueueFileID(ctx, course, mod.ID, item.ContentID, queue)
}

func (e *Engine) enqueueFileID(ctx context.Context, course canvas.Course, moduleID, fileID int64, queue worker.Queue) error {
	file, err := e.api.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			return nil
		}
		return err
	}
	if file.Locked || e.skipFile(course.ID, file.DisplayName) {
		return nil
	}

	fp := fingerprint.File(file)
	key := state.Key("file", file.ID)
	if !e.states.ShouldProcess(ctx, key, fp) {
		return nil
	}
	return queue.Enqueue(ctx, worker.Job{
		Kind:        store.KindFile,
		CourseID:    course.ID,
		ModuleID:    moduleID,
		Title:       file.DisplayName,
		EntityKey:   key,
		Fingerprint: fp,
		MaxBytes:    e.cfg.CourseMaxFileBytes(strconv.FormatInt(course.ID, 10)),
		File:        file,
	})
}

func (e *Engine) enqueuePage(ctx context.Context, course canvas.Course, mod canvas.Module, item canvas.ModuleItem, queue worker.Queue) error {
	page, err := e.api.GetPage(ctx, course.ID, item.PageURL)
	if err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			return nil
		}
		return err
	}
	if !page.Published {
		return nil
	}

	// Pages often link lecture files that never appear as module items.
	for _, fileID := range canvas.EmbeddedFileIDs(page.Body) {
		if err := e.enqueueFileID(ctx, course, mod.ID, fileID, queue); err != nil {
			e.log.Warn("embedded file enqueue failed",
				zap.Int64("course_id", course.ID),
				zap.Int64("file_id", fileID),
				zap.Error(err))
		}
	}

	fp := fingerprint.Page(page)
	key := state.Key("page", fmt.Sprintf("%d:%s", course.ID, page.URL))
	if !e.states.ShouldProcess(ctx, key, fp) {
		return nil
	}
	return queue.Enqueue(ctx, worker.Job{
		Kind:        store.KindPage,
		CourseID:    course.ID,
		ModuleID:    mod.ID,
		Title:       page.Title,
		EntityKey:   key,
		Fingerprint: fp,
		Page:        page,
	})
}

// syncAssessments enqueues changed assignments and quizzes so their
// descriptions and due dates land in the document store.
func (e *Engine) syncAssessments(ctx context.Context, course canvas.Course, queue worker.Queue) error {
	assignments, err := e.api.ListAssignments(ctx, course.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if !a.Published {
			continue
		}
		fp := fingerprint.Assignment(a)
		key := state.Key("assignment", a.ID)
		if !e.states.ShouldProcess(ctx, key, fp) {
			continue
		}
		err := queue.Enqueue(ctx, worker.Job{
			Kind:        store.KindAssignment,
			CourseID:    course.ID,
			Title:       a.Name,
			EntityKey:   key,
			Fingerprint: fp,
			Assignment:  a,
		})
		if err != nil {
			return err
		}
	}

	quizzes, err := e.api.ListQuizzes(ctx, course.ID)
	if err != nil {
		return err
	}
	for _, q := range quizzes {
		if !q.Published {
			continue
		}
		fp := fingerprint.Quiz(q)
		key := state.Key("quiz", q.ID)
		if !e.states.ShouldProcess(ctx, key, fp) {
			continue
		}
		err := queue.Enqueue(ctx, worker.Job{
			Kind:        store.KindQuiz,
			CourseID:    course.ID,
			Title:       q.Title,
			EntityKey:   key,
			Fingerprint: fp,
			Quiz:        q,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// skipFile applies the configured filename skip patterns and the
// per-course file type allowlist.
func (e *Engine) skipFile(courseID int64, name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range e.cfg.Sync.SkipFilePatterns {
		if ok, _ := path.Match(strings.ToLower(pattern), lower); ok {
			return true
		}
	}
	allowed := e.cfg.CourseFileTypes(strconv.FormatInt(courseID, 10))
	if len(allowed) == 0 {
		return false
	}
	ext := strings.TrimPrefix(path.Ext(lower), ".")
	for _, t := range allowed {
		if strings.EqualFold(t, ext) {
			return false
		}
	}
	return true
}
