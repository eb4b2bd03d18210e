// Package app initializes and holds the long-lived services of the
// sync service.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/api"
	"github.com/canvaslabs/canvas-sync/internal/blob/local"
	"github.com/canvaslabs/canvas-sync/internal/canvas"
	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/clock/system"
	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/extract"
	"github.com/canvaslabs/canvas-sync/internal/id/uuid"
	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/scheduler"
	"github.com/canvaslabs/canvas-sync/internal/state"
	"github.com/canvaslabs/canvas-sync/internal/store"
	"github.com/canvaslabs/canvas-sync/internal/store/memory"
	"github.com/canvaslabs/canvas-sync/internal/store/postgres"
	syncer "github.com/canvaslabs/canvas-sync/internal/sync"
)

// storeSet is the union of store interfaces both backends implement.
type storeSet interface {
	store.CourseStore
	store.DocumentStore
	store.StateStore
	store.RunStore
	store.SearchStore
}

// App wires the Canvas client, stores, engine, scheduler, and API.
type App struct {
	Cfg       config.Config
	Engine    *syncer.Engine
	Server    *api.Server
	Scheduler *scheduler.Scheduler

	log    *zap.Logger
	closer func()
}

// New builds the application from configuration. It fails fast when a
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.L.Named("app")
	metrics.Init()

	client, err := canvas.NewClient(canvas.Options{
		BaseURL:    cfg.Canvas.BaseURL,
		Token:      cfg.Canvas.Token,
		Timeout:    cfg.CanvasTimeout(),
		MaxRetries: cfg.Canvas.MaxRetries,
		PerPage:    cfg.Canvas.PerPage,
		RateRPS:    cfg.Canvas.RateLimitRPS,
		RateBurst:  cfg.Canvas.RateLimitBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("canvas client: %w", err)
	}

	var (
		backend storeSet
		closer  = func() {}
	)
	if cfg.DB.DSN != "" {
		pg, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		backend = pg
		closer = pg.Close
		log.Info("using postgres store")
	} else {
		backend = memory.NewStore()
		log.Warn("db.dsn not set, using in-memory store")
	}

	var cache *local.Cache
	if cfg.Cache.Dir != "" {
		cache, err = local.New(cfg.Cache.Dir)
		if err != nil {
			closer()
			return nil, fmt.Errorf("download cache: %w", err)
		}
	}

	clk := system.New()
	ids := uuid.New()
	states := state.NewManager(backend, clk, cfg.Sync.MaxRetries)

	engine := syncer.NewEngine(cfg, client,
		syncer.Stores{Courses: backend, Docs: backend, Runs: backend},
		states, extract.NewRegistry(),
		chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.MinChunkSize),
		cache, clk, ids)

	var sched *scheduler.Scheduler
	var schedStatus api.Schedule
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler, engine, clk)
		if err != nil {
			closer()
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		schedStatus = sched
	}

	server := api.NewServer(engine,
		api.Stores{Courses: backend, Docs: backend, Runs: backend, Search: backend},
		ids, cfg, schedStatus)

	a := &App{
		Cfg:       cfg,
		Engine:    engine,
		Server:    server,
		Scheduler: sched,
		log:       log,
		closer:    closer,
	}

	log.Info("application services initialized",
		zap.Bool("scheduler", a.Scheduler != nil),
		zap.Int("workers", cfg.Sync.Concurrency))
	return a, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.closer()
}
