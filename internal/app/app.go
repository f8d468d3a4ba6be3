package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"sheetbot-go/internal/attachment"
	"sheetbot-go/internal/chat"
	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/config"
	"sheetbot-go/internal/cooldown"
	"sheetbot-go/internal/crashlog"
	"sheetbot-go/internal/logging"
	"sheetbot-go/internal/rowstore"
	"sheetbot-go/internal/scheduler"
	"sheetbot-go/internal/sheets"
	"sheetbot-go/internal/storage"
	"sheetbot-go/internal/streak"
	"sheetbot-go/internal/supervisor"
	"sheetbot-go/internal/telegram"
	"sheetbot-go/internal/worker"
)

const (
	eventQueueCap   = 256
	shutdownTimeout = 5 * time.Second
	sweepInterval   = time.Minute
	fetchTimeout    = time.Minute
)

// Deps are the collaborators an Application is built from. Store is used
// as given; callers wrap it with rowstore.WithTimeout when they need
// per-call deadlines.
type Deps struct {
	Store      rowstore.Store
	Transport  chat.Transport
	Authorizer chat.Authorizer
	Source     chat.Source
	Fetcher    scheduler.Fetcher
	// Ledger may be nil, which disables duplicate suppression.
	Ledger scheduler.Ledger
	Clock  clock.Clock
	// CrashFile may be nil.
	CrashFile io.Writer
}

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *log.Logger
	Store         rowstore.Store
	Scheduler     *scheduler.Scheduler
	Streaks       *streak.Service
	Router        *Router
	Cooldowns     *cooldown.InMemoryStore
	Crashes       *crashlog.Recorder
	WorkerPool    *worker.WorkerPool
	HttpServer    *http.Server
	MetricsServer *http.Server

	clock   clock.Clock
	source  chat.Source
	group   *supervisor.Group
	cancel  context.CancelFunc
	closers []io.Closer
}

// New creates an Application from configuration, connecting to the
// configured row store and to Telegram.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Application, error) {
	var closers []io.Closer
	fail := func(err error) (*Application, error) {
		closeAll(closers, logger)
		return nil, err
	}

	clk := clock.NewFixedOffset(cfg.Scheduler.TimezoneOffset)

	store, db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if db != nil {
		closers = append(closers, db)
	}

	tg, err := telegram.NewService(cfg.Telegram.BotToken, telegram.Options{
		OwnerID:   cfg.Telegram.OwnerID,
		AdminRole: cfg.Telegram.AdminRoleName,
	}, logger.WithPrefix("telegram"))
	if err != nil {
		return fail(err)
	}
	if err := tg.RegisterCommands(); err != nil {
		logger.Warn("failed to register bot commands", "error", err)
	}

	var ledger scheduler.Ledger
	if cfg.Scheduler.LedgerEnabled {
		ledger = scheduler.NewSQLiteLedger(db)
	}

	var crashFile io.Writer
	if cfg.Log.CrashFile != "" {
		f, err := logging.RotatingFile(cfg.Log.CrashFile)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, f)
		crashFile = f
	}

	app := NewWithDeps(cfg, Deps{
		Store:      store,
		Transport:  tg,
		Authorizer: tg,
		Source:     tg,
		Fetcher:    attachment.NewFetcher(&http.Client{Timeout: fetchTimeout}, cfg.AttachmentMaxBytes),
		Ledger:     ledger,
		Clock:      clk,
		CrashFile:  crashFile,
	}, logger)
	app.closers = closers
	return app, nil
}

// OpenStore connects the configured row store, wrapped with the per-call
// timeout. The SQLite database is opened when the store or the ledger
// needs it and is nil otherwise; the caller closes it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (rowstore.Store, *sql.DB, error) {
	var db *sql.DB
	if cfg.Store.Backend == config.BackendSQLite || cfg.Scheduler.LedgerEnabled {
		dbCfg := storage.DefaultConfig()
		dbCfg.Path = cfg.Store.DBPath
		var err error
		db, err = storage.Open(dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	var store rowstore.Store
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		store = rowstore.NewSQLite(db)
	default:
		creds, err := cfg.Credentials()
		if err == nil {
			store, err = sheets.Dial(ctx, creds, cfg.Store.SpreadsheetID, logger.WithPrefix("sheets"))
		}
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, fmt.Errorf("failed to connect to sheets: %w", err)
		}
	}
	return rowstore.WithTimeout(store, cfg.Store.CallTimeout.Duration), db, nil
}

// NewWithDeps wires an Application around the given collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *log.Logger) *Application {
	crashes := crashlog.New(deps.CrashFile, deps.Store, deps.Clock, logger.WithPrefix("crash"))

	executor := scheduler.NewExecutor(deps.Store, deps.Transport, deps.Fetcher, deps.Ledger, deps.Clock, logger.WithPrefix("dispatch"))
	sched := scheduler.New(deps.Store, executor, deps.Ledger, deps.Clock, scheduler.Config{
		Interval:        cfg.Scheduler.PollInterval.Duration,
		CatchUpWindow:   cfg.Scheduler.CatchUpWindow.Duration,
		Location:        clock.Zone(cfg.Scheduler.TimezoneOffset),
		LedgerRetention: cfg.Scheduler.LedgerRetention.Duration,
	}, logger.WithPrefix("scheduler"))

	streaks := streak.NewService(deps.Store, deps.Clock, logger.WithPrefix("streak"))
	cooldowns := cooldown.NewInMemoryStore(cfg.Streak.CommandCooldown.Duration)
	pool := worker.NewWorkerPool(cfg.Streak.Workers, eventQueueCap, 1)
	router := NewRouter(streaks, deps.Store, deps.Transport, deps.Authorizer, cooldowns, pool, crashes,
		cfg.Telegram.StreakChatID, logger.WithPrefix("commands"))

	app := &Application{
		Config:     cfg,
		Logger:     logger,
		Store:      deps.Store,
		Scheduler:  sched,
		Streaks:    streaks,
		Router:     router,
		Cooldowns:  cooldowns,
		Crashes:    crashes,
		WorkerPool: pool,
		clock:      deps.Clock,
		source:     deps.Source,
	}

	app.HttpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.MetricsPort != 0 {
		app.MetricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:           metricsRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return app
}

// Start begins the application's services. Each service runs as a
// supervised unit that is restarted on failure without touching the
// others.
func (a *Application) Start(ctx context.Context) error {
	if a.cancel != nil {
		return errors.New("application already started")
	}
	ctx, a.cancel = context.WithCancel(ctx)

	a.Logger.Info("starting application services")
	a.WorkerPool.Start()

	a.group = supervisor.New(a.Config.RestartDelay.Duration, a.Crashes, a.Logger.WithPrefix("supervisor"))
	a.group.Add("reconciler", a.Scheduler.Run)
	if a.source != nil {
		a.group.Add("chat-updates", func(ctx context.Context) error {
			return a.source.Listen(ctx, a.Router.Handle)
		})
	}
	a.group.Add("keepalive", func(ctx context.Context) error {
		return serve(ctx, a.HttpServer, a.Logger)
	})
	if a.MetricsServer != nil {
		a.group.Add("metrics", func(ctx context.Context) error {
			return serve(ctx, a.MetricsServer, a.Logger)
		})
	}
	a.group.Add("cooldown-sweeper", func(ctx context.Context) error {
		return a.Cooldowns.Run(ctx, sweepInterval)
	})
	a.group.Start(ctx)
	return nil
}

// Stop shuts the units down, drains queued chat events and releases
// resources.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("stopping application services")
	if a.cancel != nil {
		a.cancel()
		done := make(chan struct{})
		go func() {
			a.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.Logger.Warn("timed out waiting for units to stop")
		}
	}

	a.WorkerPool.Stop()
	closeAll(a.closers, a.Logger)
	a.Logger.Info("application stopped")
	return nil
}

// Run starts the application and blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*shutdownTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}

// serve runs srv until ctx is done.
func serve(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", "addr", srv.Addr, "error", err)
		}
		<-errCh
		return nil
	}
}

func closeAll(closers []io.Closer, logger *log.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}
