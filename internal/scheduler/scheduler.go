// Package scheduler reconciles the Schedule table against the clock: once
// a minute it reads every row, picks the unsent ones due now, and hands
// each to the Executor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/metrics"
	"sheetbot-go/internal/rowstore"
)

// Config tunes the reconciliation loop.
type Config struct {
	// Interval between ticks. One minute runs on the minute boundary.
	Interval time.Duration
	// CatchUpWindow lets a tick pick up slots missed within this window
	// on the same date. Zero matches the exact minute only.
	CatchUpWindow time.Duration
	// Location is the zone the tick schedule is evaluated in.
	Location *time.Location
	// LedgerRetention is how long ledger entries are kept. Zero keeps them.
	LedgerRetention time.Duration
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	At        time.Time
	Rows      int
	Malformed int
	Results   []Result
	Err       error
}

// Delivered counts results that reached the chat.
func (r TickReport) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome.Delivered() {
			n++
		}
	}
	return n
}

// Scheduler runs reconciliation ticks.
type Scheduler struct {
	store    rowstore.Store
	executor *Executor
	ledger   Ledger
	clock    clock.Clock
	cfg      Config
	logger   *log.Logger

	tickMu sync.Mutex

	mu   sync.Mutex
	last TickReport
}

// New creates a Scheduler. ledger may be nil.
func New(store rowstore.Store, executor *Executor, ledger Ledger, clk clock.Clock, cfg Config, logger *log.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if ledger == nil {
		ledger = nopLedger{}
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		ledger:   ledger,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Tick performs one reconciliation pass. Ticks never overlap; a store
// failure ends the pass and the next tick retries from scratch.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	now := s.clock.Now()
	report := TickReport{At: now}
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if report.Err != nil {
			result = "error"
		}
		metrics.TicksTotal.WithLabelValues(result).Inc()
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}()

	table, err := s.store.EnsureTable(ctx, ScheduleTable, nil)
	if err != nil {
		report.Err = fmt.Errorf("open schedule: %w", err)
		s.logStoreError(report.Err)
		return report
	}
	rows, err := s.store.ReadAllRows(ctx, table)
	if err != nil {
		report.Err = fmt.Errorf("read schedule: %w", err)
		s.logStoreError(report.Err)
		return report
	}
	if len(rows) > 0 {
		report.Rows = len(rows) - 1
	}

	window := int(s.cfg.CatchUpWindow / time.Minute)
	due, malformed := selectDue(rows, clock.DateOf(now), clock.WallTimeOf(now), window)
	report.Malformed = len(malformed)
	for _, err := range malformed {
		metrics.MalformedRows.Inc()
		s.logger.Warn("skipping malformed schedule row", "error", err)
	}

	for _, entry := range due {
		report.Results = append(report.Results, s.dispatch(ctx, table, entry))
	}
	if len(due) > 0 {
		s.logger.Info("tick complete", "due", len(due), "delivered", report.Delivered())
	}
	return report
}

// dispatch isolates one row so a panic does not abort the rest of the tick.
func (s *Scheduler) dispatch(ctx context.Context, table rowstore.Table, entry Entry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panicked", "row", entry.Row, "panic", r)
			res = finish(Result{Row: entry.Row, Slot: entry.SlotHash(), Outcome: OutcomeSendFailed, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	return s.executor.Dispatch(ctx, table, entry)
}

func (s *Scheduler) logStoreError(err error) {
	if rowstore.IsTransient(err) {
		s.logger.Warn("schedule store unavailable, retrying next tick", "error", err)
		return
	}
	s.logger.Error("tick failed", "error", err)
}

// Last returns the most recent tick report.
func (s *Scheduler) Last() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run drives ticks from a cron schedule until ctx is done, then waits for
// an in-flight tick to finish. Ticks run on a context detached from ctx
// so shutdown never interrupts a dispatch half way.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	tickCtx := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(tickSpec(s.cfg.Interval), func() { s.Tick(tickCtx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if s.cfg.LedgerRetention > 0 {
		if _, err := c.AddFunc("@daily", func() { s.prune(tickCtx) }); err != nil {
			return fmt.Errorf("schedule ledger prune: %w", err)
		}
	}

	c.Start()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "zone", s.cfg.Location)
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) prune(ctx context.Context) {
	n, err := s.ledger.Prune(ctx, s.cfg.LedgerRetention)
	if err != nil {
		s.logger.Warn("ledger prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned ledger", "entries", n)
	}
}

func tickSpec(interval time.Duration) string {
	if interval == time.Minute {
		return "* * * * *"
	}
	return "@every " + interval.String()
}

// cronLogger adapts the bot logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
