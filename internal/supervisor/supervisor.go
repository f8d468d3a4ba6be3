// Package supervisor keeps long-running units alive: a unit that fails or
// panics is reported and restarted after a delay until the group stops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"sheetbot-go/internal/metrics"
)

// Reporter receives unit failures.
type Reporter interface {
	Record(ctx context.Context, err error, stack []byte)
}

// RunFunc is a unit body. It should return nil once ctx is done.
type RunFunc func(ctx context.Context) error

type unit struct {
	name string
	run  RunFunc
}

// Group runs units concurrently.
type Group struct {
	delay    time.Duration
	reporter Reporter
	logger   *log.Logger

	units []unit
	wg    sync.WaitGroup
}

// New creates a Group that waits delay between restarts. reporter may be
// nil.
func New(delay time.Duration, reporter Reporter, logger *log.Logger) *Group {
	return &Group{delay: delay, reporter: reporter, logger: logger}
}

// Add registers a unit. Units added after Start are not run.
func (g *Group) Add(name string, run RunFunc) {
	g.units = append(g.units, unit{name: name, run: run})
}

// Start launches every unit.
func (g *Group) Start(ctx context.Context) {
	for _, u := range g.units {
		g.wg.Add(1)
		go g.supervise(ctx, u)
	}
}

// Wait blocks until every unit has returned for good.
func (g *Group) Wait() {
	g.wg.Wait()
}

func (g *Group) supervise(ctx context.Context, u unit) {
	defer g.wg.Done()
	logger := g.logger.With("unit", u.name)

	for {
		stack, err := runSafely(ctx, u.run)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("unit exited unexpectedly")
		}
		logger.Error("unit failed, restarting", "error", err, "delay", g.delay)
		if g.reporter != nil {
			g.reporter.Record(ctx, fmt.Errorf("%s: %w", u.name, err), stack)
		}
		metrics.UnitRestarts.WithLabelValues(u.name).Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(g.delay):
		}
	}
}

func runSafely(ctx context.Context, run RunFunc) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = debug.Stack()
		}
	}()
	return nil, run(ctx)
}
