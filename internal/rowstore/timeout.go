package rowstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sheetbot-go/internal/metrics"
)

// Guarded wraps a Store with a per-call deadline and call metrics. A call
// that exceeds the deadline fails with ErrUnavailable.
type Guarded struct {
	next    Store
	timeout time.Duration
}

// WithTimeout returns s bounded by timeout per call. A non-positive timeout
// only adds metrics.
func WithTimeout(s Store, timeout time.Duration) *Guarded {
	return &Guarded{next: s, timeout: timeout}
}

func (g *Guarded) call(ctx context.Context, op Op, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	metrics.StoreCallDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %s timed out after %s: %v", ErrUnavailable, op, g.timeout, err)
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreCalls.WithLabelValues(string(op), result).Inc()
	return err
}

func (g *Guarded) EnsureTable(ctx context.Context, name string, header Row) (Table, error) {
	var t Table
	err := g.call(ctx, OpEnsure, func(ctx context.Context) error {
		var err error
		t, err = g.next.EnsureTable(ctx, name, header)
		return err
	})
	return t, err
}

func (g *Guarded) ReadAllRows(ctx context.Context, t Table) ([]Row, error) {
	var rows []Row
	err := g.call(ctx, OpRead, func(ctx context.Context) error {
		var err error
		rows, err = g.next.ReadAllRows(ctx, t)
		return err
	})
	return rows, err
}

func (g *Guarded) AppendRow(ctx context.Context, t Table, cells Row) error {
	return g.call(ctx, OpAppend, func(ctx context.Context) error {
		return g.next.AppendRow(ctx, t, cells)
	})
}

func (g *Guarded) UpdateCell(ctx context.Context, t Table, row, col int, value string) error {
	return g.call(ctx, OpUpdate, func(ctx context.Context) error {
		return g.next.UpdateCell(ctx, t, row, col, value)
	})
}
