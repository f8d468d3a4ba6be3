// Package crashlog records unexpected failures to a local file and to the
// CrashLogs table.
package crashlog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/rowstore"
)

// Table is the crash table's name.
const Table = "CrashLogs"

// Header is written when the table is created.
var Header = rowstore.Row{"Timestamp", "Error", "Traceback"}

// maxCell keeps tracebacks under the spreadsheet cell limit.
const maxCell = 45000

const timeLayout = "2006-01-02 15:04:05"

// Recorder writes crash reports. Both sinks are best effort: a failing
// sink is logged and never masks the original failure.
type Recorder struct {
	mu     sync.Mutex
	file   io.Writer
	store  rowstore.Store
	clock  clock.Clock
	logger *log.Logger
}

// New creates a Recorder. file and store may each be nil.
func New(file io.Writer, store rowstore.Store, clk clock.Clock, logger *log.Logger) *Recorder {
	return &Recorder{file: file, store: store, clock: clk, logger: logger}
}

// Record writes err and its stack to every sink.
func (r *Recorder) Record(ctx context.Context, err error, stack []byte) {
	ts := r.clock.Now().Format(timeLayout)
	r.logger.Error("crash recorded", "error", err)

	if r.file != nil {
		r.mu.Lock()
		_, werr := fmt.Fprintf(r.file, "[%s] CRASH: %v\n%s\n%s\n", ts, err, stack, "--------------------")
		r.mu.Unlock()
		if werr != nil {
			r.logger.Warn("failed to write crash file", "error", werr)
		}
	}

	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	tbl, terr := r.store.EnsureTable(ctx, Table, Header)
	if terr == nil {
		terr = r.store.AppendRow(ctx, tbl, rowstore.Row{ts, truncate(err.Error()), truncate(string(stack))})
	}
	if terr != nil {
		r.logger.Warn("failed to record crash in table", "error", terr)
	}
}

func truncate(s string) string {
	if len(s) <= maxCell {
		return s
	}
	return s[:maxCell] + "…"
}
