// Package rowstore defines the tabular store the bot keeps its schedule,
// streaks, and logs in, and provides the in-memory and SQLite backends.
// The Google Sheets backend lives in package sheets.
package rowstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable marks a transient failure: network, auth, quota or a
	// busy backend. Callers retry on the next natural trigger.
	ErrUnavailable = errors.New("row store unavailable")
	// ErrTableNotFound is returned when a table is opened without a header
	// and does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrRowOutOfRange is returned when a row position does not exist.
	ErrRowOutOfRange = errors.New("row out of range")
)

// Row is one table row as text cells. Trailing empty cells may be absent.
type Row []string

// Cell returns the cell at the 0-based column index, or "" when the row is
// shorter than that.
func (r Row) Cell(col int) string {
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// Empty reports whether every cell is blank.
func (r Row) Empty() bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Table is a handle to a named table.
type Table struct {
	Name string
}

// Store is a tabular row store. Row positions are 1-based and count the
// header row, so the first data row is position 2. Column indexes are
// 0-based.
type Store interface {
	// EnsureTable returns a handle to the named table. When header is
	// non-nil a missing table is created with header as its first row;
	// when header is nil a missing table yields ErrTableNotFound.
	EnsureTable(ctx context.Context, name string, header Row) (Table, error)
	// ReadAllRows returns every row including the header, in order.
	ReadAllRows(ctx context.Context, t Table) ([]Row, error)
	// AppendRow adds a row after the last one.
	AppendRow(ctx context.Context, t Table, cells Row) error
	// UpdateCell overwrites one cell.
	UpdateCell(ctx context.Context, t Table, row, col int, value string) error
}

// IsTransient reports whether err is worth retrying on the next trigger.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
