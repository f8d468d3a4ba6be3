package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LedgerStatus is the delivery state of a slot.
type LedgerStatus string

const (
	// LedgerUnconfirmed: the message was sent but the row is not yet marked.
	LedgerUnconfirmed LedgerStatus = "delivered-unconfirmed"
	// LedgerConfirmed: the message was sent and the row is marked.
	LedgerConfirmed LedgerStatus = "delivered-confirmed"
)

// ErrLedgerMiss is returned when confirming a slot that was never recorded.
var ErrLedgerMiss = errors.New("slot not in ledger")

// LedgerEntry records one delivered slot.
type LedgerEntry struct {
	SlotHash    string
	RowKey      string
	Destination string
	MessageID   string
	Status      LedgerStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ledger remembers delivered slots so a failed status write does not lead
// to a second send.
type Ledger interface {
	// Lookup returns the entry for slot, or nil if it was never delivered.
	Lookup(ctx context.Context, slot string) (*LedgerEntry, error)
	Record(ctx context.Context, e *LedgerEntry) error
	Confirm(ctx context.Context, slot string) error
	// Prune deletes entries older than age and returns how many went.
	Prune(ctx context.Context, age time.Duration) (int64, error)
}

// SQLiteLedger implements Ledger using SQLite
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger creates a ledger over a migrated database.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (l *SQLiteLedger) Lookup(ctx context.Context, slot string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := l.db.QueryRowContext(ctx, `
		SELECT slot_hash, row_key, destination, message_id, status, created_at, updated_at
		FROM dispatch_ledger WHERE slot_hash = ?
	`, slot).Scan(&e.SlotHash, &e.RowKey, &e.Destination, &e.MessageID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup slot: %w", err)
	}
	return &e, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, e *LedgerEntry) error {
	now := l.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = LedgerUnconfirmed
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dispatch_ledger (slot_hash, row_key, destination, message_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot_hash) DO UPDATE SET
			row_key = excluded.row_key,
			destination = excluded.destination,
			message_id = excluded.message_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, e.SlotHash, e.RowKey, e.Destination, e.MessageID, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record slot: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Confirm(ctx context.Context, slot string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE dispatch_ledger SET status = ?, updated_at = ? WHERE slot_hash = ?`,
		LedgerConfirmed, l.now(), slot)
	if err != nil {
		return fmt.Errorf("confirm slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm slot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLedgerMiss, slot)
	}
	return nil
}

func (l *SQLiteLedger) Prune(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("prune age must be positive")
	}
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM dispatch_ledger WHERE created_at < ?`, l.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return res.RowsAffected()
}

// nopLedger is used when the ledger is disabled.
type nopLedger struct{}

func (nopLedger) Lookup(context.Context, string) (*LedgerEntry, error) { return nil, nil }
func (nopLedger) Record(context.Context, *LedgerEntry) error           { return nil }
func (nopLedger) Confirm(context.Context, string) error                { return nil }
func (nopLedger) Prune(context.Context, time.Duration) (int64, error)  { return 0, nil }
