package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"sheetbot-go/internal/chat"
	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/metrics"
	"sheetbot-go/internal/rowstore"
)

// Outcome is the result of one dispatch attempt.
type Outcome string

const (
	OutcomeUnresolved           Outcome = "destination-unresolved"
	OutcomeSendFailed           Outcome = "send-failed"
	OutcomeDeliveredUnconfirmed Outcome = "delivered-unconfirmed"
	OutcomeDeliveredConfirmed   Outcome = "delivered-confirmed"
	OutcomeRowMoved             Outcome = "row-moved"
)

// Delivered reports whether the message reached the chat.
func (o Outcome) Delivered() bool {
	return o == OutcomeDeliveredUnconfirmed || o == OutcomeDeliveredConfirmed
}

// Result describes one dispatch.
type Result struct {
	Row       int
	Key       string
	Slot      string
	Outcome   Outcome
	MessageID string
	// Suppressed is set when the ledger showed an earlier delivery and
	// only the status write was retried.
	Suppressed bool
	Err        error
}

// Fetcher downloads attachment references.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*chat.Attachment, error)
}

// Executor delivers one due entry and records the outcome.
type Executor struct {
	store     rowstore.Store
	transport chat.Transport
	fetcher   Fetcher
	ledger    Ledger
	clock     clock.Clock
	logger    *log.Logger
}

// NewExecutor wires an Executor. A nil ledger disables duplicate
// suppression and a nil fetcher drops attachments.
func NewExecutor(store rowstore.Store, transport chat.Transport, fetcher Fetcher, ledger Ledger, clk clock.Clock, logger *log.Logger) *Executor {
	if ledger == nil {
		ledger = nopLedger{}
	}
	return &Executor{
		store:     store,
		transport: transport,
		fetcher:   fetcher,
		ledger:    ledger,
		clock:     clk,
		logger:    logger,
	}
}

// Dispatch sends entry, applies its reactions, marks its row sent and
// appends an activity log row. Reaction and activity-log failures are
// logged and do not change the outcome.
func (e *Executor) Dispatch(ctx context.Context, table rowstore.Table, entry Entry) Result {
	res := Result{Row: entry.Row, Slot: entry.SlotHash()}
	logger := e.logger.With("row", entry.Row, "target", entry.Target)

	if entry.Key == "" {
		claimed, err := e.claim(ctx, table, entry)
		if err != nil {
			res.Outcome = OutcomeRowMoved
			if !errors.Is(err, ErrRowMoved) {
				res.Outcome = OutcomeSendFailed
			}
			res.Err = err
			logger.Warn("row changed before dispatch, leaving it for the next tick", "error", err)
			return finish(res)
		}
		entry = claimed
		res.Row = entry.Row
	}
	res.Key = entry.Key

	prior, err := e.ledger.Lookup(ctx, res.Slot)
	if err != nil {
		logger.Warn("ledger lookup failed", "error", err)
	}

	var sent chat.Sent
	if prior != nil {
		res.Suppressed = true
		sent = chat.Sent{ChatID: prior.Destination, MessageID: prior.MessageID}
		metrics.DuplicatesSuppressed.Inc()
		logger.Info("slot already delivered, retrying status write only", "message", prior.MessageID)
	} else {
		sent, err = e.deliver(ctx, logger, entry)
		if err != nil {
			res.Err = err
			if errors.Is(err, ErrDestinationUnresolved) {
				res.Outcome = OutcomeUnresolved
			} else {
				res.Outcome = OutcomeSendFailed
			}
			return finish(res)
		}
		if err := e.ledger.Record(ctx, &LedgerEntry{
			SlotHash:    res.Slot,
			RowKey:      entry.Key,
			Destination: sent.ChatID,
			MessageID:   sent.MessageID,
			Status:      LedgerUnconfirmed,
		}); err != nil {
			logger.Warn("failed to record delivery in ledger", "error", err)
		}
		for _, symbol := range entry.Reactions {
			if err := e.transport.React(ctx, sent, symbol); err != nil {
				logger.Debug("reaction failed", "symbol", symbol, "error", err)
			}
		}
	}
	res.MessageID = sent.MessageID

	if err := e.markSent(ctx, table, entry); err != nil {
		res.Outcome = OutcomeDeliveredUnconfirmed
		res.Err = err
		logger.Error("delivered but not marked sent, the row may be delivered again", "error", err)
		return finish(res)
	}
	res.Outcome = OutcomeDeliveredConfirmed

	if err := e.ledger.Confirm(ctx, res.Slot); err != nil {
		logger.Warn("failed to confirm ledger entry", "error", err)
	}
	if !res.Suppressed {
		e.logActivity(ctx, logger, entry, sent)
	}
	logger.Info("scheduled message delivered", "message", sent.MessageID)
	return finish(res)
}

func (e *Executor) deliver(ctx context.Context, logger *log.Logger, entry Entry) (chat.Sent, error) {
	dest, err := e.transport.Resolve(ctx, entry.Target)
	if err != nil {
		logger.Warn("destination not found", "error", err)
		return chat.Sent{}, fmt.Errorf("%w: %s: %v", ErrDestinationUnresolved, entry.Target, err)
	}

	msg := chat.Message{Text: entry.Text()}
	if entry.AttachmentRef != "" && e.fetcher != nil {
		att, err := e.fetcher.Fetch(ctx, entry.AttachmentRef)
		if err != nil {
			logger.Warn("attachment unavailable, sending without it", "ref", entry.AttachmentRef, "error", err)
		} else {
			msg.Attachment = att
		}
	}
	if msg.Text == "" && msg.Attachment == nil {
		return chat.Sent{}, fmt.Errorf("row %d has nothing left to send", entry.Row)
	}

	sent, err := e.transport.Send(ctx, dest, msg)
	if err != nil {
		logger.Error("send failed", "error", err)
		return chat.Sent{}, fmt.Errorf("send row %d: %w", entry.Row, err)
	}
	return sent, nil
}

// markSent writes the sent flag, re-locating the row first so an edit that
// shifted rows does not mark the wrong one.
func (e *Executor) markSent(ctx context.Context, table rowstore.Table, entry Entry) error {
	pos, err := e.locate(ctx, table, entry)
	if err != nil {
		return err
	}
	if err := e.store.UpdateCell(ctx, table, pos, colSent, "TRUE"); err != nil {
		return fmt.Errorf("mark row %d sent: %w", pos, err)
	}
	return nil
}

// claim finds entry's row again and writes a fresh key to it. The key is
// read back before anything is sent; if a concurrent edit put it on some
// other row it is cleared and ErrRowMoved is returned. When the key write
// itself fails the entry goes out keyless and is re-located by content.
func (e *Executor) claim(ctx context.Context, table rowstore.Table, entry Entry) (Entry, error) {
	rows, err := e.store.ReadAllRows(ctx, table)
	if err != nil {
		return entry, fmt.Errorf("re-read schedule: %w", err)
	}
	pos := findUnkeyed(rows, entry)
	if pos == 0 {
		return entry, fmt.Errorf("%w: row %d", ErrRowMoved, entry.Row)
	}
	entry.Row = pos

	key := uuid.NewString()
	if err := e.store.UpdateCell(ctx, table, pos, colKey, key); err != nil {
		e.logger.Warn("failed to assign row key, status write will match by content", "row", pos, "error", err)
		return entry, nil
	}

	rows, err = e.store.ReadAllRows(ctx, table)
	if err != nil {
		e.logger.Warn("failed to read back row key", "row", pos, "error", err)
		entry.Key = key
		return entry, nil
	}
	if pos-1 < len(rows) && rows[pos-1].Cell(colKey) == key && sameEntry(rows[pos-1], entry) {
		entry.Key = key
		return entry, nil
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Cell(colKey) != key {
			continue
		}
		if err := e.store.UpdateCell(ctx, table, i+1, colKey, ""); err != nil {
			e.logger.Error("failed to clear misplaced row key", "row", i+1, "key", key, "error", err)
		}
	}
	return entry, fmt.Errorf("%w: key for row %d landed elsewhere", ErrRowMoved, pos)
}

// locate returns the current position of entry's row. Keyed rows are found
// by key, keyless ones by content; either way the row must still describe
// the same delivery.
func (e *Executor) locate(ctx context.Context, table rowstore.Table, entry Entry) (int, error) {
	rows, err := e.store.ReadAllRows(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("re-read schedule: %w", err)
	}
	if entry.Key == "" {
		if pos := findUnkeyed(rows, entry); pos != 0 {
			return pos, nil
		}
		return 0, fmt.Errorf("%w: row %d", ErrRowMoved, entry.Row)
	}
	if entry.Row-1 < len(rows) && rows[entry.Row-1].Cell(colKey) == entry.Key && sameEntry(rows[entry.Row-1], entry) {
		return entry.Row, nil
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Cell(colKey) == entry.Key && sameEntry(rows[i], entry) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: key %s", ErrRowMoved, entry.Key)
}

// findUnkeyed returns the 1-based position of an unsent, keyless row that
// describes the same delivery as entry, preferring entry.Row. It returns 0
// when there is none.
func findUnkeyed(rows []rowstore.Row, entry Entry) int {
	match := func(i int) bool {
		return strings.TrimSpace(rows[i].Cell(colKey)) == "" && !IsSent(rows[i].Cell(colSent)) && sameEntry(rows[i], entry)
	}
	if entry.Row >= 2 && entry.Row-1 < len(rows) && match(entry.Row-1) {
		return entry.Row
	}
	for i := 1; i < len(rows); i++ {
		if match(i) {
			return i + 1
		}
	}
	return 0
}

// sameEntry reports whether row still describes entry's delivery.
func sameEntry(row rowstore.Row, entry Entry) bool {
	got, err := ParseEntry(row, entry.Row)
	return err == nil && got.SlotHash() == entry.SlotHash()
}

func (e *Executor) logActivity(ctx context.Context, logger *log.Logger, entry Entry, sent chat.Sent) {
	tbl, err := e.store.EnsureTable(ctx, LogTable, LogHeader)
	if err == nil {
		err = e.store.AppendRow(ctx, tbl, rowstore.Row{
			e.clock.Now().Format(time.RFC3339),
			sent.ChatID,
			strconv.Itoa(entry.Row),
			entry.Content,
		})
	}
	if err != nil {
		logger.Warn("failed to append activity log row", "error", err)
	}
}

func finish(res Result) Result {
	metrics.DispatchOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}
