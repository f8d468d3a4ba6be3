// Package streak tracks consecutive-day activity per user in the Streaks
// table.
package streak

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/metrics"
	"sheetbot-go/internal/rowstore"
)

// Table is the streak table's name.
const Table = "Streaks"

// Header is written when the table is created.
var Header = rowstore.Row{"UserID", "Username", "LastActive", "Streak", "ShownDate"}

const (
	colUserID = iota
	colName
	colLastActive
	colCount
	colShown
)

// DefaultTopLimit is the leaderboard size.
const DefaultTopLimit = 10

// Record is one user's streak row.
type Record struct {
	// Row is the 1-based table position the record was read from.
	Row        int
	UserID     string
	Name       string
	LastActive clock.Date
	Count      int
	ShownDate  clock.Date
}

// Transition names how a touch changed a streak.
type Transition string

const (
	TransitionNew       Transition = "new"
	TransitionSameDay   Transition = "same-day"
	TransitionContinued Transition = "continued"
	TransitionBroken    Transition = "broken"
)

// Advance applies one day of activity. A first touch or a gap of more than
// one day gives 1, the next day adds one, and the same day keeps count.
// A lastActive in the future is treated as the same day so clock skew can
// neither reset nor inflate a streak.
func Advance(lastActive clock.Date, count int, today clock.Date) (int, Transition) {
	if lastActive.IsZero() {
		return 1, TransitionNew
	}
	switch days := lastActive.DaysUntil(today); {
	case days <= 0:
		return count, TransitionSameDay
	case days == 1:
		return count + 1, TransitionContinued
	default:
		return 1, TransitionBroken
	}
}

// TouchResult is what a touch reports back.
type TouchResult struct {
	Count int
	// ShownDate is the shown date as it was before the touch.
	ShownDate clock.Date
	Today     clock.Date
	Name      string
}

// ShouldAnnounce reports whether the streak has not been announced today.
func (r TouchResult) ShouldAnnounce() bool {
	return r.ShownDate != r.Today
}

// Service reads and writes streak rows. Updates for one user are
// serialized; different users proceed in parallel.
type Service struct {
	store  rowstore.Store
	clock  clock.Clock
	logger *log.Logger
	locks  *keyedMutex
}

// NewService creates a Service.
func NewService(store rowstore.Store, clk clock.Clock, logger *log.Logger) *Service {
	return &Service{
		store:  store,
		clock:  clk,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

func (s *Service) table(ctx context.Context) (rowstore.Table, error) {
	return s.store.EnsureTable(ctx, Table, Header)
}

func (s *Service) find(ctx context.Context, tbl rowstore.Table, userID string) (*Record, error) {
	rows, err := s.store.ReadAllRows(ctx, tbl)
	if err != nil {
		return nil, fmt.Errorf("read streaks: %w", err)
	}
	for i := 1; i < len(rows); i++ {
		if strings.TrimSpace(rows[i].Cell(colUserID)) == userID {
			r := parseRecord(rows[i], i+1)
			return &r, nil
		}
	}
	return nil, nil
}

// Touch records activity for userID today and returns the new count.
func (s *Service) Touch(ctx context.Context, userID, name string) (TouchResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	today := clock.DateOf(s.clock.Now())
	tbl, err := s.table(ctx)
	if err != nil {
		return TouchResult{}, fmt.Errorf("open streaks: %w", err)
	}
	rec, err := s.find(ctx, tbl, userID)
	if err != nil {
		return TouchResult{}, err
	}

	if rec == nil {
		row := rowstore.Row{userID, name, today.String(), "1", ""}
		if err := s.store.AppendRow(ctx, tbl, row); err != nil {
			return TouchResult{}, fmt.Errorf("create streak for %s: %w", userID, err)
		}
		metrics.StreakTransitions.WithLabelValues(string(TransitionNew)).Inc()
		return TouchResult{Count: 1, Today: today, Name: name}, nil
	}

	count, transition := Advance(rec.LastActive, rec.Count, today)
	lastActive := today
	if today.Before(rec.LastActive) {
		lastActive = rec.LastActive
	}

	writes := []struct {
		col   int
		value string
	}{
		{colName, name},
		{colLastActive, lastActive.String()},
		{colCount, strconv.Itoa(count)},
	}
	for _, w := range writes {
		if err := s.store.UpdateCell(ctx, tbl, rec.Row, w.col, w.value); err != nil {
			return TouchResult{}, fmt.Errorf("update streak for %s: %w", userID, err)
		}
	}
	metrics.StreakTransitions.WithLabelValues(string(transition)).Inc()
	return TouchResult{Count: count, ShownDate: rec.ShownDate, Today: today, Name: name}, nil
}

// MarkShown records that the streak was announced on date. A missing user
// is a no-op.
func (s *Service) MarkShown(ctx context.Context, userID string, date clock.Date) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tbl, err := s.table(ctx)
	if err != nil {
		return fmt.Errorf("open streaks: %w", err)
	}
	rec, err := s.find(ctx, tbl, userID)
	if err != nil || rec == nil {
		return err
	}
	if err := s.store.UpdateCell(ctx, tbl, rec.Row, colShown, date.String()); err != nil {
		return fmt.Errorf("mark streak shown for %s: %w", userID, err)
	}
	return nil
}

// Reset sets a user's streak to zero as of today. It reports false when
// the user has no row; no row is created.
func (s *Service) Reset(ctx context.Context, userID string) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	today := clock.DateOf(s.clock.Now())
	tbl, err := s.table(ctx)
	if err != nil {
		return false, fmt.Errorf("open streaks: %w", err)
	}
	rec, err := s.find(ctx, tbl, userID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	writes := []struct {
		col   int
		value string
	}{
		{colLastActive, today.String()},
		{colCount, "0"},
		{colShown, ""},
	}
	for _, w := range writes {
		if err := s.store.UpdateCell(ctx, tbl, rec.Row, w.col, w.value); err != nil {
			return false, fmt.Errorf("reset streak for %s: %w", userID, err)
		}
	}
	s.logger.Info("streak reset", "user", userID)
	return true, nil
}

// Get returns a user's record, or nil.
func (s *Service) Get(ctx context.Context, userID string) (*Record, error) {
	tbl, err := s.table(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaks: %w", err)
	}
	return s.find(ctx, tbl, userID)
}

// Top returns up to limit records by count, highest first. Ties keep
// table order.
func (s *Service) Top(ctx context.Context, limit int) ([]Record, error) {
	tbl, err := s.table(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaks: %w", err)
	}
	rows, err := s.store.ReadAllRows(ctx, tbl)
	if err != nil {
		return nil, fmt.Errorf("read streaks: %w", err)
	}

	var records []Record
	for i := 1; i < len(rows); i++ {
		if rows[i].Empty() {
			continue
		}
		records = append(records, parseRecord(rows[i], i+1))
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Count > records[b].Count
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// parseRecord is lenient: unreadable or negative counts become 0 and
// unreadable dates become zero dates.
func parseRecord(row rowstore.Row, pos int) Record {
	r := Record{
		Row:    pos,
		UserID: strings.TrimSpace(row.Cell(colUserID)),
		Name:   row.Cell(colName),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(row.Cell(colCount))); err == nil && n > 0 {
		r.Count = n
	}
	if d, err := clock.ParseDate(row.Cell(colLastActive)); err == nil {
		r.LastActive = d
	}
	if d, err := clock.ParseDate(row.Cell(colShown)); err == nil {
		r.ShownDate = d
	}
	return r
}
