package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/rowstore"
)

const (
	// ScheduleTable holds the schedule entries. It is never created by the bot.
	ScheduleTable = "Schedule"
	// LogTable receives one row per delivered entry.
	LogTable = "Logs"
)

// LogHeader is the header written when LogTable is created.
var LogHeader = rowstore.Row{"Timestamp", "Destination", "Row", "Content"}

// Schedule table columns.
const (
	colContent = iota
	colDate
	colTime
	colSent
	colAttachment
	colTarget
	colMention
	colReactions
	colKey
)

var (
	// ErrMalformedRow is returned for an unsent row whose date, time or
	// body cannot be used.
	ErrMalformedRow = errors.New("malformed schedule row")
	// ErrDestinationUnresolved is returned when the target chat is unknown.
	ErrDestinationUnresolved = errors.New("destination unresolved")
	// ErrRowMoved is returned when a keyed row can no longer be found.
	ErrRowMoved = errors.New("schedule row moved or deleted")
)

// Entry is one unsent schedule row.
type Entry struct {
	// Row is the 1-based position the row had when it was read.
	Row           int
	Key           string
	Content       string
	Date          clock.Date
	Time          clock.WallTime
	AttachmentRef string
	Target        string
	MentionPrefix string
	Reactions     []string
}

// IsSent reports whether a sent-flag cell marks its row delivered. Only
// "TRUE", in any case, counts.
func IsSent(cell string) bool {
	return strings.EqualFold(strings.TrimSpace(cell), "TRUE")
}

// ParseEntry reads the schedule row at position pos.
func ParseEntry(row rowstore.Row, pos int) (Entry, error) {
	date, err := clock.ParseDate(row.Cell(colDate))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: row %d: %v", ErrMalformedRow, pos, err)
	}
	wall, err := clock.ParseWallTime(row.Cell(colTime))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: row %d: %v", ErrMalformedRow, pos, err)
	}

	e := Entry{
		Row:           pos,
		Key:           strings.TrimSpace(row.Cell(colKey)),
		Content:       row.Cell(colContent),
		Date:          date,
		Time:          wall,
		AttachmentRef: strings.TrimSpace(row.Cell(colAttachment)),
		Target:        strings.TrimSpace(row.Cell(colTarget)),
		MentionPrefix: strings.TrimSpace(row.Cell(colMention)),
		Reactions:     strings.Fields(row.Cell(colReactions)),
	}
	if e.Target == "" {
		return Entry{}, fmt.Errorf("%w: row %d: no destination", ErrMalformedRow, pos)
	}
	if strings.TrimSpace(e.Content) == "" && e.AttachmentRef == "" {
		return Entry{}, fmt.Errorf("%w: row %d: nothing to send", ErrMalformedRow, pos)
	}
	return e, nil
}

// Text is the message body: the mention prefix, a space, then the content.
func (e Entry) Text() string {
	if e.MentionPrefix == "" {
		return e.Content
	}
	return e.MentionPrefix + " " + e.Content
}

// SlotHash identifies one delivery of this entry: what is sent, where,
// and for which slot. Identical rows for the same slot share a hash.
func (e Entry) SlotHash() string {
	h := sha256.New()
	for _, part := range []string{e.Content, e.Date.String(), e.Time.String(), e.Target, e.MentionPrefix, e.AttachmentRef} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// isDue reports whether e should fire at now. With a zero window only the
// exact minute matches; otherwise a slot up to window minutes in the past
// on the same date still matches.
func isDue(e Entry, today clock.Date, now clock.WallTime, windowMinutes int) bool {
	if e.Date != today {
		return false
	}
	delta := now.Minutes() - e.Time.Minutes()
	return delta >= 0 && delta <= windowMinutes
}

// selectDue scans rows (header first) and returns the due entries and the
// number of malformed unsent rows.
func selectDue(rows []rowstore.Row, today clock.Date, now clock.WallTime, windowMinutes int) ([]Entry, []error) {
	var due []Entry
	var malformed []error
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if row.Empty() || IsSent(row.Cell(colSent)) {
			continue
		}
		if d, err := clock.ParseDate(row.Cell(colDate)); err == nil && d != today {
			continue
		}
		e, err := ParseEntry(row, i+1)
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		if isDue(e, today, now, windowMinutes) {
			due = append(due, e)
		}
	}
	return due, malformed
}
