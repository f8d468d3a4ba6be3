// Package clock provides the bot's notion of "now" in a fixed UTC offset,
// plus the calendar-date and wall-clock types the schedule and streak
// logic compare against.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock produces the current moment.
type Clock interface {
	Now() time.Time
}

// FixedOffset reports the current time in a fixed offset from UTC. No
// daylight-saving rules are applied.
type FixedOffset struct {
	loc *time.Location
	now func() time.Time
}

// NewFixedOffset returns a clock pinned to UTC+hours.
func NewFixedOffset(hours int) *FixedOffset {
	return &FixedOffset{
		loc: Zone(hours),
		now: time.Now,
	}
}

// Zone returns the fixed location for UTC+hours.
func Zone(hours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

// Now returns the current time in the configured offset.
func (c *FixedOffset) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the configured offset as a *time.Location.
func (c *FixedOffset) Location() *time.Location {
	return c.loc
}

// Static is a Clock that always returns T. Tests advance it by assigning T.
type Static struct {
	T time.Time
}

// Now returns s.T.
func (s *Static) Now() time.Time {
	return s.T
}

const dateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD date. Surrounding whitespace is ignored.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dateLayout)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight().AddDate(0, 0, n))
}

// DaysUntil returns the number of calendar days from d to o. It is negative
// when o is before d.
func (d Date) DaysUntil(o Date) int {
	return int(o.midnight().Sub(d.midnight()).Hours() / 24)
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.midnight().Before(o.midnight())
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// WallTime is an hour and minute on a 24-hour clock.
type WallTime struct {
	Hour   int
	Minute int
}

// WallTimeOf returns the hour and minute of t in t's own location.
func WallTimeOf(t time.Time) WallTime {
	return WallTime{Hour: t.Hour(), Minute: t.Minute()}
}

// ParseWallTime parses "H:MM" or "HH:MM". The hour may be written with or
// without a leading zero; minutes must be exactly two digits.
func ParseWallTime(s string) (WallTime, error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 {
		return WallTime{}, fmt.Errorf("invalid time %q: want H:MM or HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 || strings.HasPrefix(h, "+") || strings.HasPrefix(h, "-") {
		return WallTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || strings.HasPrefix(m, "+") || strings.HasPrefix(m, "-") {
		return WallTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return WallTime{Hour: hour, Minute: minute}, nil
}

// Minutes returns the number of minutes since midnight.
func (w WallTime) Minutes() int {
	return w.Hour*60 + w.Minute
}

// String formats w as zero-padded HH:MM.
func (w WallTime) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}
