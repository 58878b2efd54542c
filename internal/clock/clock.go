/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock maps wall-clock time onto broadcast days.
//
// A broadcast day starts at the rollover hour rather than at midnight, so a
// programme airing at 02:00 with a rollover of 4 still belongs to the
// previous calendar day. Timetables express such times as 26:00:00.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxRolloverHour is the latest supported rollover hour.
const MaxRolloverHour = 5

// ErrInvalidRollover is returned for rollover hours outside 0-5.
var ErrInvalidRollover = errors.New("rollover hour must be between 0 and 5")

// Day is a broadcast day, stored as midnight of its calendar date.
type Day struct {
	t time.Time
}

// DayOfDate builds a Day from a calendar date in loc.
func DayOfDate(year int, month time.Month, day int, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, loc)}
}

// Date returns the calendar date of the day.
func (d Day) Date() (int, time.Month, int) {
	return d.t.Date()
}

// Midnight returns 00:00 of the calendar date.
func (d Day) Midnight() time.Time {
	return d.t
}

// AddDays returns the day n days later.
func (d Day) AddDays(n int) Day {
	y, m, dd := d.t.Date()
	return Day{t: time.Date(y, m, dd+n, 0, 0, 0, 0, d.t.Location())}
}

// Equal reports whether both days share a calendar date.
func (d Day) Equal(o Day) bool {
	y1, m1, d1 := d.t.Date()
	y2, m2, d2 := o.t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Before reports whether d is earlier than o.
func (d Day) Before(o Day) bool {
	return !d.Equal(o) && d.t.Before(o.t)
}

// IsZero reports whether the day was never set.
func (d Day) IsZero() bool {
	return d.t.IsZero()
}

// String renders the day as 2006-01-02.
func (d Day) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format("2006-01-02")
}

// FileStem renders the day the way timetable files are named (YYMMDD).
func (d Day) FileStem() string {
	return d.t.Format("060102")
}

// ParseDay reads a day written as YYYY-MM-DD or as a timetable file stem
// (YYMMDD).
func ParseDay(s string, loc *time.Location) (Day, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "060102"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return DayOfDate(t.Year(), t.Month(), t.Day(), loc), nil
		}
	}
	return Day{}, fmt.Errorf("invalid day %q: want YYYY-MM-DD or YYMMDD", s)
}

// ParseError reports an unusable time-of-day string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse time %q: %s", e.Input, e.Reason)
}

// Clock converts timestamps to broadcast days for a fixed rollover hour.
type Clock struct {
	rollover int
	loc      *time.Location
	now      func() time.Time
}

// New returns a clock using the local time zone and the system time.
func New(rolloverHour int) (*Clock, error) {
	return NewWithSource(rolloverHour, time.Local, time.Now)
}

// NewWithSource returns a clock with an explicit zone and time source.
func NewWithSource(rolloverHour int, loc *time.Location, now func() time.Time) (*Clock, error) {
	if rolloverHour < 0 || rolloverHour > MaxRolloverHour {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRollover, rolloverHour)
	}
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{rollover: rolloverHour, loc: loc, now: now}, nil
}

// RolloverHour returns the configured rollover hour.
func (c *Clock) RolloverHour() int {
	return c.rollover
}

// Location returns the zone used for day arithmetic.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time from the clock's source.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the broadcast day of Now.
func (c *Clock) Today() Day {
	return c.DayOf(c.Now())
}

// IsBeforeRollover reports whether t falls in the window that still belongs
// to the previous broadcast day.
func (c *Clock) IsBeforeRollover(t time.Time) bool {
	return t.In(c.loc).Hour() < c.rollover
}

// DayOf returns the broadcast day t belongs to.
func (c *Clock) DayOf(t time.Time) Day {
	t = t.In(c.loc)
	y, m, d := t.Date()
	day := Day{t: time.Date(y, m, d, 0, 0, 0, 0, c.loc)}
	if t.Hour() < c.rollover {
		return day.AddDays(-1)
	}
	return day
}

// Resolve turns an H:M:S string into an absolute timestamp relative to base.
// Hours of 24 and above, and hours before the rollover, land on base+1.
func (c *Clock) Resolve(hms string, base Day) (time.Time, error) {
	raw := hms
	hms = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(hms), "\ufeff"))

	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return time.Time{}, &ParseError{Input: raw, Reason: "expected H:M:S"}
	}
	var fields [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, &ParseError{Input: raw, Reason: "non-numeric field"}
		}
		fields[i] = v
	}
	hour, minute, second := fields[0], fields[1], fields[2]

	target := base
	switch {
	case hour >= 24:
		target = base.AddDays(1)
		hour -= 24
	case hour < c.rollover:
		target = base.AddDays(1)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return time.Time{}, &ParseError{Input: raw, Reason: "value out of range"}
	}

	y, m, d := target.Date()
	return time.Date(y, m, d, hour, minute, second, 0, c.loc), nil
}

// FormatBroadcastTime renders t in broadcast notation, where hours before
// the rollover continue the previous day (01:30 becomes 25:30:00).
func (c *Clock) FormatBroadcastTime(t time.Time) string {
	t = t.In(c.loc)
	hour := t.Hour()
	if hour < c.rollover {
		hour += 24
	}
	return fmt.Sprintf("%02d:%02d:%02d", hour, t.Minute(), t.Second())
}
