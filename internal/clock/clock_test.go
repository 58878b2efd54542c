/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"errors"
	"testing"
	"time"
)

func newTestClock(t *testing.T, rollover int) *Clock {
	t.Helper()
	c, err := NewWithSource(rollover, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewWithSource(%d): %v", rollover, err)
	}
	return c
}

func TestNewRejectsInvalidRollover(t *testing.T) {
	for _, h := range []int{-1, 6, 24} {
		if _, err := New(h); !errors.Is(err, ErrInvalidRollover) {
			t.Fatalf("New(%d) error = %v, want ErrInvalidRollover", h, err)
		}
	}
}

func TestDayOfDiscontinuityOnlyAtRollover(t *testing.T) {
	calendar := DayOfDate(2026, time.March, 10, time.UTC)
	for r := 0; r <= MaxRolloverHour; r++ {
		c := newTestClock(t, r)
		for hour := 0; hour < 24; hour++ {
			ts := time.Date(2026, time.March, 10, hour, 30, 0, 0, time.UTC)
			got := c.DayOf(ts)
			want := calendar
			if hour < r {
				want = calendar.AddDays(-1)
			}
			if !got.Equal(want) {
				t.Fatalf("rollover %d hour %d: DayOf = %s, want %s", r, hour, got, want)
			}
			if c.IsBeforeRollover(ts) != (hour < r) {
				t.Fatalf("rollover %d hour %d: IsBeforeRollover mismatch", r, hour)
			}
		}
	}
}

func TestDayOfAcrossMonthBoundary(t *testing.T) {
	c := newTestClock(t, 4)
	got := c.DayOf(time.Date(2026, time.April, 1, 3, 59, 59, 0, time.UTC))
	if want := DayOfDate(2026, time.March, 31, time.UTC); !got.Equal(want) {
		t.Fatalf("DayOf = %s, want %s", got, want)
	}
}

func TestResolve(t *testing.T) {
	c := newTestClock(t, 4)
	base := DayOfDate(2026, time.January, 31, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"26:00:00", time.Date(2026, time.February, 1, 2, 0, 0, 0, time.UTC)},
		{"03:00:00", time.Date(2026, time.February, 1, 3, 0, 0, 0, time.UTC)},
		{"04:00:00", time.Date(2026, time.January, 31, 4, 0, 0, 0, time.UTC)},
		{"23:59:59", time.Date(2026, time.January, 31, 23, 59, 59, 0, time.UTC)},
		{"24:00:00", time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)},
		{"\ufeff 5:07:09 ", time.Date(2026, time.January, 31, 5, 7, 9, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := c.Resolve(tt.in, base)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("Resolve(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveRejectsMalformed(t *testing.T) {
	c := newTestClock(t, 4)
	base := DayOfDate(2026, time.January, 31, time.UTC)

	for _, in := range []string{"", "12:00", "aa:00:00", "48:00:00", "12:60:00", "12:00:60", "1:2:3:4"} {
		_, err := c.Resolve(in, base)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Resolve(%q) error = %v, want *ParseError", in, err)
		}
	}
}

func TestFormatBroadcastTime(t *testing.T) {
	c := newTestClock(t, 4)
	if got := c.FormatBroadcastTime(time.Date(2026, 1, 1, 1, 30, 5, 0, time.UTC)); got != "25:30:05" {
		t.Fatalf("FormatBroadcastTime = %q", got)
	}
	if got := c.FormatBroadcastTime(time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)); got != "04:00:00" {
		t.Fatalf("FormatBroadcastTime = %q", got)
	}
}

func TestFileStem(t *testing.T) {
	if got := DayOfDate(2026, time.October, 8, time.UTC).FileStem(); got != "261008" {
		t.Fatalf("FileStem = %q", got)
	}
}

func TestParseDay(t *testing.T) {
	want := DayOfDate(2026, time.October, 8, time.UTC)
	for _, in := range []string{"2026-10-08", "261008", " 261008\n"} {
		got, err := ParseDay(in, time.UTC)
		if err != nil {
			t.Fatalf("ParseDay(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseDay(%q) = %s", in, got)
		}
	}
	if _, err := ParseDay("2026/10/08", time.UTC); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
}
