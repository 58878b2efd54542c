/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package status

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/playout"
	"github.com/friendsincode/easyaps/internal/timeline"
)

const (
	studioBanner = "\033[41m\033[97m[STUDIO] live\033[0m"
	linePadding  = 20
)

// Reporter rewrites a one-line status on out every interval. It only reads
// snapshots and never fails the station.
type Reporter struct {
	collector *Collector
	monitor   playout.Monitor
	out       io.Writer
	interval  time.Duration
	logger    zerolog.Logger
}

// NewReporter returns a reporter. monitor may be nil.
func NewReporter(collector *Collector, monitor playout.Monitor, out io.Writer, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{
		collector: collector,
		monitor:   monitor,
		out:       out,
		interval:  interval,
		logger:    logger.With().Str("component", "status").Logger(),
	}
}

// Run redraws the status line until ctx ends, then moves to a fresh line.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(r.out)
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug().Interface("panic", p).Msg("status tick recovered")
		}
	}()

	snap := r.collector.Snapshot()
	var reading Reading
	if snap.OnAir != nil && snap.OnAir.Record.Kind == timeline.KindMedia && r.monitor != nil {
		reading.Status = r.monitor.PlaybackStatus(ctx)
		reading.Position, reading.PositionKnown = r.monitor.Position(ctx)
	}

	line := Render(snap, reading)
	if line == "" {
		return
	}
	if _, err := fmt.Fprintf(r.out, "\r%s%s", line, strings.Repeat(" ", linePadding)); err != nil {
		r.logger.Debug().Err(err).Msg("status write failed")
	}
}

// Reading is what the player reported during one tick.
type Reading struct {
	Status        string
	Position      time.Duration
	PositionKnown bool
}

// Render formats the status line: broadcast time, the on-air position and
// the countdown to the next record.
func Render(snap Snapshot, reading Reading) string {
	var parts []string

	if oa := snap.OnAir; oa != nil {
		switch oa.Record.Kind {
		case timeline.KindStudio:
			parts = append(parts, studioBanner)
		case timeline.KindMedia:
			if reading.PositionKnown && reading.Status == "playing" {
				pos := reading.Position
				if late := oa.StartedAt.Sub(oa.Record.ScheduledAt); late > 0 {
					pos += late
				}
				parts = append(parts, indicator(reading.Status)+" "+FormatClock(pos))
			} else {
				parts = append(parts, "? ~"+FormatClock(snap.Now.Sub(oa.Record.ScheduledAt)))
			}
		}
	}

	if snap.Next != nil {
		if wait := snap.Next.ScheduledAt.Sub(snap.Now); wait > 0 {
			parts = append(parts, "next in "+FormatClock(wait))
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return snap.BroadcastTime + " " + strings.Join(parts, " | ")
}

func indicator(status string) string {
	switch status {
	case "playing":
		return "♪"
	case "paused":
		return "⏸"
	default:
		return "○"
	}
}

// FormatClock renders d as MM:SS, minutes unbounded. Negative values show
// as 00:00.
func FormatClock(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Banner prints the startup summary.
func Banner(w io.Writer, c *clock.Clock, tl *timeline.Timeline) {
	now := c.Now()
	_, _ = fmt.Fprintf(w, "records:         %d\n", tl.Len())
	_, _ = fmt.Fprintf(w, "day rollover:    %02d:00:00\n", c.RolloverHour())
	_, _ = fmt.Fprintf(w, "broadcast time:  %s\n", c.FormatBroadcastTime(now))
	_, _ = fmt.Fprintf(w, "broadcast day:   %s\n\n", c.DayOf(now))
}
