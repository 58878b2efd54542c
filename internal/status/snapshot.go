/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package status renders read-only views of the station for the console
// and the HTTP surface.
package status

import (
	"time"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/live"
	"github.com/friendsincode/easyaps/internal/playout"
	"github.com/friendsincode/easyaps/internal/preload"
	"github.com/friendsincode/easyaps/internal/timeline"
)

// OnAirSource exposes the dispatcher's position.
type OnAirSource interface {
	OnAir() (playout.OnAir, bool)
	Phase() playout.Phase
}

// RouteSource exposes the cached route state.
type RouteSource interface {
	State() live.RouteState
}

// PreloadSource exposes the preload coordinator's state.
type PreloadSource interface {
	Status() preload.Status
}

// Snapshot is a consistent-enough copy of everything the status views show.
type Snapshot struct {
	Now           time.Time        `json:"now"`
	BroadcastTime string           `json:"broadcast_time"`
	BroadcastDay  string           `json:"broadcast_day"`
	RolloverHour  int              `json:"rollover_hour"`
	Phase         playout.Phase    `json:"phase"`
	OnAir         *playout.OnAir   `json:"on_air,omitempty"`
	Next          *timeline.Record `json:"next,omitempty"`
	Cursor        int              `json:"cursor"`
	Total         int              `json:"total"`
	Remaining     int              `json:"remaining"`
	Days          []string         `json:"days"`
	Route         live.RouteState  `json:"route"`
	Preload       preload.Status   `json:"preload"`
}

// Collector assembles snapshots from the running components.
type Collector struct {
	clock   *clock.Clock
	tl      *timeline.Timeline
	onAir   OnAirSource
	route   RouteSource
	preload PreloadSource
}

// NewCollector returns a collector reading the given components.
func NewCollector(c *clock.Clock, tl *timeline.Timeline, onAir OnAirSource, route RouteSource, pre PreloadSource) *Collector {
	return &Collector{clock: c, tl: tl, onAir: onAir, route: route, preload: pre}
}

// Snapshot reads every component once.
func (c *Collector) Snapshot() Snapshot {
	now := c.clock.Now()
	view := c.tl.Snapshot()

	snap := Snapshot{
		Now:           now,
		BroadcastTime: c.clock.FormatBroadcastTime(now),
		BroadcastDay:  c.clock.DayOf(now).String(),
		RolloverHour:  c.clock.RolloverHour(),
		Phase:         c.onAir.Phase(),
		Next:          view.Next,
		Cursor:        view.Cursor,
		Total:         view.Len,
		Remaining:     view.Len - view.Cursor - 1,
		Route:         c.route.State(),
		Preload:       c.preload.Status(),
	}
	for _, d := range view.Days {
		snap.Days = append(snap.Days, d.String())
	}
	if oa, ok := c.onAir.OnAir(); ok {
		snap.OnAir = &oa
	}
	return snap
}
