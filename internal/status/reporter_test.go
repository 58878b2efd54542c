package status

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/live"
	"github.com/friendsincode/easyaps/internal/playout"
	"github.com/friendsincode/easyaps/internal/preload"
	"github.com/friendsincode/easyaps/internal/timeline"
)

var day = clock.DayOfDate(2026, time.May, 4, time.UTC)

func ts(h, m, s int) time.Time {
	return day.Midnight().Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func TestRenderMediaWithReading(t *testing.T) {
	snap := Snapshot{
		Now:           ts(26, 0, 0),
		BroadcastTime: "26:00:00",
		OnAir: &playout.OnAir{
			Record:    timeline.Record{Kind: timeline.KindMedia, ScheduledAt: ts(25, 58, 0)},
			StartedAt: ts(25, 58, 30),
		},
		Next: &timeline.Record{ScheduledAt: ts(26, 1, 5)},
	}
	got := Render(snap, Reading{Status: "playing", Position: 90 * time.Second, PositionKnown: true})
	want := "26:00:00 ♪ 02:00 | next in 01:05"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderEstimatesWithoutReading(t *testing.T) {
	snap := Snapshot{
		Now:           ts(5, 3, 0),
		BroadcastTime: "05:03:00",
		OnAir:         &playout.OnAir{Record: timeline.Record{Kind: timeline.KindMedia, ScheduledAt: ts(5, 0, 0)}},
	}
	if got := Render(snap, Reading{}); got != "05:03:00 ? ~03:00" {
		t.Fatalf("Render = %q", got)
	}
}

func TestRenderStudioAndSilence(t *testing.T) {
	snap := Snapshot{
		Now:           ts(5, 0, 0),
		BroadcastTime: "05:00:00",
		OnAir:         &playout.OnAir{Record: timeline.Record{Kind: timeline.KindStudio}},
	}
	if got := Render(snap, Reading{}); !strings.Contains(got, "[STUDIO]") {
		t.Fatalf("Render = %q", got)
	}

	snap.OnAir = &playout.OnAir{Record: timeline.Record{Kind: timeline.KindSilence}}
	if got := Render(snap, Reading{}); got != "" {
		t.Fatalf("silence without next rendered %q", got)
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Second:            "00:00",
		0:                       "00:00",
		59 * time.Second:        "00:59",
		61 * time.Second:        "01:01",
		125 * time.Minute:       "125:00",
		1500 * time.Millisecond: "00:01",
	}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%v) = %q, want %q", in, got, want)
		}
	}
}

type stubOnAir struct{ oa *playout.OnAir }

func (s stubOnAir) OnAir() (playout.OnAir, bool) {
	if s.oa == nil {
		return playout.OnAir{}, false
	}
	return *s.oa, true
}

func (stubOnAir) Phase() playout.Phase { return playout.PhaseWaiting }

type stubRoute struct{}

func (stubRoute) State() live.RouteState { return live.RouteDirect }

type stubPreload struct{}

func (stubPreload) Status() preload.Status { return preload.Status{State: preload.StateIdle} }

type panickingMonitor struct{}

func (panickingMonitor) Position(context.Context) (time.Duration, bool) { panic("monitor exploded") }
func (panickingMonitor) PlaybackStatus(context.Context) string          { panic("monitor exploded") }

func newCollector(t *testing.T, oa *playout.OnAir) (*Collector, *timeline.Timeline) {
	t.Helper()
	c, err := clock.NewWithSource(4, time.UTC, func() time.Time { return ts(5, 1, 0) })
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	tl := timeline.New()
	recs := []timeline.Record{
		{ID: "1", ScheduledAt: ts(5, 0, 0), ItemKey: "a", Kind: timeline.KindMedia},
		{ID: "2", ScheduledAt: ts(5, 2, 0), ItemKey: "b", Kind: timeline.KindMedia},
	}
	if _, err := tl.Load(day, recs); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tl.AdvanceTo(0); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	return NewCollector(c, tl, stubOnAir{oa: oa}, stubRoute{}, stubPreload{}), tl
}

func TestCollectorSnapshot(t *testing.T) {
	oa := &playout.OnAir{Record: timeline.Record{ID: "1", Kind: timeline.KindMedia, ScheduledAt: ts(5, 0, 0)}}
	col, _ := newCollector(t, oa)
	snap := col.Snapshot()
	if snap.Cursor != 0 || snap.Total != 2 || snap.Remaining != 1 {
		t.Fatalf("snapshot position = %d/%d (%d left)", snap.Cursor, snap.Total, snap.Remaining)
	}
	if snap.Next == nil || snap.Next.ID != "2" {
		t.Fatalf("next = %+v", snap.Next)
	}
	if snap.BroadcastDay != "2026-05-04" || snap.BroadcastTime != "05:01:00" {
		t.Fatalf("broadcast = %s %s", snap.BroadcastDay, snap.BroadcastTime)
	}
	if snap.OnAir == nil || snap.OnAir.Record.ID != "1" {
		t.Fatalf("on air = %+v", snap.OnAir)
	}
}

func TestReporterSurvivesPanics(t *testing.T) {
	oa := &playout.OnAir{Record: timeline.Record{Kind: timeline.KindMedia, ScheduledAt: ts(5, 0, 0)}}
	col, _ := newCollector(t, oa)
	var buf bytes.Buffer
	r := NewReporter(col, panickingMonitor{}, &buf, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestReporterWritesStatusLine(t *testing.T) {
	col, _ := newCollector(t, nil)
	var buf bytes.Buffer
	r := NewReporter(col, nil, &buf, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	out := buf.String()
	if !strings.Contains(out, "\r05:01:00 next in 01:00") {
		t.Fatalf("output = %q", out)
	}
}

func TestBanner(t *testing.T) {
	col, tl := newCollector(t, nil)
	var buf bytes.Buffer
	Banner(&buf, col.clock, tl)
	for _, want := range []string{"records:         2", "04:00:00", "05:01:00", "2026-05-04"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("banner missing %q:\n%s", want, buf.String())
		}
	}
}
