/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout runs the on-air loop: it waits for each timetable record
// to come due, reconciles the studio route, and starts the player.
package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/live"
	"github.com/friendsincode/easyaps/internal/media"
	"github.com/friendsincode/easyaps/internal/preload"
	"github.com/friendsincode/easyaps/internal/telemetry"
	"github.com/friendsincode/easyaps/internal/timeline"
)

var (
	// ErrScheduleExhausted ends the run when the timeline ran out and the
	// next day could not be loaded in time.
	ErrScheduleExhausted = errors.New("schedule exhausted")

	// ErrTimelineCorrupt means the cursor and the record sequence disagree.
	ErrTimelineCorrupt = errors.New("timeline corrupt")
)

// Phase is the dispatcher's position in its cycle.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseCatchingUp Phase = "catching_up"
	PhaseOnTime     Phase = "on_time"
	PhaseWaiting    Phase = "waiting"
	PhaseDue        Phase = "due"
	PhaseExhausted  Phase = "exhausted"
	PhaseStopped    Phase = "stopped"
)

// MediaResolver maps a record to something playable.
type MediaResolver interface {
	Resolve(rec timeline.Record) media.Resolution
}

// RouteReconciler keeps the studio route in line with the record on air.
type RouteReconciler interface {
	Reconcile(ctx context.Context, rec timeline.Record) live.RouteState
}

// Preloader is the dispatcher's view of the next-day loader.
type Preloader interface {
	MaybePreload(ctx context.Context, remaining int) bool
	EnsureTail(ctx context.Context) preload.State
	State() preload.State
	LastError() error
}

// Config tunes the loop's polling.
type Config struct {
	PollInterval    time.Duration
	TailWaitCeiling time.Duration
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		TailWaitCeiling: 5 * time.Minute,
	}
}

// OnAir describes the record most recently put on air.
type OnAir struct {
	Record    timeline.Record `json:"record"`
	Index     int             `json:"index"`
	StartedAt time.Time       `json:"started_at"`
	Offset    time.Duration   `json:"offset"`
	Path      string          `json:"path"`
	Fallback  bool            `json:"fallback"`
	Route     live.RouteState `json:"route"`
	Info      *media.Info     `json:"info,omitempty"`
}

// Dispatcher is the playout loop. It is the only writer of the timeline
// cursor and the route state.
type Dispatcher struct {
	tl       *timeline.Timeline
	clock    *clock.Clock
	resolver MediaResolver
	route    RouteReconciler
	preload  Preloader
	player   Player
	bus      events.Publisher
	cfg      Config
	runID    string
	logger   zerolog.Logger

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	describe func(ctx context.Context, path string) (media.Info, error)

	// in-flight media descriptions
	wg sync.WaitGroup

	mu    sync.RWMutex
	phase Phase
	onAir *OnAir
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep replaces the poll sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithDescribe replaces the media tag reader.
func WithDescribe(describe func(ctx context.Context, path string) (media.Info, error)) Option {
	return func(d *Dispatcher) { d.describe = describe }
}

// WithRunID tags events with the id of this process run.
func WithRunID(id string) Option {
	return func(d *Dispatcher) { d.runID = id }
}

// NewDispatcher wires the loop.
func NewDispatcher(
	tl *timeline.Timeline,
	clk *clock.Clock,
	resolver MediaResolver,
	route RouteReconciler,
	pre Preloader,
	player Player,
	bus events.Publisher,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Dispatcher {
	if bus == nil {
		bus = events.Nop{}
	}
	d := &Dispatcher{
		tl:       tl,
		clock:    clk,
		resolver: resolver,
		route:    route,
		preload:  pre,
		player:   player,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "playout").Logger(),
		now:      clk.Now,
		sleep:    sleepCtx,
		describe: media.Describe,
		phase:    PhaseStarting,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Phase returns the current loop phase.
func (d *Dispatcher) Phase() Phase {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.phase
}

// OnAir returns the record most recently put on air.
func (d *Dispatcher) OnAir() (OnAir, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.onAir == nil {
		return OnAir{}, false
	}
	return *d.onAir, true
}

func (d *Dispatcher) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

// Run drives the loop until the schedule is exhausted, the timeline is found
// corrupt, or ctx ends. The route is left as it is on return.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	err := d.run(ctx)
	cancel()
	d.wg.Wait()
	switch {
	case errors.Is(err, ErrScheduleExhausted):
		d.setPhase(PhaseExhausted)
	default:
		d.setPhase(PhaseStopped)
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context) error {
	d.setPhase(PhaseStarting)
	now := d.now()

	if rec, idx, ok := d.tl.LatestDue(now); ok {
		offset := now.Sub(rec.ScheduledAt)
		phase := PhaseOnTime
		if offset > 0 {
			phase = PhaseCatchingUp
		} else {
			offset = 0
		}
		d.setPhase(phase)
		d.logger.Info().
			Str("item_key", rec.ItemKey).
			Str("scheduled", d.clock.FormatBroadcastTime(rec.ScheduledAt)).
			Dur("offset", offset).
			Msg("joining schedule")
		if err := d.dispatch(ctx, idx, rec, offset, phase); err != nil {
			return err
		}
	} else {
		d.logger.Info().Msg("nothing due yet, waiting for the first record")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.setPhase(PhaseWaiting)
		rec, idx, err := d.awaitNext(ctx)
		if err != nil {
			return err
		}
		d.setPhase(PhaseDue)
		if err := d.dispatch(ctx, idx, rec, 0, PhaseDue); err != nil {
			return err
		}
	}
}

// awaitNext polls until the record after the cursor is due. At the tail it
// asks for the next day and waits up to the ceiling for it to arrive.
func (d *Dispatcher) awaitNext(ctx context.Context) (timeline.Record, int, error) {
	var tailSince time.Time
	for {
		now := d.now()
		rec, idx, due, ok := d.tl.Next(now)
		if ok {
			if due {
				return rec, idx, nil
			}
			tailSince = time.Time{}
			d.preload.MaybePreload(ctx, d.tl.RemainingCount())
			if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
				return timeline.Record{}, 0, err
			}
			continue
		}

		if !d.tl.IsAtTail() {
			return timeline.Record{}, 0, fmt.Errorf("%w: no record after index %d of %d", ErrTimelineCorrupt, d.tl.CurrentIndex(), d.tl.Len())
		}

		if tailSince.IsZero() {
			tailSince = now
			state := d.preload.EnsureTail(ctx)
			d.logger.Info().
				Str("preload", string(state)).
				Dur("ceiling", d.cfg.TailWaitCeiling).
				Msg("reached end of timeline, waiting for next day")
		} else if d.preload.State() == preload.StateIdle {
			if perr := d.preload.LastError(); perr != nil {
				return timeline.Record{}, 0, d.exhausted(perr)
			}
		}

		if now.Sub(tailSince) >= d.cfg.TailWaitCeiling {
			return timeline.Record{}, 0, d.exhausted(d.preload.LastError())
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return timeline.Record{}, 0, err
		}
	}
}

func (d *Dispatcher) exhausted(cause error) error {
	d.logger.Warn().Err(cause).Int("timeline_len", d.tl.Len()).Msg("schedule exhausted")
	payload := events.Payload{"run_id": d.runID, "timeline_len": d.tl.Len()}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	d.bus.Publish(events.EventScheduleExhausted, payload)
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrScheduleExhausted, cause)
	}
	return ErrScheduleExhausted
}

// dispatch puts rec on air and commits the cursor to idx.
func (d *Dispatcher) dispatch(ctx context.Context, idx int, rec timeline.Record, offset time.Duration, phase Phase) error {
	ctx, span := telemetry.StartSpan(ctx, "playout", "playout.dispatch",
		attribute.String("record_id", rec.ID),
		attribute.String("item_key", rec.ItemKey),
		attribute.String("kind", string(rec.Kind)),
		attribute.Int("index", idx),
		attribute.Int64("offset_ms", offset.Milliseconds()),
	)
	defer span.End()

	started := d.now()
	res := d.resolver.Resolve(rec)
	if err := d.tl.SetResolvedPath(idx, res.Path); err != nil {
		d.logger.Debug().Err(err).Int("index", idx).Msg("path already resolved")
	}

	route := d.route.Reconcile(ctx, rec)
	d.preload.MaybePreload(ctx, d.tl.Len()-idx-1)

	switch {
	case res.Playable():
		result := d.player.Play(ctx, res.Path, offset)
		if !result.OK() {
			telemetry.Fail(span, result.Err)
			d.logger.Error().
				Err(result.Err).
				Str("op", result.Op).
				Str("file", res.Path).
				Msg("playback failed to start")
		}
	case res.Kind == timeline.KindStudio:
		d.logger.Info().Str("item_key", rec.ItemKey).Dur("offset", offset).Msg("studio segment")
	default:
		d.logger.Info().Str("item_key", rec.ItemKey).Dur("offset", offset).Msg("silence")
	}

	if err := d.tl.AdvanceTo(idx); err != nil {
		telemetry.Fail(span, err)
		return fmt.Errorf("%w: %w", ErrTimelineCorrupt, err)
	}

	onAir := &OnAir{
		Record:    rec,
		Index:     idx,
		StartedAt: started,
		Offset:    offset,
		Path:      res.Path,
		Fallback:  res.Fallback,
		Route:     route,
	}
	onAir.Record.ResolvedPath = res.Path
	d.mu.Lock()
	d.onAir = onAir
	d.mu.Unlock()

	lateness := started.Sub(rec.ScheduledAt)
	telemetry.RecordsDispatched.WithLabelValues(string(rec.Kind), string(phase)).Inc()
	if lateness > 0 {
		telemetry.DispatchLateness.Observe(lateness.Seconds())
	}
	if phase == PhaseCatchingUp {
		telemetry.CatchUpOffset.Set(offset.Seconds())
	}
	telemetry.TimelineRemaining.Set(float64(d.tl.RemainingCount()))

	d.logger.Info().
		Int("index", idx).
		Str("item_key", rec.ItemKey).
		Str("kind", string(rec.Kind)).
		Str("scheduled", d.clock.FormatBroadcastTime(rec.ScheduledAt)).
		Str("file", res.Path).
		Str("route", string(route)).
		Dur("offset", offset).
		Msg("on air")

	payload := events.Payload{
		"run_id":        d.runID,
		"record_id":     rec.ID,
		"index":         idx,
		"item_key":      rec.ItemKey,
		"kind":          string(rec.Kind),
		"path":          res.Path,
		"fallback":      res.Fallback,
		"broadcast_day": rec.Day.String(),
		"scheduled_at":  rec.ScheduledAt,
		"started_at":    started,
		"offset_ms":     offset.Milliseconds(),
		"route":         string(route),
		"phase":         string(phase),
	}
	d.bus.Publish(events.EventNowPlaying, payload)

	if res.Playable() {
		d.describeAsync(ctx, idx, rec, res.Path)
	}
	return nil
}

// describeAsync reads the media tags off the loop. The result is attached to
// the on-air record if it is still on air, and published as media_info.
func (d *Dispatcher) describeAsync(ctx context.Context, idx int, rec timeline.Record, path string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		info, err := d.describe(ctx, path)
		if err != nil {
			d.logger.Debug().Err(err).Str("file", path).Msg("no media info")
			return
		}

		d.mu.Lock()
		if d.onAir != nil && d.onAir.Index == idx && d.onAir.Record.ID == rec.ID {
			d.onAir.Info = &info
		}
		d.mu.Unlock()

		d.bus.Publish(events.EventMediaInfo, events.Payload{
			"run_id":        d.runID,
			"record_id":     rec.ID,
			"index":         idx,
			"broadcast_day": rec.Day.String(),
			"path":          path,
			"title":         info.Title,
			"artist":        info.Artist,
			"album":         info.Album,
			"duration_ms":   info.Duration.Milliseconds(),
		})
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
