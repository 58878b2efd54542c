/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package preload fetches the next broadcast day's timetable in the
// background and appends it to the running timeline.
package preload

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
	"github.com/friendsincode/easyaps/internal/schedule"
	"github.com/friendsincode/easyaps/internal/telemetry"
	"github.com/friendsincode/easyaps/internal/timeline"
)

// State is the preload state of one day boundary.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateLoaded     State = "loaded"
)

func (s State) gauge() float64 {
	switch s {
	case StateInProgress:
		return 1
	case StateLoaded:
		return 2
	default:
		return 0
	}
}

// Trigger reasons, used in logs and events.
const (
	ReasonThreshold = "threshold"
	ReasonTail      = "tail"
	ReasonManual    = "manual"
)

// ErrNoTimeline is returned when a trigger arrives before any day is loaded.
var ErrNoTimeline = errors.New("timeline has no loaded day")

// Fetcher loads one broadcast day of records.
type Fetcher interface {
	Fetch(ctx context.Context, day clock.Day) ([]timeline.Record, error)
	Wait(ctx context.Context, day clock.Day, d time.Duration) error
}

// Config tunes the trigger policy and retry loop.
type Config struct {
	Threshold     int
	RetryInterval time.Duration
	MaxAttempts   int
}

// DefaultConfig returns the stock preload settings.
func DefaultConfig() Config {
	return Config{
		Threshold:     10,
		RetryInterval: time.Minute,
		MaxAttempts:   60,
	}
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Boundary  string `json:"boundary"`
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Coordinator runs at most one fetch per day boundary. The boundary is the
// day after the last day loaded into the timeline.
type Coordinator struct {
	tl      *timeline.Timeline
	fetcher Fetcher
	cfg     Config
	bus     events.Publisher
	logger  zerolog.Logger

	mu             sync.Mutex
	base           context.Context
	boundary       clock.Day
	state          State
	proactiveFired bool
	attempts       int
	lastErr        error

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator appending to tl.
func NewCoordinator(tl *timeline.Timeline, fetcher Fetcher, cfg Config, bus events.Publisher, logger zerolog.Logger) *Coordinator {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Coordinator{
		tl:      tl,
		fetcher: fetcher,
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With().Str("component", "preload").Logger(),
		state:   StateIdle,
	}
}

// Run binds manual triggers to ctx and blocks until ctx ends and every
// in-flight fetch has returned.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	<-ctx.Done()
	c.wg.Wait()
	return nil
}

// MaybePreload applies the proactive rule: the first time remaining drops to
// the threshold for a boundary, a fetch starts. It reports whether one did.
func (c *Coordinator) MaybePreload(ctx context.Context, remaining int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncBoundaryLocked() {
		return false
	}
	if remaining > c.cfg.Threshold || c.proactiveFired || c.state != StateIdle {
		return false
	}
	c.proactiveFired = true
	c.startLocked(ctx, ReasonThreshold)
	return true
}

// EnsureTail applies the reactive rule at the end of the timeline: a fetch
// starts if the boundary is idle. It returns the resulting state.
func (c *Coordinator) EnsureTail(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncBoundaryLocked() {
		return c.state
	}
	if c.state == StateIdle {
		c.startLocked(ctx, ReasonTail)
	}
	return c.state
}

// Trigger starts a fetch for the current boundary on operator request. It
// reports false when one is already running or the boundary is loaded.
func (c *Coordinator) Trigger() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncBoundaryLocked() {
		return false, ErrNoTimeline
	}
	if c.state != StateIdle {
		return false, nil
	}
	ctx := c.base
	if ctx == nil {
		ctx = context.Background()
	}
	c.startLocked(ctx, ReasonManual)
	return true, nil
}

// State returns the state of the current boundary.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns why the last fetch for the current boundary gave up.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status returns a copy of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Attempts: c.attempts}
	if !c.boundary.IsZero() {
		st.Boundary = c.boundary.String()
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Wait blocks until in-flight fetches return.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// syncBoundaryLocked moves to a fresh boundary once the previous one has
// been appended.
func (c *Coordinator) syncBoundaryLocked() bool {
	last, ok := c.tl.LastDay()
	if !ok {
		return false
	}
	next := last.AddDays(1)
	if c.boundary.Equal(next) {
		return true
	}
	if c.state == StateInProgress {
		return true
	}
	c.boundary = next
	c.state = StateIdle
	c.proactiveFired = false
	c.attempts = 0
	c.lastErr = nil
	telemetry.PreloadState.Set(c.state.gauge())
	return true
}

func (c *Coordinator) startLocked(ctx context.Context, reason string) {
	day := c.boundary
	c.state = StateInProgress
	c.lastErr = nil
	telemetry.PreloadState.Set(c.state.gauge())

	c.logger.Info().
		Str("broadcast_day", day.String()).
		Str("reason", reason).
		Int("remaining", c.tl.RemainingCount()).
		Msg("preload started")
	c.bus.Publish(events.EventPreload, events.Payload{
		"broadcast_day": day.String(),
		"state":         string(StateInProgress),
		"reason":        reason,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetch(ctx, day, reason)
	}()
}

func (c *Coordinator) fetch(ctx context.Context, day clock.Day, reason string) {
	ctx, span := telemetry.StartSpan(ctx, "preload", "preload.fetch",
		attribute.String("broadcast_day", day.String()),
		attribute.String("reason", reason),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		records, err := c.fetcher.Fetch(ctx, day)
		if err == nil {
			if err = c.append(day, records); err == nil {
				telemetry.PreloadAttempts.WithLabelValues("ok").Inc()
				span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int("records", len(records)))
				return
			}
		}

		transient := errors.Is(err, schedule.ErrSourceUnavailable) && ctx.Err() == nil
		if transient {
			telemetry.PreloadAttempts.WithLabelValues("unavailable").Inc()
		} else {
			telemetry.PreloadAttempts.WithLabelValues("error").Inc()
		}

		if !transient || attempt >= c.cfg.MaxAttempts {
			if transient {
				err = fmt.Errorf("gave up after %d attempts: %w", attempt, err)
			}
			telemetry.Fail(span, err)
			c.giveUp(day, attempt, err)
			return
		}

		c.logger.Warn().
			Err(err).
			Str("broadcast_day", day.String()).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Dur("retry_in", c.cfg.RetryInterval).
			Msg("next day timetable not available yet")

		if werr := c.fetcher.Wait(ctx, day, c.cfg.RetryInterval); werr != nil {
			telemetry.Fail(span, werr)
			c.giveUp(day, attempt, werr)
			return
		}
	}
}

func (c *Coordinator) append(day clock.Day, records []timeline.Record) error {
	overlap, err := c.tl.Load(day, records)
	if err != nil {
		return fmt.Errorf("append %s: %w", day, err)
	}
	if overlap > 0 {
		c.logger.Warn().
			Str("broadcast_day", day.String()).
			Int("records", overlap).
			Msg("preloaded records start before the current tail; they will play late")
	}

	c.mu.Lock()
	c.state = StateLoaded
	c.mu.Unlock()
	telemetry.PreloadState.Set(StateLoaded.gauge())

	c.logger.Info().
		Str("broadcast_day", day.String()).
		Int("records", len(records)).
		Int("timeline_len", c.tl.Len()).
		Msg("preload complete")
	c.bus.Publish(events.EventPreload, events.Payload{
		"broadcast_day": day.String(),
		"state":         string(StateLoaded),
		"records":       len(records),
	})
	return nil
}

func (c *Coordinator) giveUp(day clock.Day, attempts int, err error) {
	c.mu.Lock()
	c.state = StateIdle
	c.lastErr = err
	c.mu.Unlock()
	telemetry.PreloadState.Set(StateIdle.gauge())

	c.logger.Error().
		Err(err).
		Str("broadcast_day", day.String()).
		Int("attempts", attempts).
		Msg("preload gave up; boundary stays eligible for a later trigger")
	c.bus.Publish(events.EventPreload, events.Payload{
		"broadcast_day": day.String(),
		"state":         string(StateIdle),
		"error":         err.Error(),
	})
}
