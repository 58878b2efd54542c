/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/telemetry"
	"github.com/friendsincode/easyaps/internal/timeline"
)

// Loader fetches and parses whole broadcast days.
type Loader struct {
	src    Source
	parser *Parser
	logger zerolog.Logger
}

// NewLoader returns a loader reading from src.
func NewLoader(src Source, parser *Parser, logger zerolog.Logger) *Loader {
	return &Loader{
		src:    src,
		parser: parser,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// Fetch reads and parses the timetable of day. Skipped rows are logged as
// warnings. A timetable without any valid row yields ErrNoRecords.
func (l *Loader) Fetch(ctx context.Context, day clock.Day) ([]timeline.Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "schedule", "schedule.fetch",
		attribute.String("broadcast_day", day.String()),
		attribute.String("source", l.src.Describe(day)),
	)
	defer span.End()

	rc, err := l.src.Open(ctx, day)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	defer rc.Close()

	records, diags, err := l.parser.Parse(rc, day)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, fmt.Errorf("parse %s: %w", l.src.Describe(day), err)
	}
	for _, d := range diags {
		l.logger.Warn().
			Str("file", l.src.Describe(day)).
			Int("line", d.Line).
			Err(d.Err).
			Msg(d.Reason)
	}
	span.SetAttributes(attribute.Int("records", len(records)), attribute.Int("skipped", len(diags)))

	if len(records) == 0 {
		telemetry.Fail(span, ErrNoRecords)
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, l.src.Describe(day))
	}

	l.logger.Info().
		Str("file", l.src.Describe(day)).
		Str("broadcast_day", day.String()).
		Int("records", len(records)).
		Int("skipped", len(diags)).
		Msg("timetable loaded")
	return records, nil
}

// Wait blocks for up to d, returning early when the source reports that the
// day's timetable has appeared.
func (l *Loader) Wait(ctx context.Context, day clock.Day, d time.Duration) error {
	if w, ok := l.src.(Waiter); ok {
		return w.Wait(ctx, day, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FetchWithRetry keeps fetching while the source is unavailable, waiting
// interval between attempts. attempts <= 0 retries until ctx ends.
func (l *Loader) FetchWithRetry(ctx context.Context, day clock.Day, interval time.Duration, attempts int) ([]timeline.Record, error) {
	for attempt := 1; ; attempt++ {
		records, err := l.Fetch(ctx, day)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		if attempts > 0 && attempt >= attempts {
			return nil, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		l.logger.Warn().
			Str("file", l.src.Describe(day)).
			Int("attempt", attempt).
			Dur("retry_in", interval).
			Msg("timetable not found, waiting")

		if err := l.Wait(ctx, day, interval); err != nil {
			return nil, err
		}
	}
}
