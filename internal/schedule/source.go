/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule locates and parses per-day timetables.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/clock"
)

var (
	// ErrSourceUnavailable means the timetable for a day does not exist yet.
	ErrSourceUnavailable = errors.New("timetable source unavailable")

	// ErrNoRecords means a timetable was read but held no usable rows.
	ErrNoRecords = errors.New("timetable has no valid records")
)

// Source opens the raw timetable of a broadcast day.
type Source interface {
	// Open returns the timetable, or ErrSourceUnavailable when it is missing.
	Open(ctx context.Context, day clock.Day) (io.ReadCloser, error)
	// Describe names the timetable location for logs.
	Describe(day clock.Day) string
}

// Waiter is implemented by sources that can report the arrival of a
// timetable before a retry interval elapses.
type Waiter interface {
	Wait(ctx context.Context, day clock.Day, max time.Duration) error
}

// FileName returns the timetable file name for a day (YYMMDD.csv).
func FileName(day clock.Day) string {
	return day.FileStem() + ".csv"
}

// DefaultSettle is how long a timetable's size must hold still before Wait
// reports it as arrived.
const DefaultSettle = 250 * time.Millisecond

// DirSource reads timetables from a directory of YYMMDD.csv files.
type DirSource struct {
	dir    string
	settle time.Duration
	logger zerolog.Logger
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string, logger zerolog.Logger) *DirSource {
	return &DirSource{dir: dir, settle: DefaultSettle, logger: logger}
}

// Path returns the file path of a day's timetable.
func (s *DirSource) Path(day clock.Day) string {
	return filepath.Join(s.dir, FileName(day))
}

// Describe implements Source.
func (s *DirSource) Describe(day clock.Day) string {
	return s.Path(day)
}

// Open implements Source.
func (s *DirSource) Open(_ context.Context, day clock.Day) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, s.Path(day))
	}
	if err != nil {
		return nil, fmt.Errorf("open timetable: %w", err)
	}
	return f, nil
}

// Wait blocks until the day's file exists with content that has stopped
// growing, max elapses, or ctx ends. It falls back to a plain sleep when the
// directory cannot be watched.
func (s *DirSource) Wait(ctx context.Context, day clock.Day, max time.Duration) error {
	target := s.Path(day)
	timer := time.NewTimer(max)
	defer timer.Stop()

	if present(target) {
		return s.settled(ctx, target, timer.C)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() {
			_ = watcher.Close()
		}()
		err = watcher.Add(s.dir)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("dir", s.dir).Msg("timetable dir not watchable, sleeping instead")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	// the file may have landed between the first check and Add
	if present(target) {
		return s.settled(ctx, target, timer.C)
	}

	name := filepath.Base(target)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && present(target) {
				s.logger.Debug().Str("file", target).Msg("timetable appeared")
				return s.settled(ctx, target, timer.C)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(werr).Msg("timetable watcher error")
		}
	}
}

// settled waits until target's size is unchanged across one settle period.
// Running out of time returns nil and leaves the caller to read what is there.
func (s *DirSource) settled(ctx context.Context, target string, expired <-chan time.Time) error {
	tick := time.NewTicker(s.settle)
	defer tick.Stop()

	last := size(target)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return nil
		case <-tick.C:
			cur := size(target)
			if cur > 0 && cur == last {
				return nil
			}
			last = cur
		}
	}
}

func present(path string) bool {
	return size(path) > 0
}

func size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
