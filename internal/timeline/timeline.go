/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline holds the ordered, append-only sequence of scheduled
// records and the cursor marking what is on air.
//
// Two goroutines share a Timeline: the playout loop, which is the only
// writer of the cursor, and the preloader, which only ever appends. Appends
// are guarded by an RWMutex; the cursor is an atomic. Neither lock is held
// across a wait.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/easyaps/internal/clock"
)

var (
	// ErrCursorRegression is returned when AdvanceTo would not move forward.
	ErrCursorRegression = errors.New("cursor must move forward")

	// ErrOutOfRange is returned for indices past the end of the timeline.
	ErrOutOfRange = errors.New("index out of range")

	// ErrDayLoaded is returned when a broadcast day is loaded twice.
	ErrDayLoaded = errors.New("broadcast day already loaded")

	// ErrEmptyBatch is returned when Load receives no records.
	ErrEmptyBatch = errors.New("no records to load")

	// ErrPathResolved is returned when a record's path is set a second time.
	ErrPathResolved = errors.New("record path already resolved")
)

// Timeline is the ordered record sequence for the active broadcast day and,
// once preloaded, the following one.
type Timeline struct {
	mu      sync.RWMutex
	records []Record
	days    []clock.Day

	cursor atomic.Int64
}

// New returns an empty timeline with the cursor before the first record.
func New() *Timeline {
	tl := &Timeline{}
	tl.cursor.Store(-1)
	return tl
}

// Load appends the records of one broadcast day. The batch is sorted by
// scheduled time, ties keeping their original order, and appended after the
// existing records, which are never moved. It returns how many records of
// the batch are scheduled before the previous tail; those still play, in
// sequence order.
func (tl *Timeline) Load(day clock.Day, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, ErrEmptyBatch
	}

	batch := make([]Record, len(records))
	copy(batch, records)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].ScheduledAt.Before(batch[j].ScheduledAt)
	})
	for i := range batch {
		if batch[i].Day.IsZero() {
			batch[i].Day = day
		}
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, d := range tl.days {
		if d.Equal(day) {
			return 0, fmt.Errorf("%w: %s", ErrDayLoaded, day)
		}
	}

	overlap := 0
	if n := len(tl.records); n > 0 {
		tail := tl.records[n-1].ScheduledAt
		for _, r := range batch {
			if !r.ScheduledAt.Before(tail) {
				break
			}
			overlap++
		}
	}

	tl.records = append(tl.records, batch...)
	tl.days = append(tl.days, day)
	return overlap, nil
}

// AdvanceTo commits index as the record on air. It fails without changing
// anything when index does not move the cursor forward.
func (tl *Timeline) AdvanceTo(index int) error {
	cur := tl.cursor.Load()
	if int64(index) <= cur {
		return fmt.Errorf("%w: at %d, asked for %d", ErrCursorRegression, cur, index)
	}
	if index >= tl.Len() {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if !tl.cursor.CompareAndSwap(cur, int64(index)) {
		return fmt.Errorf("%w: concurrent advance", ErrCursorRegression)
	}
	return nil
}

// CurrentIndex returns the cursor, -1 before the first advance.
func (tl *Timeline) CurrentIndex() int {
	return int(tl.cursor.Load())
}

// Len returns the number of records loaded.
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.records)
}

// At returns the record at index.
func (tl *Timeline) At(index int) (Record, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if index < 0 || index >= len(tl.records) {
		return Record{}, false
	}
	return tl.records[index], true
}

// Current returns the record at the cursor.
func (tl *Timeline) Current() (Record, bool) {
	return tl.At(tl.CurrentIndex())
}

// Next returns the first record after the cursor and whether it is due at
// now. Stale records are returned like any other; nothing is skipped.
func (tl *Timeline) Next(now time.Time) (rec Record, index int, due bool, ok bool) {
	index = tl.CurrentIndex() + 1
	rec, ok = tl.At(index)
	if !ok {
		return Record{}, -1, false, false
	}
	return rec, index, !rec.ScheduledAt.After(now), true
}

// LatestDue returns the last record after the cursor whose scheduled time
// is not after now. It is used once at startup to find what should already
// be on air.
func (tl *Timeline) LatestDue(now time.Time) (Record, int, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	found := -1
	for i := int(tl.cursor.Load()) + 1; i < len(tl.records); i++ {
		if tl.records[i].ScheduledAt.After(now) {
			break
		}
		found = i
	}
	if found < 0 {
		return Record{}, -1, false
	}
	return tl.records[found], found, true
}

// RemainingCount returns how many records follow the cursor.
func (tl *Timeline) RemainingCount() int {
	return tl.Len() - tl.CurrentIndex() - 1
}

// IsAtTail reports whether the cursor sits on the last record.
func (tl *Timeline) IsAtTail() bool {
	return tl.CurrentIndex() >= tl.Len()-1
}

// LastDay returns the most recently loaded broadcast day.
func (tl *Timeline) LastDay() (clock.Day, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if len(tl.days) == 0 {
		return clock.Day{}, false
	}
	return tl.days[len(tl.days)-1], true
}

// Days returns the loaded broadcast days in load order.
func (tl *Timeline) Days() []clock.Day {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	out := make([]clock.Day, len(tl.days))
	copy(out, tl.days)
	return out
}

// SetResolvedPath records the playable path for the record at index.
// A path is set once; later calls fail.
func (tl *Timeline) SetResolvedPath(index int, path string) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if index < 0 || index >= len(tl.records) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if tl.records[index].ResolvedPath != "" {
		return fmt.Errorf("%w: index %d", ErrPathResolved, index)
	}
	tl.records[index].ResolvedPath = path
	return nil
}

// View is a read-only copy of the timeline's position.
type View struct {
	Cursor  int
	Len     int
	Current *Record
	Next    *Record
	Days    []clock.Day
}

// Snapshot copies the records around the cursor.
func (tl *Timeline) Snapshot() View {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	cur := int(tl.cursor.Load())
	v := View{Cursor: cur, Len: len(tl.records)}
	if cur >= 0 && cur < len(tl.records) {
		r := tl.records[cur]
		v.Current = &r
	}
	if cur+1 < len(tl.records) {
		r := tl.records[cur+1]
		v.Next = &r
	}
	v.Days = make([]clock.Day, len(tl.days))
	copy(v.Days, tl.days)
	return v
}
