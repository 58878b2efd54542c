/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so an operator
// can read them over HTTP without access to the console.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 2000

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New returns an empty buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add stores e, evicting the oldest entry when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Entries returns every entry, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := range out {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// Query filters the buffer. Zero values match everything.
type Query struct {
	MinLevel  zerolog.Level // entries below this level are dropped
	Component string
	Search    string // case-insensitive match on message and string fields
	Since     time.Time
	Limit     int
}

// Find returns matching entries, newest first.
func (b *Buffer) Find(q Query) []Entry {
	all := b.Entries()
	search := strings.ToLower(q.Search)

	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.MinLevel > zerolog.DebugLevel && levelOf(e.Level) < q.MinLevel {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if search != "" && !e.matches(search) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (e Entry) matches(lowered string) bool {
	if strings.Contains(strings.ToLower(e.Message), lowered) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowered) {
			return true
		}
	}
	return false
}

func levelOf(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel
	}
	return lvl
}

// Stats summarises the buffer.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

// Stats counts entries per level.
func (b *Buffer) Stats() Stats {
	entries := b.Entries()
	stats := Stats{
		Capacity:   b.capacity,
		Count:      len(entries),
		LevelCount: make(map[string]int),
	}
	for _, e := range entries {
		stats.LevelCount[e.Level]++
	}
	return stats
}

// Writer feeds zerolog JSON lines into a Buffer. Lines that are not JSON
// objects are ignored.
type Writer struct {
	buffer *Buffer
	now    func() time.Time
}

// NewWriter returns a writer capturing into b.
func NewWriter(b *Buffer) *Writer {
	return &Writer{buffer: b, now: time.Now}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	e := Entry{Timestamp: w.now()}
	if v, ok := raw[zerolog.LevelFieldName].(string); ok {
		e.Level = v
	}
	if v, ok := raw[zerolog.MessageFieldName].(string); ok {
		e.Message = v
	}
	if v, ok := raw["component"].(string); ok {
		e.Component = v
	}
	switch ts := raw[zerolog.TimestampFieldName].(type) {
	case float64:
		e.Timestamp = time.Unix(int64(ts), 0)
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t
		}
	}

	for _, k := range []string{zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, "component"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.Fields = raw
	}

	w.buffer.Add(e)
	return len(p), nil
}
