/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package asrun keeps a durable log of what actually went on air.
package asrun

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/models"
	"github.com/friendsincode/easyaps/internal/telemetry"
)

// ErrBadPayload marks a now_playing payload missing required fields.
var ErrBadPayload = errors.New("asrun: malformed now_playing payload")

// EventSource is the subscribing half of the event bus.
type EventSource interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// maxPending caps media_info payloads held for rows not yet written.
const maxPending = 64

// Recorder writes one row per now_playing event and fills in its title from
// the matching media_info event. Write failures are logged and never reach
// the playout loop.
type Recorder struct {
	db     *gorm.DB
	bus    EventSource
	sub    events.Subscriber
	info   events.Subscriber
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]events.Payload
}

// NewRecorder subscribes immediately so no event published after
// construction is missed.
func NewRecorder(database *gorm.DB, bus EventSource, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:      database,
		bus:     bus,
		sub:     bus.Subscribe(events.EventNowPlaying),
		info:    bus.Subscribe(events.EventMediaInfo),
		logger:  logger.With().Str("component", "asrun").Logger(),
		pending: make(map[string]events.Payload),
	}
}

// Run drains the subscriptions until ctx ends.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.bus.Unsubscribe(events.EventNowPlaying, r.sub)
	defer r.bus.Unsubscribe(events.EventMediaInfo, r.info)
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-r.sub:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, payload); err != nil {
				r.logger.Warn().Err(err).Msg("as-run write failed")
			}
		case payload, ok := <-r.info:
			if !ok {
				return nil
			}
			if err := r.Annotate(ctx, payload); err != nil {
				r.logger.Warn().Err(err).Msg("as-run annotate failed")
			}
		}
	}
}

// Record stores a single now_playing payload.
func (r *Recorder) Record(ctx context.Context, payload events.Payload) error {
	entry, err := EntryFromPayload(payload)
	if err != nil {
		telemetry.AsRunWrites.WithLabelValues("invalid").Inc()
		return err
	}

	r.mu.Lock()
	key := rowKey(payload)
	if info, ok := r.pending[key]; ok {
		delete(r.pending, key)
		entry.Title = str(info, "title")
		entry.Artist = str(info, "artist")
	}
	r.mu.Unlock()

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		telemetry.AsRunWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("insert as-run entry: %w", err)
	}
	telemetry.AsRunWrites.WithLabelValues("ok").Inc()
	return nil
}

// Annotate fills the title and artist of the row a media_info payload
// belongs to. Info arriving before its row is held until Record writes it.
func (r *Recorder) Annotate(ctx context.Context, payload events.Payload) error {
	res := r.db.WithContext(ctx).
		Model(&models.AsRunEntry{}).
		Where("run_id = ? AND record_id = ? AND row_index = ?", str(payload, "run_id"), str(payload, "record_id"), num(payload, "index")).
		Updates(map[string]any{
			"title":  str(payload, "title"),
			"artist": str(payload, "artist"),
		})
	if res.Error != nil {
		return fmt.Errorf("annotate as-run entry: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= maxPending {
		clear(r.pending)
	}
	r.pending[rowKey(payload)] = payload
	return nil
}

func rowKey(p events.Payload) string {
	return str(p, "run_id") + "/" + str(p, "record_id") + "/" + strconv.FormatInt(num(p, "index"), 10)
}

// Day lists the entries of one broadcast day (YYYY-MM-DD) in air order.
func (r *Recorder) Day(ctx context.Context, day string) ([]models.AsRunEntry, error) {
	return ListDay(ctx, r.db, day)
}

// ListDay lists the entries of one broadcast day in air order.
func ListDay(ctx context.Context, database *gorm.DB, day string) ([]models.AsRunEntry, error) {
	var entries []models.AsRunEntry
	err := database.WithContext(ctx).
		Where("broadcast_day = ?", day).
		Order("started_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list as-run %s: %w", day, err)
	}
	return entries, nil
}

// EntryFromPayload maps a now_playing payload onto a row. It accepts both
// in-process payloads and ones that went through JSON.
func EntryFromPayload(p events.Payload) (models.AsRunEntry, error) {
	entry := models.AsRunEntry{
		ID:           uuid.NewString(),
		RunID:        str(p, "run_id"),
		BroadcastDay: str(p, "broadcast_day"),
		RecordID:     str(p, "record_id"),
		RowIndex:     int(num(p, "index")),
		ItemKey:      str(p, "item_key"),
		Kind:         str(p, "kind"),
		Path:         str(p, "path"),
		Fallback:     flag(p, "fallback"),
		Title:        str(p, "title"),
		Artist:       str(p, "artist"),
		Route:        str(p, "route"),
		Phase:        str(p, "phase"),
		ScheduledAt:  stamp(p, "scheduled_at"),
		StartedAt:    stamp(p, "started_at"),
		OffsetMS:     num(p, "offset_ms"),
	}
	if entry.BroadcastDay == "" || entry.Kind == "" || entry.ScheduledAt.IsZero() || entry.StartedAt.IsZero() {
		return models.AsRunEntry{}, ErrBadPayload
	}
	return entry, nil
}

func str(p events.Payload, key string) string {
	s, _ := p[key].(string)
	return s
}

func flag(p events.Payload, key string) bool {
	b, _ := p[key].(bool)
	return b
}

func num(p events.Payload, key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func stamp(p events.Payload, key string) time.Time {
	switch v := p[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
