/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models holds the persisted shapes.
package models

import "time"

// AsRunEntry records one record put on air, as it actually aired.
type AsRunEntry struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	RunID        string    `gorm:"type:varchar(36);index:idx_asrun_run"`
	BroadcastDay string    `gorm:"type:varchar(10);index:idx_asrun_day;not null"`
	RecordID     string    `gorm:"type:varchar(64)"`
	RowIndex     int       // position in the timeline
	ItemKey      string    `gorm:"type:varchar(255);index:idx_asrun_item"`
	Kind         string    `gorm:"type:varchar(16);not null"`
	Path         string    `gorm:"type:varchar(1024)"`
	Fallback     bool      // the requested file was missing
	Title        string    `gorm:"type:varchar(255)"`
	Artist       string    `gorm:"type:varchar(255)"`
	Route        string    `gorm:"type:varchar(16)"`
	Phase        string    `gorm:"type:varchar(16)"` // catching_up or due
	ScheduledAt  time.Time `gorm:"index:idx_asrun_scheduled;not null"`
	StartedAt    time.Time `gorm:"not null"`
	OffsetMS     int64     // seek into the file on a late start
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AsRunEntry) TableName() string {
	return "as_run_log"
}

// Late reports how far behind schedule the entry started.
func (e AsRunEntry) Late() time.Duration {
	if d := e.StartedAt.Sub(e.ScheduledAt); d > 0 {
		return d
	}
	return 0
}
