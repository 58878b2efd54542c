/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"strings"
	"time"

	"github.com/friendsincode/easyaps/internal/clock"
)

// Kind classifies what a record asks the station to air.
type Kind string

const (
	KindMedia   Kind = "media"
	KindSilence Kind = "silence"
	KindStudio  Kind = "studio"
)

// Sentinel item keys used in timetables.
const (
	KeySilence = "SLT"
	KeyStudio  = "ST"
)

// ClassifyKey maps a timetable item key to a Kind.
func ClassifyKey(key string) Kind {
	key = strings.TrimSpace(key)
	switch {
	case key == "" || strings.EqualFold(key, KeySilence):
		return KindSilence
	case strings.EqualFold(key, KeyStudio):
		return KindStudio
	default:
		return KindMedia
	}
}

// Record is one timetable entry.
type Record struct {
	ID          string
	ScheduledAt time.Time
	SourceTag   string
	MixTag      string
	ItemKey     string
	Kind        Kind
	Day         clock.Day
	Row         int

	// ResolvedPath is filled by the media resolver right before playback.
	ResolvedPath string
}

// IsStudio reports whether the record is a live studio segment.
func (r Record) IsStudio() bool {
	return r.Kind == KindStudio
}

// IsSilence reports whether the record airs nothing.
func (r Record) IsSilence() bool {
	return r.Kind == KindSilence
}
