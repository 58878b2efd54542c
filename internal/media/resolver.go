/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media maps timetable item keys to playable files.
package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/timeline"
)

// Sentinel paths for records that have nothing to play.
const (
	PathSilence = "SILENCE"
	PathStudio  = "STUDIO"
)

// Extensions lists the playable file extensions in preference order.
var Extensions = []string{".mp3", ".m4a"}

// Resolution is the outcome of resolving one record.
type Resolution struct {
	Kind     timeline.Kind
	Path     string
	Fallback bool
}

// Playable reports whether there is a file to hand to the player.
func (r Resolution) Playable() bool {
	return r.Kind == timeline.KindMedia && r.Path != PathSilence
}

// Resolver looks up item files under a contents directory.
type Resolver struct {
	dir      string
	fallback string
	logger   zerolog.Logger
}

// NewResolver returns a resolver searching dir, substituting fallback for
// items that cannot be found.
func NewResolver(dir, fallback string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		dir:      dir,
		fallback: fallback,
		logger:   logger.With().Str("component", "media").Logger(),
	}
}

// Resolve maps rec to a file. Silence and studio records resolve to their
// sentinels. A missing item falls back to the fallback file, and to
// silence when the fallback is missing too.
func (r *Resolver) Resolve(rec timeline.Record) Resolution {
	switch rec.Kind {
	case timeline.KindSilence:
		return Resolution{Kind: timeline.KindSilence, Path: PathSilence}
	case timeline.KindStudio:
		return Resolution{Kind: timeline.KindStudio, Path: PathStudio}
	}

	if path, ok := r.Find(rec.ItemKey); ok {
		return Resolution{Kind: timeline.KindMedia, Path: path}
	}

	r.logger.Warn().
		Str("item_key", rec.ItemKey).
		Str("dir", r.dir).
		Strs("extensions", Extensions).
		Str("fallback", r.fallback).
		Msg("media file not found, using fallback")

	if _, err := os.Stat(r.fallback); err != nil {
		r.logger.Warn().Str("fallback", r.fallback).Msg("fallback file missing, continuing with silence")
		return Resolution{Kind: timeline.KindMedia, Path: PathSilence, Fallback: true}
	}
	return Resolution{Kind: timeline.KindMedia, Path: r.fallback, Fallback: true}
}

// Find searches the contents tree, following symlinks, for a file named
// <key>.<anything> ending in a playable extension. Names compare without
// regard to case.
func (r *Resolver) Find(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	prefix := strings.ToLower(key) + "."

	var found string
	visited := make(map[string]bool)
	var walk func(dir string) bool
	walk = func(dir string) bool {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil || visited[resolved] {
			return false
		}
		visited[resolved] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Debug().Err(err).Str("dir", dir).Msg("skip unreadable directory")
			return false
		}
		var subdirs []string
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.IsDir() {
				subdirs = append(subdirs, path)
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			name := strings.ToLower(e.Name())
			if strings.HasPrefix(name, prefix) && playable(name) {
				found = path
				return true
			}
		}
		for _, sub := range subdirs {
			if walk(sub) {
				return true
			}
		}
		return false
	}

	if walk(r.dir) {
		return found, true
	}
	return "", false
}

func playable(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
