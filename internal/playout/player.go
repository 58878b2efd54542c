/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/extcmd"
)

// Player starts playback of a file. Play returns once the player has been
// launched; it does not wait for the item to finish.
type Player interface {
	Play(ctx context.Context, path string, offset time.Duration) extcmd.Result
}

// Monitor reports what the player is doing, for the status line.
type Monitor interface {
	// Position returns the elapsed output time of the current song.
	Position(ctx context.Context) (time.Duration, bool)
	// PlaybackStatus returns "playing", "paused", "stopped", or "" when unknown.
	PlaybackStatus(ctx context.Context) string
}

// AudaciousConfig names the player binaries.
type AudaciousConfig struct {
	Bin        string
	CtlBin     string
	SeekDelay  time.Duration
	CtlTimeout time.Duration
}

// DefaultAudaciousConfig returns the stock audacious settings.
func DefaultAudaciousConfig() AudaciousConfig {
	return AudaciousConfig{
		Bin:        "audacious",
		CtlBin:     "audtool",
		SeekDelay:  time.Second,
		CtlTimeout: 2 * time.Second,
	}
}

// Audacious drives the audacious player through its command line and
// audtool. It cannot start mid-file, so late starts launch the file and seek
// once the player has had SeekDelay to load it.
type Audacious struct {
	run    extcmd.Runner
	cfg    AudaciousConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewAudacious returns a player using run for every subprocess.
func NewAudacious(run extcmd.Runner, cfg AudaciousConfig, logger zerolog.Logger) *Audacious {
	return &Audacious{
		run:    run,
		cfg:    cfg,
		logger: logger.With().Str("component", "player").Logger(),
	}
}

// Play implements Player.
func (a *Audacious) Play(ctx context.Context, path string, offset time.Duration) extcmd.Result {
	res := a.run.Start(ctx, a.cfg.Bin, path)
	if !res.OK() || offset <= 0 {
		return res
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(a.cfg.SeekDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// the item kept running while the player loaded
		target := offset + a.cfg.SeekDelay
		seek := a.run.Run(ctx, a.cfg.CtlTimeout, a.cfg.CtlBin, "playback-seek", strconv.Itoa(int(target.Seconds())))
		if !seek.OK() {
			a.logger.Warn().Err(seek.Err).Str("file", path).Msg("seek failed, playing from the start")
			return
		}
		a.logger.Debug().Str("file", path).Dur("position", target).Msg("seeked")
	}()
	return res
}

// Position implements Monitor.
func (a *Audacious) Position(ctx context.Context) (time.Duration, bool) {
	res := a.run.Run(ctx, a.cfg.CtlTimeout, a.cfg.CtlBin, "current-song-output-length-seconds")
	if !res.OK() {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// PlaybackStatus implements Monitor.
func (a *Audacious) PlaybackStatus(ctx context.Context) string {
	res := a.run.Run(ctx, a.cfg.CtlTimeout, a.cfg.CtlBin, "playback-status")
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// Wait blocks until pending seeks have finished.
func (a *Audacious) Wait() {
	a.wg.Wait()
}
