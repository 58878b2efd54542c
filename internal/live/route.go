/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package live controls the studio audio route that bridges the live
// microphone chain to the output while the timetable calls for a studio
// segment.
package live

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/extcmd"
	"github.com/friendsincode/easyaps/internal/telemetry"
	"github.com/friendsincode/easyaps/internal/timeline"
)

// RouteState is the believed state of the studio route.
type RouteState string

const (
	RouteDirect RouteState = "direct"
	RouteRouted RouteState = "routed"
)

// Router talks to the external audio router.
type Router interface {
	// QueryConnected reports whether the studio route is currently bridged.
	QueryConnected(ctx context.Context) (bool, extcmd.Result)
	// Establish bridges the studio route.
	Establish(ctx context.Context) extcmd.Result
	// Teardown removes the studio route. Removing an absent route succeeds.
	Teardown(ctx context.Context) extcmd.Result
}

// Controller reconciles the route with the record on air. Only the playout
// loop calls Reconcile.
type Controller struct {
	router Router
	bus    events.Publisher
	logger zerolog.Logger

	mu    sync.RWMutex
	state RouteState
}

// NewController returns a controller that assumes the route starts direct.
func NewController(router Router, bus events.Publisher, logger zerolog.Logger) *Controller {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Controller{
		router: router,
		bus:    bus,
		logger: logger.With().Str("component", "route").Logger(),
		state:  RouteDirect,
	}
}

// State returns the cached route state.
func (c *Controller) State() RouteState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Reconcile brings the route in line with rec. Studio records query the
// router and bridge only when not already connected; every other record
// tears the route down unconditionally. Router failures are logged and the
// cached state is left unchanged.
func (c *Controller) Reconcile(ctx context.Context, rec timeline.Record) RouteState {
	if rec.IsStudio() {
		c.ensureRouted(ctx, rec)
	} else {
		c.ensureDirect(ctx, rec)
	}
	return c.State()
}

func (c *Controller) ensureRouted(ctx context.Context, rec timeline.Record) {
	connected, res := c.router.QueryConnected(ctx)
	if !res.OK() {
		// an unknown state is treated as not connected
		c.logger.Warn().Err(res.Err).Str("op", res.Op).Msg("route query failed")
		connected = false
	}
	if connected {
		c.setState(RouteRouted, rec)
		return
	}

	res = c.router.Establish(ctx)
	if !res.OK() {
		c.logger.Error().
			Err(res.Err).
			Str("op", res.Op).
			Str("stderr", res.Stderr).
			Str("item_key", rec.ItemKey).
			Msg("studio route establish failed")
		return
	}
	c.logger.Info().Str("item_key", rec.ItemKey).Msg("studio route established")
	c.setState(RouteRouted, rec)
}

func (c *Controller) ensureDirect(ctx context.Context, rec timeline.Record) {
	res := c.router.Teardown(ctx)
	if !res.OK() {
		c.logger.Error().
			Err(res.Err).
			Str("op", res.Op).
			Str("stderr", res.Stderr).
			Msg("studio route teardown failed")
		return
	}
	c.setState(RouteDirect, rec)
}

func (c *Controller) setState(next RouteState, rec timeline.Record) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if next == RouteRouted {
		telemetry.RouteState.Set(1)
	} else {
		telemetry.RouteState.Set(0)
	}
	if prev == next {
		return
	}

	c.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("route state changed")
	c.bus.Publish(events.EventRouteChange, events.Payload{
		"from":      string(prev),
		"to":        string(next),
		"record_id": rec.ID,
		"item_key":  rec.ItemKey,
	})
}
