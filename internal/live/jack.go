/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/easyaps/internal/extcmd"
)

// PortPair is one JACK connection of the studio route.
type PortPair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func (p PortPair) String() string {
	return p.From + "->" + p.To
}

// ParsePortPair parses "from->to" or "from=to".
func ParsePortPair(s string) (PortPair, error) {
	for _, sep := range []string{"->", "="} {
		if from, to, ok := strings.Cut(s, sep); ok {
			from, to = strings.TrimSpace(from), strings.TrimSpace(to)
			if from != "" && to != "" {
				return PortPair{From: from, To: to}, nil
			}
		}
	}
	return PortPair{}, fmt.Errorf("invalid port pair %q", s)
}

// DefaultPortPairs bridges the first stereo capture pair to playback.
func DefaultPortPairs() []PortPair {
	return []PortPair{
		{From: "system:capture_1", To: "system:playback_1"},
		{From: "system:capture_2", To: "system:playback_2"},
	}
}

// JACKConfig names the JACK client tools and the ports to bridge.
type JACKConfig struct {
	LspBin        string
	ConnectBin    string
	DisconnectBin string
	Pairs         []PortPair
	Timeout       time.Duration
}

// DefaultJACKConfig returns the stock tool names and port pairs.
func DefaultJACKConfig() JACKConfig {
	return JACKConfig{
		LspBin:        "jack_lsp",
		ConnectBin:    "jack_connect",
		DisconnectBin: "jack_disconnect",
		Pairs:         DefaultPortPairs(),
		Timeout:       3 * time.Second,
	}
}

// jack_connect and jack_disconnect exit 1 with these when the pair is
// already in the requested state.
const (
	msgAlreadyConnected    = "already connected"
	msgAlreadyDisconnected = "already disconnected"
)

// JACKRouter implements Router with the JACK command line tools.
type JACKRouter struct {
	run extcmd.Runner
	cfg JACKConfig

	mu    sync.Mutex
	known map[PortPair]bool // last query result, consumed by Establish
}

// NewJACKRouter returns a router driving JACK through run.
func NewJACKRouter(run extcmd.Runner, cfg JACKConfig) *JACKRouter {
	return &JACKRouter{run: run, cfg: cfg}
}

// QueryConnected implements Router. The route counts as connected only when
// every configured pair is.
func (j *JACKRouter) QueryConnected(ctx context.Context) (bool, extcmd.Result) {
	conns, res := j.connections(ctx)
	if !res.OK() {
		j.remember(nil)
		return false, res
	}
	j.remember(conns)
	for _, p := range j.cfg.Pairs {
		if !conns[p] {
			return false, res
		}
	}
	return true, res
}

// Establish implements Router. Pairs the preceding QueryConnected saw
// connected are left alone; without one, every pair is connected and
// jack_connect reporting a pair already connected counts as success.
func (j *JACKRouter) Establish(ctx context.Context) extcmd.Result {
	conns := j.take()
	res := extcmd.Result{Op: "jack establish"}
	for _, p := range j.cfg.Pairs {
		if conns[p] {
			continue
		}
		r := j.run.Run(ctx, j.cfg.Timeout, j.cfg.ConnectBin, p.From, p.To)
		res.Duration += r.Duration
		if !r.OK() && !inState(r, msgAlreadyConnected) {
			r.Duration = res.Duration
			return r
		}
	}
	return res
}

// Teardown implements Router. A pair jack_disconnect reports as already
// disconnected counts as success; any other failure is returned.
func (j *JACKRouter) Teardown(ctx context.Context) extcmd.Result {
	j.remember(nil)
	res := extcmd.Result{Op: "jack teardown"}
	for _, p := range j.cfg.Pairs {
		r := j.run.Run(ctx, j.cfg.Timeout, j.cfg.DisconnectBin, p.From, p.To)
		res.Duration += r.Duration
		if !r.OK() && !inState(r, msgAlreadyDisconnected) {
			r.Duration = res.Duration
			return r
		}
	}
	return res
}

// inState reports whether r failed only because the pair was already in the
// requested state.
func inState(r extcmd.Result, msg string) bool {
	if !errors.Is(r.Err, extcmd.ErrExitStatus) {
		return false
	}
	return strings.Contains(strings.ToLower(r.Stderr+r.Stdout), msg)
}

func (j *JACKRouter) remember(conns map[PortPair]bool) {
	j.mu.Lock()
	j.known = conns
	j.mu.Unlock()
}

func (j *JACKRouter) take() map[PortPair]bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	conns := j.known
	j.known = nil
	return conns
}

func (j *JACKRouter) connections(ctx context.Context) (map[PortPair]bool, extcmd.Result) {
	res := j.run.Run(ctx, j.cfg.Timeout, j.cfg.LspBin, "-c")
	if !res.OK() {
		return nil, res
	}
	return ParseConnections(res.Stdout), res
}

// ParseConnections reads `jack_lsp -c` output: each port name at column
// zero, followed by its peers on indented lines.
func ParseConnections(out string) map[PortPair]bool {
	conns := make(map[PortPair]bool)
	var current string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			current = trimmed
			continue
		}
		if current != "" {
			conns[PortPair{From: current, To: trimmed}] = true
		}
	}
	return conns
}
