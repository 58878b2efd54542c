/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package extcmd runs the external programs the station depends on
// (player, player control, audio router) and reports each call as a Result
// instead of letting failures escape as panics or unchecked errors.
package extcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/telemetry"
)

var (
	// ErrNotFound means the program is not installed or not on PATH.
	ErrNotFound = errors.New("command not found")

	// ErrTimeout means the call exceeded its own deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrExitStatus means the program ran and exited non-zero.
	ErrExitStatus = errors.New("command exited non-zero")
)

// Result is the outcome of one external call.
type Result struct {
	Op       string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Exited reports whether the program ran to completion, successfully or not.
func (r Result) Exited() bool {
	return r.Err == nil || errors.Is(r.Err, ErrExitStatus)
}

// Failure wraps a non-command error into a Result, for callers that fail
// before reaching a subprocess.
func Failure(op string, err error) Result {
	return Result{Op: op, ExitCode: -1, Err: err}
}

// Runner executes external programs.
type Runner interface {
	// Run executes the program and waits for it, bounded by timeout.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
	// Start launches the program without waiting for it to exit.
	Start(ctx context.Context, name string, args ...string) Result
}

// Exec is the os/exec backed Runner.
type Exec struct {
	logger  zerolog.Logger
	wg      sync.WaitGroup
	running atomic.Int64
}

// NewExec returns a Runner backed by os/exec.
func NewExec(logger zerolog.Logger) *Exec {
	return &Exec{logger: logger.With().Str("component", "extcmd").Logger()}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	op := opName(name, args)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Op:       op,
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	res.ExitCode, res.Err = classify(ctx, cmd, err)
	record(name, res)

	if !res.OK() {
		e.logger.Debug().
			Err(res.Err).
			Str("op", op).
			Int("exit_code", res.ExitCode).
			Str("stderr", res.Stderr).
			Msg("external command failed")
	}
	return res
}

// Start implements Runner. The child is reaped in the background and may
// outlive the caller; a long-lived player is never killed on shutdown.
func (e *Exec) Start(ctx context.Context, name string, args ...string) Result {
	op := opName(name, args)
	cmd := exec.Command(name, args...)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res := Result{Op: op, ExitCode: -1, Duration: time.Since(start)}
		_, res.Err = classify(ctx, cmd, err)
		record(name, res)
		return res
	}

	e.wg.Add(1)
	e.running.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Add(-1)
		if err := cmd.Wait(); err != nil {
			e.logger.Debug().Err(err).Str("op", op).Msg("background command exited")
		}
	}()

	res := Result{Op: op, Duration: time.Since(start)}
	record(name, res)
	return res
}

// Wait gives children started through Start up to grace to exit. It reports
// whether all of them did; the rest are left running.
func (e *Exec) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		e.logger.Info().
			Int64("running", e.running.Load()).
			Dur("grace", grace).
			Msg("leaving background commands running")
		return false
	}
}

// Running returns the number of started children not yet reaped.
func (e *Exec) Running() int {
	return int(e.running.Load())
}

func classify(ctx context.Context, cmd *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, cmd.Path)
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1, fmt.Errorf("%w: %s", ErrTimeout, cmd.Path)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), fmt.Errorf("%w: %s: %d", ErrExitStatus, cmd.Path, exitErr.ExitCode())
	}
	return -1, err
}

func record(name string, res Result) {
	outcome := "ok"
	switch {
	case res.OK():
	case errors.Is(res.Err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(res.Err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(res.Err, ErrExitStatus):
		outcome = "exit_status"
	default:
		outcome = "error"
	}
	telemetry.ExternalCalls.WithLabelValues(name, outcome).Inc()
}

func opName(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + args[0]
}
