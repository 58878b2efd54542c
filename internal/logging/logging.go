/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/easyaps/internal/logbuffer"
)

// Options selects where and how the process logs.
type Options struct {
	Environment string
	Level       string // zerolog level name; empty picks one from Environment
	Format      string // "json" or "console"
	Out         io.Writer
	Capture     *logbuffer.Buffer // optional copy of every line
}

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithOptions(Options{Environment: environment})
}

// SetupWithOptions configures zerolog and installs the result as the global
// logger. Logs go to stderr by default so the status line owns stdout.
func SetupWithOptions(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if opts.Environment == "development" {
		level = zerolog.DebugLevel
	}
	if opts.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil {
			level = parsed
		}
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var writer io.Writer = out
	if opts.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	if opts.Capture != nil {
		writer = zerolog.MultiLevelWriter(writer, logbuffer.NewWriter(opts.Capture))
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
