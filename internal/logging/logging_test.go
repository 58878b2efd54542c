package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/logbuffer"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions(Options{Level: "warn", Format: "json", Out: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "preload").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["message"] != "shown" || entry["component"] != "preload" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestSetupLevelFromEnvironment(t *testing.T) {
	var buf bytes.Buffer
	if got := SetupWithOptions(Options{Environment: "development", Out: &buf}).GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("development level = %v", got)
	}
	if got := SetupWithOptions(Options{Environment: "production", Level: "bogus", Out: &buf}).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("production level = %v", got)
	}
}

func TestSetupCapturesIntoBuffer(t *testing.T) {
	var out bytes.Buffer
	buf := logbuffer.New(8)
	logger := SetupWithOptions(Options{Out: &out, Capture: buf})

	logger.Info().Str("component", "dispatcher").Msg("dispatched")

	entries := buf.Entries()
	if len(entries) != 1 || entries[0].Message != "dispatched" || entries[0].Component != "dispatcher" {
		t.Fatalf("captured = %+v", entries)
	}
	if !strings.Contains(out.String(), "dispatched") {
		t.Fatalf("console output = %q", out.String())
	}
}
