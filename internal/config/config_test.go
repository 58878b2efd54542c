package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/easyaps/internal/clock"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EASYAPS_CONFIG", "")
	t.Setenv("EASYAPS_BASE_DIR", "/srv/easyaps")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RolloverHour != 4 {
		t.Fatalf("rollover hour = %d, want 4", cfg.RolloverHour)
	}
	if cfg.TimetableDir != "/srv/easyaps/data/csv" {
		t.Fatalf("timetable dir = %q", cfg.TimetableDir)
	}
	if cfg.FallbackFile != "/srv/easyaps/data/contents/dummy.m4a" {
		t.Fatalf("fallback file = %q", cfg.FallbackFile)
	}
	if cfg.PreloadThreshold != 10 || cfg.PreloadRetryInterval() != time.Minute || cfg.PreloadMaxAttempts != 60 {
		t.Fatalf("preload defaults = %d/%v/%d", cfg.PreloadThreshold, cfg.PreloadRetryInterval(), cfg.PreloadMaxAttempts)
	}
	if cfg.HTTPAddr() != "127.0.0.1:8090" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr())
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("EASYAPS_ROLLOVER_HOUR", "2")
	t.Setenv("EASYAPS_CONTENTS_DIR", "/music")
	t.Setenv("EASYAPS_JACK_PORTS", "a:out->b:in, c:out->d:in")
	t.Setenv("EASYAPS_STATUS_LINE", "no")
	t.Setenv("EASYAPS_HTTP_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RolloverHour != 2 {
		t.Fatalf("rollover hour = %d", cfg.RolloverHour)
	}
	if cfg.FallbackFile != "/music/dummy.m4a" {
		t.Fatalf("fallback follows contents dir, got %q", cfg.FallbackFile)
	}
	if len(cfg.JackPorts) != 2 || cfg.JackPorts[1] != "c:out->d:in" {
		t.Fatalf("jack ports = %q", cfg.JackPorts)
	}
	if cfg.StatusLine {
		t.Fatal("expected status line disabled")
	}
	if cfg.HTTPAddr() != "" {
		t.Fatalf("http addr = %q, want disabled", cfg.HTTPAddr())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easyaps.yaml")
	body := "rollover_hour: 5\npoll_ms: 250\ntimetable_dir: /data/tt\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EASYAPS_CONFIG", path)
	t.Setenv("EASYAPS_POLL_MS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RolloverHour != 5 || cfg.TimetableDir != "/data/tt" {
		t.Fatalf("file values not applied: %d %q", cfg.RolloverHour, cfg.TimetableDir)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Fatalf("env should win over file, poll = %v", cfg.PollInterval())
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easyaps.yaml")
	if err := os.WriteFile(path, []byte("day_end_hour: 4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Defaults().LoadFile(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestLoadFileEmptyIsFine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Defaults().LoadFile(path); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestValidateRejectsBadRollover(t *testing.T) {
	t.Setenv("EASYAPS_ROLLOVER_HOUR", "6")
	_, err := Load()
	if !errors.Is(err, clock.ErrInvalidRollover) {
		t.Fatalf("err = %v, want ErrInvalidRollover", err)
	}
}

func TestValidateSelections(t *testing.T) {
	cases := map[string]func(*Config){
		"zero poll":         func(c *Config) { c.PollMS = 0 },
		"s3 without bucket": func(c *Config) { c.TimetableSource = SourceS3 },
		"unknown source":    func(c *Config) { c.TimetableSource = "ftp" },
		"unknown bridge":    func(c *Config) { c.EventBridge = "kafka" },
		"unknown db":        func(c *Config) { c.DBDSN = "x"; c.DBBackend = "oracle" },
		"no ports":          func(c *Config) { c.JackPorts = nil },
		"sample rate":       func(c *Config) { c.TracingSampleRate = 2 },
		"negative buffer":   func(c *Config) { c.LogBuffer = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Defaults()
	cfg.TimetableSource = SourceS3
	cfg.S3Bucket = "timetables"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("s3 with bucket: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("DAY_END_HOUR", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) != 1 || !strings.Contains(cfg.LegacyEnvWarnings[0], "EASYAPS_ROLLOVER_HOUR") {
		t.Fatalf("warnings = %q", cfg.LegacyEnvWarnings)
	}
}
