/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/easyaps/internal/clock"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Timetable source selection.
const (
	SourceDir = "dir"
	SourceS3  = "s3"
)

// Event bridge selection.
const (
	BridgeNone  = ""
	BridgeRedis = "redis"
	BridgeNATS  = "nats"
)

// Config covers process level configuration: built-in defaults, then an
// optional YAML file named by EASYAPS_CONFIG, then EASYAPS_* environment
// variables.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // console or json
	LogBuffer   int    `yaml:"log_buffer"` // recent lines kept for /api/v1/logs; 0 disables

	BaseDir      string `yaml:"base_dir"`
	TimetableDir string `yaml:"timetable_dir"` // default <base>/data/csv
	ContentsDir  string `yaml:"contents_dir"`  // default <base>/data/contents
	FallbackFile string `yaml:"fallback_file"` // default <contents>/dummy.m4a
	RolloverHour int    `yaml:"rollover_hour"`

	PreloadThreshold    int  `yaml:"preload_threshold"`
	PreloadRetrySeconds int  `yaml:"preload_retry_seconds"`
	PreloadMaxAttempts  int  `yaml:"preload_max_attempts"`
	StartupRetrySeconds int  `yaml:"startup_retry_seconds"`
	StartupMaxAttempts  int  `yaml:"startup_max_attempts"`
	TailWaitSeconds     int  `yaml:"tail_wait_seconds"`
	PollMS              int  `yaml:"poll_ms"`
	StatusLine          bool `yaml:"status_line"`

	// External programs
	PlayerBin         string   `yaml:"player_bin"`
	PlayerCtlBin      string   `yaml:"player_ctl_bin"`
	SeekDelayMS       int      `yaml:"seek_delay_ms"`
	JackLspBin        string   `yaml:"jack_lsp_bin"`
	JackConnectBin    string   `yaml:"jack_connect_bin"`
	JackDisconnectBin string   `yaml:"jack_disconnect_bin"`
	JackPorts         []string `yaml:"jack_ports"` // "from->to" pairs
	CommandTimeoutMS  int      `yaml:"command_timeout_ms"`

	// HTTP status surface; port 0 disables it
	HTTPBind string `yaml:"http_bind"`
	HTTPPort int    `yaml:"http_port"`

	// As-run log; empty DSN disables it
	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	// Timetable source
	TimetableSource   string `yaml:"timetable_source"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"`

	// Event bridge to other processes
	EventBridge   string `yaml:"event_bridge"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	NATSURL       string `yaml:"nats_url"`
	NATSToken     string `yaml:"nats_token"`
	InstanceID    string `yaml:"instance_id"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	LegacyEnvWarnings []string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	base := "easyaps"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, "easyaps")
	}
	return &Config{
		Environment: "production",
		LogLevel:    "info",
		LogFormat:   "console",
		LogBuffer:   2000,

		BaseDir:      base,
		RolloverHour: 4,

		PreloadThreshold:    10,
		PreloadRetrySeconds: 60,
		PreloadMaxAttempts:  60,
		StartupRetrySeconds: 60,
		StartupMaxAttempts:  1440,
		TailWaitSeconds:     300,
		PollMS:              1000,
		StatusLine:          true,

		PlayerBin:         "audacious",
		PlayerCtlBin:      "audtool",
		SeekDelayMS:       1000,
		JackLspBin:        "jack_lsp",
		JackConnectBin:    "jack_connect",
		JackDisconnectBin: "jack_disconnect",
		JackPorts:         []string{"system:capture_1->system:playback_1", "system:capture_2->system:playback_2"},
		CommandTimeoutMS:  3000,

		HTTPBind: "127.0.0.1",
		HTTPPort: 8090,

		DBBackend: DatabaseSQLite,

		TimetableSource: SourceDir,
		S3Region:        "us-east-1",

		RedisAddr: "localhost:6379",
		NATSURL:   "nats://localhost:4222",

		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}
}

// Load reads the configuration file and environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("EASYAPS_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.deriveDirs()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

// LoadFile overlays a YAML file onto cfg. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"EASYAPS_ENV"}, c.Environment)
	c.LogLevel = getEnvAny([]string{"EASYAPS_LOG_LEVEL"}, c.LogLevel)
	c.LogFormat = getEnvAny([]string{"EASYAPS_LOG_FORMAT"}, c.LogFormat)
	c.LogBuffer = getEnvIntAny([]string{"EASYAPS_LOG_BUFFER"}, c.LogBuffer)

	c.BaseDir = getEnvAny([]string{"EASYAPS_BASE_DIR"}, c.BaseDir)
	c.TimetableDir = getEnvAny([]string{"EASYAPS_TIMETABLE_DIR", "EASYAPS_CSV_DIR"}, c.TimetableDir)
	c.ContentsDir = getEnvAny([]string{"EASYAPS_CONTENTS_DIR"}, c.ContentsDir)
	c.FallbackFile = getEnvAny([]string{"EASYAPS_FALLBACK_FILE"}, c.FallbackFile)
	c.RolloverHour = getEnvIntAny([]string{"EASYAPS_ROLLOVER_HOUR"}, c.RolloverHour)

	c.PreloadThreshold = getEnvIntAny([]string{"EASYAPS_PRELOAD_THRESHOLD"}, c.PreloadThreshold)
	c.PreloadRetrySeconds = getEnvIntAny([]string{"EASYAPS_PRELOAD_RETRY_SECONDS"}, c.PreloadRetrySeconds)
	c.PreloadMaxAttempts = getEnvIntAny([]string{"EASYAPS_PRELOAD_MAX_ATTEMPTS"}, c.PreloadMaxAttempts)
	c.StartupRetrySeconds = getEnvIntAny([]string{"EASYAPS_STARTUP_RETRY_SECONDS"}, c.StartupRetrySeconds)
	c.StartupMaxAttempts = getEnvIntAny([]string{"EASYAPS_STARTUP_MAX_ATTEMPTS"}, c.StartupMaxAttempts)
	c.TailWaitSeconds = getEnvIntAny([]string{"EASYAPS_TAIL_WAIT_SECONDS"}, c.TailWaitSeconds)
	c.PollMS = getEnvIntAny([]string{"EASYAPS_POLL_MS"}, c.PollMS)
	c.StatusLine = getEnvBoolAny([]string{"EASYAPS_STATUS_LINE"}, c.StatusLine)

	c.PlayerBin = getEnvAny([]string{"EASYAPS_PLAYER_BIN"}, c.PlayerBin)
	c.PlayerCtlBin = getEnvAny([]string{"EASYAPS_PLAYER_CTL_BIN"}, c.PlayerCtlBin)
	c.SeekDelayMS = getEnvIntAny([]string{"EASYAPS_SEEK_DELAY_MS"}, c.SeekDelayMS)
	c.JackLspBin = getEnvAny([]string{"EASYAPS_JACK_LSP_BIN"}, c.JackLspBin)
	c.JackConnectBin = getEnvAny([]string{"EASYAPS_JACK_CONNECT_BIN"}, c.JackConnectBin)
	c.JackDisconnectBin = getEnvAny([]string{"EASYAPS_JACK_DISCONNECT_BIN"}, c.JackDisconnectBin)
	c.JackPorts = getEnvListAny([]string{"EASYAPS_JACK_PORTS"}, c.JackPorts)
	c.CommandTimeoutMS = getEnvIntAny([]string{"EASYAPS_COMMAND_TIMEOUT_MS"}, c.CommandTimeoutMS)

	c.HTTPBind = getEnvAny([]string{"EASYAPS_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"EASYAPS_HTTP_PORT"}, c.HTTPPort)

	c.DBBackend = DatabaseBackend(getEnvAny([]string{"EASYAPS_DB_BACKEND"}, string(c.DBBackend)))
	c.DBDSN = getEnvAny([]string{"EASYAPS_DB_DSN"}, c.DBDSN)

	c.TimetableSource = getEnvAny([]string{"EASYAPS_TIMETABLE_SOURCE"}, c.TimetableSource)
	c.S3AccessKeyID = getEnvAny([]string{"EASYAPS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnvAny([]string{"EASYAPS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, c.S3SecretAccessKey)
	c.S3Region = getEnvAny([]string{"EASYAPS_S3_REGION", "AWS_REGION"}, c.S3Region)
	c.S3Bucket = getEnvAny([]string{"EASYAPS_S3_BUCKET", "S3_BUCKET"}, c.S3Bucket)
	c.S3Prefix = getEnvAny([]string{"EASYAPS_S3_PREFIX"}, c.S3Prefix)
	c.S3Endpoint = getEnvAny([]string{"EASYAPS_S3_ENDPOINT", "S3_ENDPOINT"}, c.S3Endpoint)
	c.S3UsePathStyle = getEnvBoolAny([]string{"EASYAPS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, c.S3UsePathStyle)

	c.EventBridge = getEnvAny([]string{"EASYAPS_EVENT_BRIDGE"}, c.EventBridge)
	c.RedisAddr = getEnvAny([]string{"EASYAPS_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"EASYAPS_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"EASYAPS_REDIS_DB"}, c.RedisDB)
	c.NATSURL = getEnvAny([]string{"EASYAPS_NATS_URL", "NATS_URL"}, c.NATSURL)
	c.NATSToken = getEnvAny([]string{"EASYAPS_NATS_TOKEN"}, c.NATSToken)
	c.InstanceID = getEnvAny([]string{"EASYAPS_INSTANCE_ID"}, c.InstanceID)

	c.TracingEnabled = getEnvBoolAny([]string{"EASYAPS_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"EASYAPS_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"EASYAPS_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)
}

func (c *Config) deriveDirs() {
	if c.TimetableDir == "" {
		c.TimetableDir = filepath.Join(c.BaseDir, "data", "csv")
	}
	if c.ContentsDir == "" {
		c.ContentsDir = filepath.Join(c.BaseDir, "data", "contents")
	}
	if c.FallbackFile == "" {
		c.FallbackFile = filepath.Join(c.ContentsDir, "dummy.m4a")
	}
}

// Validate checks ranges and selections.
func (c *Config) Validate() error {
	if c.RolloverHour < 0 || c.RolloverHour > clock.MaxRolloverHour {
		return fmt.Errorf("%w: got %d", clock.ErrInvalidRollover, c.RolloverHour)
	}

	positive := map[string]int{
		"preload_retry_seconds": c.PreloadRetrySeconds,
		"preload_max_attempts":  c.PreloadMaxAttempts,
		"startup_retry_seconds": c.StartupRetrySeconds,
		"tail_wait_seconds":     c.TailWaitSeconds,
		"poll_ms":               c.PollMS,
		"command_timeout_ms":    c.CommandTimeoutMS,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.StartupMaxAttempts < 0 {
		return fmt.Errorf("startup_max_attempts must not be negative, got %d", c.StartupMaxAttempts)
	}
	if c.LogBuffer < 0 {
		return fmt.Errorf("log_buffer must not be negative, got %d", c.LogBuffer)
	}
	if c.SeekDelayMS < 0 {
		return fmt.Errorf("seek_delay_ms must not be negative, got %d", c.SeekDelayMS)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}

	if c.DBDSN != "" && c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.TimetableSource {
	case SourceDir:
	case SourceS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("EASYAPS_S3_BUCKET must be provided when the timetable source is s3")
		}
	default:
		return fmt.Errorf("unsupported timetable source %q", c.TimetableSource)
	}

	switch c.EventBridge {
	case BridgeNone, BridgeRedis, BridgeNATS:
	default:
		return fmt.Errorf("unsupported event bridge %q", c.EventBridge)
	}

	if len(c.JackPorts) == 0 {
		return fmt.Errorf("jack_ports must list at least one port pair")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing_sample_rate must be within 0..1, got %v", c.TracingSampleRate)
	}
	return nil
}

// PollInterval is the dispatcher's wait granularity.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}

// TailWaitCeiling bounds the wait for the next day at the end of the timeline.
func (c *Config) TailWaitCeiling() time.Duration {
	return time.Duration(c.TailWaitSeconds) * time.Second
}

// PreloadRetryInterval is the wait between next-day fetch attempts.
func (c *Config) PreloadRetryInterval() time.Duration {
	return time.Duration(c.PreloadRetrySeconds) * time.Second
}

// StartupRetryInterval is the wait between attempts to find today's timetable.
func (c *Config) StartupRetryInterval() time.Duration {
	return time.Duration(c.StartupRetrySeconds) * time.Second
}

// SeekDelay is how long the player gets to load a file before seeking.
func (c *Config) SeekDelay() time.Duration {
	return time.Duration(c.SeekDelayMS) * time.Millisecond
}

// CommandTimeout bounds each external control command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// HTTPAddr returns the status server address, or "" when disabled.
func (c *Config) HTTPAddr() string {
	if c.HTTPPort == 0 {
		return ""
	}
	return c.HTTPBind + ":" + strconv.Itoa(c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DAY_END_HOUR":         "use EASYAPS_ROLLOVER_HOUR or the run argument",
		"EASYAPS_DAY_END_HOUR": "use EASYAPS_ROLLOVER_HOUR",
		"EASYAPS_CSV_DIR":      "use EASYAPS_TIMETABLE_DIR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny splits the first set variable on commas.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out
		}
	}
	return def
}
