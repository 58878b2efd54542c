package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/easyaps/internal/config"
	"github.com/friendsincode/easyaps/internal/logbuffer"
	"github.com/friendsincode/easyaps/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   *logbuffer.Buffer // nil when log_buffer is 0
)

var rootCmd = &cobra.Command{
	Use:           "easyaps",
	Short:         "easyaps - unattended timetable playout",
	Long:          "easyaps plays a per-day timetable through an external player and switches the studio audio route when the timetable calls for a live segment.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, checkCmd, watchCmd, asrunCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogBuffer > 0 {
		logs = logbuffer.New(cfg.LogBuffer)
	}
	logger = logging.SetupWithOptions(logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Capture:     logs,
	})
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	return nil
}
