package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/easyaps/internal/asrun"
	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/config"
	"github.com/friendsincode/easyaps/internal/db"
	"github.com/friendsincode/easyaps/internal/eventbus"
	"github.com/friendsincode/easyaps/internal/events"
	"github.com/friendsincode/easyaps/internal/extcmd"
	"github.com/friendsincode/easyaps/internal/live"
	"github.com/friendsincode/easyaps/internal/media"
	"github.com/friendsincode/easyaps/internal/playout"
	"github.com/friendsincode/easyaps/internal/preload"
	"github.com/friendsincode/easyaps/internal/schedule"
	"github.com/friendsincode/easyaps/internal/server"
	"github.com/friendsincode/easyaps/internal/status"
	"github.com/friendsincode/easyaps/internal/telemetry"
	"github.com/friendsincode/easyaps/internal/timeline"
	"github.com/friendsincode/easyaps/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run [rollover-hour]",
	Short: "Play today's timetable",
	Long:  "Load today's timetable, play each record at its scheduled time and keep loading the following days until the timetable runs out. The optional argument overrides the rollover hour (0-5).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStation,
}

func runStation(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if len(args) == 1 {
		if err := overrideRollover(cfg, args[0]); err != nil {
			return err
		}
	}

	ctx, stop := shutdownContext(cmd.Context())
	defer stop()

	err := station(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info().Msg("stopped")
		return nil
	case errors.Is(err, playout.ErrScheduleExhausted):
		logger.Info().Err(err).Msg("timetable finished")
		return nil
	default:
		return err
	}
}

// childGrace bounds how long shutdown waits for started players to exit.
const childGrace = 2 * time.Second

// shutdownContext is cancelled by the first SIGINT or SIGTERM. The handler is
// released right away so a second signal terminates the process.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

// overrideRollover applies the positional rollover argument.
func overrideRollover(c *config.Config, arg string) error {
	h, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", clock.ErrInvalidRollover, arg)
	}
	c.RolloverHour = h
	return c.Validate()
}

func station(ctx context.Context) error {
	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		Enabled:    cfg.TracingEnabled,
		Endpoint:   cfg.OTLPEndpoint,
		SampleRate: cfg.TracingSampleRate,
		Version:    version.Version,
		InstanceID: cfg.InstanceID,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	clk, err := clock.New(cfg.RolloverHour)
	if err != nil {
		return err
	}
	src, err := timetableSource(ctx)
	if err != nil {
		return err
	}
	loader := schedule.NewLoader(src, schedule.NewParser(clk), logger)

	today := clk.Today()
	logger.Info().
		Str("day", today.String()).
		Str("source", src.Describe(today)).
		Int("rollover_hour", clk.RolloverHour()).
		Msg("loading today's timetable")
	records, err := loader.FetchWithRetry(ctx, today, cfg.StartupRetryInterval(), cfg.StartupMaxAttempts)
	if err != nil {
		return fmt.Errorf("load timetable for %s: %w", today, err)
	}
	tl := timeline.New()
	if _, err := tl.Load(today, records); err != nil {
		return err
	}
	status.Banner(os.Stdout, clk, tl)

	bus := events.NewBus()
	runner := extcmd.NewExec(logger)
	defer runner.Wait(childGrace)

	route, err := newRouteController(runner, bus)
	if err != nil {
		return err
	}
	player := playout.NewAudacious(runner, playout.AudaciousConfig{
		Bin:        cfg.PlayerBin,
		CtlBin:     cfg.PlayerCtlBin,
		SeekDelay:  cfg.SeekDelay(),
		CtlTimeout: cfg.CommandTimeout(),
	}, logger)
	defer player.Wait()

	coord := preload.NewCoordinator(tl, loader, preload.Config{
		Threshold:     cfg.PreloadThreshold,
		RetryInterval: cfg.PreloadRetryInterval(),
		MaxAttempts:   cfg.PreloadMaxAttempts,
	}, bus, logger)
	defer coord.Wait()

	runID := uuid.NewString()
	dispatcher := playout.NewDispatcher(
		tl, clk,
		media.NewResolver(cfg.ContentsDir, cfg.FallbackFile, logger),
		route, coord, player, bus,
		playout.Config{PollInterval: cfg.PollInterval(), TailWaitCeiling: cfg.TailWaitCeiling()},
		logger,
		playout.WithRunID(runID),
	)
	collector := status.NewCollector(clk, tl, dispatcher, route, coord)

	// Subscribers attach before the dispatcher starts so the first record
	// is not missed.
	var recorder *asrun.Recorder
	if cfg.DBDSN != "" {
		database, err := db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect as-run database: %w", err)
		}
		defer func() {
			if err := db.Close(database); err != nil {
				logger.Error().Err(err).Msg("close as-run database")
			}
		}()
		if err := db.Migrate(database); err != nil {
			return err
		}
		recorder = asrun.NewRecorder(database, bus, logger)
	}
	bridge := openBridge(ctx)
	if bridge != nil {
		defer bridge.Close()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The station stops with the playout loop.
		defer cancelRun()
		return dispatcher.Run(gctx)
	})
	g.Go(func() error { return coord.Run(gctx) })
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if bridge != nil {
		g.Go(func() error { return bridge.Forward(gctx, bus) })
	}
	if cfg.StatusLine {
		reporter := status.NewReporter(collector, player, os.Stdout, cfg.PollInterval(), logger)
		g.Go(func() error { return reporter.Run(gctx) })
	}
	if addr := cfg.HTTPAddr(); addr != "" {
		var opts []server.Option
		if logs != nil {
			opts = append(opts, server.WithLogs(logs))
		}
		srv := server.New(addr, collector, coord, bus, logger, opts...)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				logger.Warn().Err(err).Msg("status server stopped; playout continues")
			}
			return nil
		})
	}

	logger.Info().Str("run_id", runID).Int("records", tl.Len()).Msg("playout starting")
	return g.Wait()
}

func timetableSource(ctx context.Context) (schedule.Source, error) {
	if cfg.TimetableSource == config.SourceS3 {
		src, err := schedule.NewS3Source(ctx, schedule.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("timetable source: %w", err)
		}
		return src, nil
	}
	return schedule.NewDirSource(cfg.TimetableDir, logger), nil
}

func newRouteController(runner extcmd.Runner, bus events.Publisher) (*live.Controller, error) {
	jcfg := live.JACKConfig{
		LspBin:        cfg.JackLspBin,
		ConnectBin:    cfg.JackConnectBin,
		DisconnectBin: cfg.JackDisconnectBin,
		Timeout:       cfg.CommandTimeout(),
	}
	for _, spec := range cfg.JackPorts {
		pair, err := live.ParsePortPair(spec)
		if err != nil {
			return nil, fmt.Errorf("jack_ports: %w", err)
		}
		jcfg.Pairs = append(jcfg.Pairs, pair)
	}
	return live.NewController(live.NewJACKRouter(runner, jcfg), bus, logger), nil
}

// openBridge connects the configured event bridge. A bridge that cannot
// connect is logged and skipped; it never blocks playout.
func openBridge(ctx context.Context) *eventbus.Bridge {
	b, err := connectBridge(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("bridge", cfg.EventBridge).Msg("event bridge unavailable, continuing without it")
		return nil
	}
	return b
}

func connectBridge(ctx context.Context) (*eventbus.Bridge, error) {
	switch cfg.EventBridge {
	case config.BridgeRedis:
		rcfg := eventbus.DefaultRedisConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		return eventbus.NewRedisBridge(ctx, rcfg, cfg.InstanceID, logger)
	case config.BridgeNATS:
		ncfg := eventbus.DefaultNATSConfig()
		ncfg.URL = cfg.NATSURL
		ncfg.Token = cfg.NATSToken
		return eventbus.NewNATSBridge(ncfg, cfg.InstanceID, logger)
	default:
		return nil, nil
	}
}
