package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/clock"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/codec"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/ingestion"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/input"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/sink"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/tracing"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/window"
)

const (
	statsInterval = 30 * time.Second
	flushTimeout  = 5 * time.Second

	deadLetterReportLimit = 10
)

func newRunCommand() *cobra.Command {
	var (
		configFile string
		logLevel   string
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Ingest from the configured source and emit windowed records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			logger, level, err := initLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, configFile, logger, level)
		},
	}

	command.Flags().StringVarP(&configFile, "config", "c", "inlet.yaml", "Path to configuration file")
	command.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	return command
}

// loadConfig reads path when it exists and falls back to defaults otherwise.
// INLET_* environment variables apply either way.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefaultWithEnv(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, configFile string, logger *zap.Logger, level zap.AtomicLevel) (err error) {
	logger.Info("Starting inlet",
		zap.String("version", version),
		zap.String("config", configFile),
		zap.String("environment", cfg.Application.Environment))

	tp, err := tracing.NewProvider(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = multierr.Append(err, tp.Shutdown(shutdownCtx))
	}()

	if err := otelruntime.Start(otelruntime.WithMeterProvider(otel.GetMeterProvider())); err != nil {
		logger.Warn("Runtime instrumentation not started", zap.Error(err))
	}

	collector := metrics.NewCollector(logger)
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, collector, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer server.Stop()
	}

	adapter, err := ingestion.NewAdapter(cfg.Adapter, logger)
	if err != nil {
		return err
	}
	decoder, err := codec.NewDecoder(cfg.Codec, logger)
	if err != nil {
		return err
	}
	sinks, err := sink.Build(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	sinks = sink.WrapBreakers(sinks, cfg.Sinks.Breaker, collector, logger)

	opts := []input.Option{
		input.WithMetrics(collector),
		input.WithTracerProvider(tp.TracerProvider()),
	}
	if cfg.DeadLetter.Enabled {
		dlq := inerrors.NewInMemoryDLQ(cfg.DeadLetter.MaxSize)
		defer dlq.Close()
		defer reportDeadLetters(dlq, logger)
		opts = append(opts, input.WithDeadLetterQueue(dlq))
	}

	in := input.New(cfg.Adapter, adapter, decoder, logger, opts...)
	for _, s := range sinks {
		if err := in.AddSink(s.Name, s.Sink); err != nil {
			return multierr.Append(err, in.Teardown())
		}
	}

	if err := in.Setup(ctx); err != nil {
		return multierr.Append(err, in.Teardown())
	}
	defer func() {
		flushSinks(sinks, logger)
		err = multierr.Append(err, in.Teardown())
	}()

	wc, err := windowConfig(cfg.Window)
	if err != nil {
		return err
	}
	clk, err := clock.NewWallClock(wc.FirstWindow, wc.TickWidth, wc.TicksPerWindow())
	if err != nil {
		return err
	}
	scheduler, err := window.NewScheduler(wc, clk, logger, window.WithMetrics(collector))
	if err != nil {
		return err
	}
	if err := scheduler.Register(in.Name(), in); err != nil {
		return err
	}

	if err := in.Activate(ctx); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	if rc := watchConfig(configFile, in, level, logger); rc != nil {
		defer rc.Stop()
	}

	logger.Info("inlet is running. Press Ctrl+C to stop.",
		zap.String("adapter", in.Name()),
		zap.Stringer("window", wc))

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully...")
			return nil

		case <-workerDone(in):
			// the source went away; keep draining what is buffered until stopped
			if w := in.Worker(); w != nil && w.Err() != nil {
				logger.Error("Ingestion stopped", zap.Error(w.Err()))
			}
			_ = in.Deactivate()

		case <-ticker.C:
			stats := in.Stats()
			logger.Info("Input stats",
				zap.Uint64("window", uint64(stats.Window)),
				zap.Int("buffered", stats.Buffered),
				zap.Uint64("read", stats.Read),
				zap.Uint64("dropped", stats.Dropped),
				zap.Uint64("emitted", stats.Emitted),
				zap.Uint64("decode_failures", stats.DecodeFailures),
				zap.Int64("dead_lettered", stats.DeadLettered),
				zap.Uint64("sink_errors", stats.SinkErrors))
		}
	}
}

// reportDeadLetters logs what the dead letter queue retained before it is
// released, oldest first
func reportDeadLetters(dlq *inerrors.InMemoryDLQ, logger *zap.Logger) {
	ctx := context.Background()
	count, _ := dlq.Count(ctx)
	if count == 0 && dlq.Evicted() == 0 {
		return
	}
	logger.Warn("Dead letter queue holds undecodable items",
		zap.Int64("retained", count),
		zap.Int64("evicted", dlq.Evicted()))

	failed, err := dlq.Read(ctx, deadLetterReportLimit)
	if err != nil {
		logger.Warn("Failed to read dead letter queue", zap.Error(err))
		return
	}
	for _, f := range failed {
		logger.Warn("Dead letter",
			zap.String("source", f.Source),
			zap.Uint64("window", f.Window),
			zap.String("category", f.FailureCategory),
			zap.String("reason", f.FailureReason),
			zap.Int("payload_bytes", len(f.Payload)))
	}
}

// workerDone returns a channel that closes when the running worker exits,
// or nil (never ready) when there is none
func workerDone(in *input.Input) <-chan struct{} {
	if w := in.Worker(); w != nil {
		return w.Done()
	}
	return nil
}

// watchConfig applies blast size and log level changes from the config file
func watchConfig(path string, in *input.Input, level zap.AtomicLevel, logger *zap.Logger) *config.ReloadableConfig {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	rc, err := config.NewReloadableConfig(path, logger)
	if err != nil {
		logger.Warn("Configuration hot reload disabled", zap.Error(err))
		return nil
	}

	rc.OnReload(func(old, next *config.Config) error {
		if next.Adapter.BlastSize != old.Adapter.BlastSize {
			if err := in.SetBlastSize(next.Adapter.BlastSize); err != nil {
				return err
			}
		}
		if next.Logging.Level != old.Logging.Level {
			level.SetLevel(parseLevel(next.Logging.Level))
		}
		return nil
	})
	rc.Start()
	return rc
}

func flushSinks(sinks []sink.Named, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for _, s := range sinks {
		if err := s.Sink.Flush(ctx); err != nil {
			logger.Warn("Failed to flush sink on shutdown", zap.String("sink", s.Name), zap.Error(err))
		}
	}
}
